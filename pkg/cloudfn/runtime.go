package cloudfn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/anirudhbiyani/cloud-functions/internal/logging"
)

// Runtime resolves functions from a registry and runs them with logging,
// timeouts and invocation ids. It also implements Invoker in-process.
type Runtime struct {
	registry *Registry
	deps     Dependencies
	logger   *zap.Logger
	timeout  time.Duration

	// pending tracks fire-and-forget invocations.
	pending sync.WaitGroup
}

// RuntimeOption configures the Runtime.
type RuntimeOption func(*Runtime)

// WithRegistry sets the function registry.
func WithRegistry(r *Registry) RuntimeOption {
	return func(rt *Runtime) {
		rt.registry = r
	}
}

// WithDependencies sets the dependencies handed to function factories.
func WithDependencies(deps Dependencies) RuntimeOption {
	return func(rt *Runtime) {
		rt.deps = deps
	}
}

// WithLogger sets the runtime logger.
func WithLogger(l *zap.Logger) RuntimeOption {
	return func(rt *Runtime) {
		rt.logger = l
	}
}

// WithTimeout bounds every invocation. Zero means no bound beyond the caller's context.
func WithTimeout(d time.Duration) RuntimeOption {
	return func(rt *Runtime) {
		rt.timeout = d
	}
}

// NewRuntime creates a Runtime with the given options. When no Invoker is
// configured the runtime dispatches to itself.
func NewRuntime(opts ...RuntimeOption) *Runtime {
	rt := &Runtime{
		registry: DefaultRegistry,
		logger:   zap.NewNop(),
	}

	for _, opt := range opts {
		opt(rt)
	}

	if rt.deps.Logger == nil {
		rt.deps.Logger = rt.logger
	}
	if rt.deps.Invoker == nil {
		rt.deps.Invoker = rt
	}
	return rt
}

// Registry returns the registry the runtime resolves functions from.
func (rt *Runtime) Registry() *Registry {
	return rt.registry
}

// Run invokes the named function with a raw payload.
func (rt *Runtime) Run(ctx context.Context, name FunctionName, payload json.RawMessage) (any, error) {
	fn, err := rt.registry.GetOrCreate(ctx, name, rt.deps)
	if err != nil {
		return nil, err
	}

	id, ok := logging.RequestID(ctx)
	if !ok {
		id = uuid.NewString()
	}
	logger := logging.ForInvocation(ctx, rt.logger, string(name)).With(zap.String("invocation_id", id))
	ctx = ContextWithLogger(ctx, logger)

	if rt.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rt.timeout)
		defer cancel()
	}

	start := time.Now()
	logger.Debug("invocation started", zap.Int("payload_bytes", len(payload)))

	out, err := fn.Invoke(ctx, payload)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !IsCategory(err, ErrCategoryTimeout) {
		err = ErrTimeout("invocation deadline exceeded").WithFunction(name).WithCause(err)
	}

	fields := []zap.Field{zap.Duration("duration", time.Since(start))}
	if err != nil {
		fields = append(fields, zap.Error(err), zap.String("category", string(CategoryOf(err))))
		logger.Error("invocation failed", fields...)
		return out, err
	}
	logger.Info("invocation finished", fields...)
	return out, nil
}

// Invoke implements Invoker. Event invocations run on their own goroutine,
// detached from the caller's cancellation, and are awaited by Wait.
func (rt *Runtime) Invoke(ctx context.Context, function string, payload any, mode InvocationType) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, ErrValidation("payload is not serializable").WithCause(err)
	}
	name := FunctionName(function)

	switch mode {
	case InvocationEvent:
		if _, err := rt.registry.Definition(name); err != nil {
			if _, cached := rt.cached(name); !cached {
				return nil, err
			}
		}
		detached := context.WithoutCancel(ctx)
		rt.pending.Add(1)
		go func() {
			defer rt.pending.Done()
			if _, err := rt.Run(detached, name, raw); err != nil {
				rt.logger.Warn("asynchronous invocation failed",
					zap.String("target", function), zap.Error(err))
			}
		}()
		return nil, nil
	case InvocationRequestResponse, "":
		out, err := rt.Run(ctx, name, raw)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("marshal %s result: %w", function, err)
		}
		return data, nil
	default:
		return nil, ErrValidation(fmt.Sprintf("unsupported invocation type %q", mode))
	}
}

func (rt *Runtime) cached(name FunctionName) (Function, bool) {
	rt.registry.mu.RLock()
	defer rt.registry.mu.RUnlock()
	fn, ok := rt.registry.instances[name]
	return fn, ok
}

// Wait blocks until every fire-and-forget invocation has finished.
func (rt *Runtime) Wait() {
	rt.pending.Wait()
}
