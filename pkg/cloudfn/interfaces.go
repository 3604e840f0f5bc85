package cloudfn

import (
	"context"
	"encoding/json"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"go.uber.org/zap"

	"github.com/anirudhbiyani/cloud-functions/internal/config"
)

// Function is a single deployable event handler.
type Function interface {
	// Name returns the function identifier.
	Name() FunctionName

	// Invoke handles one raw event payload and returns a JSON-serializable result.
	Invoke(ctx context.Context, payload json.RawMessage) (any, error)
}

// Invoker dispatches a payload to another function.
// With InvocationEvent the call returns as soon as the invocation is queued.
type Invoker interface {
	Invoke(ctx context.Context, function string, payload any, mode InvocationType) ([]byte, error)
}

// Dependencies are handed to a FunctionFactory when the function is first created.
type Dependencies struct {
	Config  *config.Config
	Logger  *zap.Logger
	AWS     aws.Config
	Invoker Invoker
}

// FunctionFactory creates functions with configuration.
type FunctionFactory interface {
	// Create instantiates a function from the shared dependencies.
	Create(ctx context.Context, deps Dependencies) (Function, error)
}

// FactoryFunc adapts a plain function to FunctionFactory.
type FactoryFunc func(ctx context.Context, deps Dependencies) (Function, error)

// Create implements FunctionFactory.
func (f FactoryFunc) Create(ctx context.Context, deps Dependencies) (Function, error) {
	return f(ctx, deps)
}

// Definition describes a registered function.
type Definition struct {
	Name         FunctionName
	Description  string
	Trigger      Trigger
	Capabilities []Capability
	Factory      FunctionFactory
}

// HasCapability checks if the function supports a capability.
func (d Definition) HasCapability(c Capability) bool {
	return slices.Contains(d.Capabilities, c)
}

// HandlerFunc is a typed event handler.
type HandlerFunc[In, Out any] func(ctx context.Context, in In) (Out, error)

type typedFunction[In, Out any] struct {
	name    FunctionName
	handler HandlerFunc[In, Out]
}

// NewFunction wraps a typed handler as a Function. An empty or null payload
// leaves the input at its zero value.
func NewFunction[In, Out any](name FunctionName, handler HandlerFunc[In, Out]) Function {
	return &typedFunction[In, Out]{name: name, handler: handler}
}

func (f *typedFunction[In, Out]) Name() FunctionName {
	return f.name
}

func (f *typedFunction[In, Out]) Invoke(ctx context.Context, payload json.RawMessage) (any, error) {
	var in In
	if trimmed := strings.TrimSpace(string(payload)); trimmed != "" && trimmed != "null" {
		if err := json.Unmarshal(payload, &in); err != nil {
			return nil, ErrValidation("invalid event payload").WithFunction(f.name).WithCause(err)
		}
	}
	return f.handler(ctx, in)
}

type loggerKey struct{}

// ContextWithLogger returns a copy of ctx carrying logger.
func ContextWithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// Logger returns the invocation logger stored in ctx, or fallback.
func Logger(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	if fallback != nil {
		return fallback
	}
	return zap.NewNop()
}
