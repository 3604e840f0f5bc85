package janitor

import (
	"context"

	"go.uber.org/zap"

	"github.com/anirudhbiyani/cloud-functions/pkg/cloudfn"
)

// StatusResult is the status recorder's output and the monitor's input.
type StatusResult struct {
	Event   cloudfn.StackEvent `json:"event"`
	Results StatusResults      `json:"results"`
}

// StatusResults carries the janitor decision and the tags it was made from.
type StatusResults struct {
	StackJanitor cloudfn.JanitorStatus `json:"stackjanitor"`
	Tags         map[string]string     `json:"tags,omitempty"`
}

// StatusRecorder decides whether a stack event concerns a janitor-managed stack.
type StatusRecorder struct {
	stacks   StackAPI
	records  cloudfn.RecordStore
	settings Settings
	opts     options
}

// NewStatusRecorder creates a StatusRecorder.
func NewStatusRecorder(stacks StackAPI, records cloudfn.RecordStore, settings Settings, opts ...Option) *StatusRecorder {
	return &StatusRecorder{stacks: stacks, records: records, settings: settings, opts: buildOptions(opts)}
}

// Record resolves the stack's tags and derives its janitor status. Tags come
// from the request for CreateStack and from CloudFormation otherwise; any
// lookup failure yields a disabled status. An update that disables the janitor
// removes the stack's tracking record. Record never fails.
func (r *StatusRecorder) Record(ctx context.Context, ev cloudfn.StackEvent) (*StatusResult, error) {
	logger := cloudfn.Logger(ctx, r.opts.logger).With(
		zap.String("stack", ev.StackName()),
		zap.String("event", ev.Detail.EventName))

	tags, err := r.tags(ctx, ev)
	status := cloudfn.JanitorDisabled
	if err != nil {
		logger.Error("resolving stack tags failed, treating janitor as disabled", zap.Error(err))
	} else {
		status = r.settings.Status(tags)
	}

	if ev.Detail.EventName == cloudfn.EventUpdateStack && status == cloudfn.JanitorDisabled {
		if err := untrack(ctx, r.records, ev); err != nil {
			logger.Error("removing tracking record failed", zap.Error(err))
		} else {
			logger.Info("janitor disabled, tracking record removed")
		}
	}

	logger.Debug("janitor status resolved", zap.String("status", string(status)))
	return &StatusResult{
		Event:   ev,
		Results: StatusResults{StackJanitor: status, Tags: tags},
	}, nil
}

func (r *StatusRecorder) tags(ctx context.Context, ev cloudfn.StackEvent) (map[string]string, error) {
	if ev.Detail.EventName == cloudfn.EventCreateStack {
		return ev.Detail.RequestParameters.Tags.Map(), nil
	}
	stack, err := r.stacks.DescribeStack(ctx, ev.StackName())
	if err != nil {
		return nil, err
	}
	return stack.Tags, nil
}
