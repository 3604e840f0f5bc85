package janitor

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/anirudhbiyani/cloud-functions/pkg/cloudfn"
)

// Monitor outcomes.
const (
	ResultSuccess = "success"
	ResultIgnore  = "ignore"
)

// Monitor keeps one tracking record per janitor-managed stack.
type Monitor struct {
	records  cloudfn.RecordStore
	settings Settings
	opts     options
}

// NewMonitor creates a Monitor.
func NewMonitor(records cloudfn.RecordStore, settings Settings, opts ...Option) *Monitor {
	return &Monitor{records: records, settings: settings, opts: buildOptions(opts)}
}

// DecodeMonitorInput accepts either a StatusResult or a bare stack event.
// For a bare event the status is derived from the request tags.
func (m *Monitor) DecodeMonitorInput(payload json.RawMessage) (*StatusResult, error) {
	var result StatusResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, cloudfn.ErrValidation("invalid monitor payload").WithCause(err)
	}
	if result.Event.Detail.EventName != "" {
		return &result, nil
	}

	var ev cloudfn.StackEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, cloudfn.ErrValidation("invalid stack event").WithCause(err)
	}
	if ev.Detail.EventName == "" {
		return nil, cloudfn.ErrValidation("payload carries no stack event")
	}
	tags := ev.Detail.RequestParameters.Tags.Map()
	return &StatusResult{
		Event:   ev,
		Results: StatusResults{StackJanitor: m.settings.Status(tags), Tags: tags},
	}, nil
}

// Handle upserts the record on create and update, removes it on delete and
// ignores everything else. Store failures are logged and reported as ignore.
func (m *Monitor) Handle(ctx context.Context, in StatusResult) (string, error) {
	ev := in.Event
	logger := cloudfn.Logger(ctx, m.opts.logger).With(
		zap.String("stack", ev.StackName()),
		zap.String("event", ev.Detail.EventName))

	if in.Results.StackJanitor != cloudfn.JanitorEnabled {
		logger.Debug("janitor not enabled for stack")
		return ResultIgnore, nil
	}

	tags := in.Results.Tags
	if tags == nil {
		tags = ev.Detail.RequestParameters.Tags.Map()
	}

	switch ev.Detail.EventName {
	case cloudfn.EventCreateStack, cloudfn.EventUpdateStack:
		expiration := m.settings.Expiration(ev.Detail.EventTime, m.opts.now(), tags)
		rec := cloudfn.JanitorRecord{
			StackName:      ev.StackName(),
			StackID:        ev.StackID(),
			ExpirationTime: expiration.Unix(),
			Tags:           encodeTags(tags),
			DeleteCount:    0,
		}
		if err := m.records.Put(ctx, rec); err != nil {
			logger.Error("storing tracking record failed", zap.Error(err))
			return ResultIgnore, nil
		}
		logger.Info("stack tracked", zap.Time("expires", expiration))
	case cloudfn.EventDeleteStack:
		if err := untrack(ctx, m.records, ev); err != nil {
			logger.Error("removing tracking record failed", zap.Error(err))
			return ResultIgnore, nil
		}
		logger.Info("stack untracked")
	default:
		logger.Debug("event not handled")
		return ResultIgnore, nil
	}
	return ResultSuccess, nil
}

// Invoke decodes either payload shape and handles it.
func (m *Monitor) Invoke(ctx context.Context, payload json.RawMessage) (string, error) {
	in, err := m.DecodeMonitorInput(payload)
	if err != nil {
		return "", err
	}
	return m.Handle(ctx, *in)
}
