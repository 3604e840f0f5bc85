// Package janitor removes CloudFormation stacks that opted in to automatic
// deletion once their time-to-live has passed.
//
// Four functions cooperate:
//
//   - stack-status turns a CloudTrail stack event into an enabled/disabled decision.
//   - stack-monitor records enabled stacks with an expiration time.
//   - stack-reaper deletes stacks whose record expired from the DynamoDB table.
//   - stack-sweeper is a scheduled fallback that scans every stack directly.
package janitor

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/anirudhbiyani/cloud-functions/internal/config"
	"github.com/anirudhbiyani/cloud-functions/pkg/cloudfn"
)

// StackAPI is the CloudFormation surface the janitor needs.
type StackAPI interface {
	ListStacks(ctx context.Context) ([]cloudfn.Stack, error)
	DescribeStack(ctx context.Context, nameOrID string) (*cloudfn.Stack, error)
	DeleteStack(ctx context.Context, nameOrID string) error
}

// Settings controls which stacks are managed and when they expire.
type Settings struct {
	// TagKey and TagValue mark a stack as managed, e.g. stackjanitor=enabled.
	TagKey   string
	TagValue string
	// TTLTagKey names an optional per-stack tag holding a Go duration that
	// replaces ExpirationPeriod.
	TTLTagKey        string
	ExpirationPeriod time.Duration
	// DeleteInterval is the minimum time left before a tracked stack is deleted.
	DeleteInterval    time.Duration
	MaxDeleteAttempts int
	Concurrency       int
}

// SettingsFromConfig converts the janitor configuration section.
func SettingsFromConfig(cfg config.JanitorConfig) Settings {
	return Settings{
		TagKey:            cfg.TagKey,
		TagValue:          cfg.TagValue,
		TTLTagKey:         cfg.TTLTagKey,
		ExpirationPeriod:  cfg.ExpirationPeriod,
		DeleteInterval:    cfg.DeleteInterval,
		MaxDeleteAttempts: cfg.MaxDeleteAttempts,
		Concurrency:       cfg.Concurrency,
	}
}

// Status returns enabled when the janitor tag carries the enabled value.
// The comparison ignores case and surrounding blanks.
func (s Settings) Status(tags map[string]string) cloudfn.JanitorStatus {
	v, ok := tags[s.TagKey]
	if ok && strings.EqualFold(strings.TrimSpace(v), s.TagValue) {
		return cloudfn.JanitorEnabled
	}
	return cloudfn.JanitorDisabled
}

// TTL returns the stack's time-to-live. Unparseable or non-positive
// overrides fall back to ExpirationPeriod.
func (s Settings) TTL(tags map[string]string) time.Duration {
	if s.TTLTagKey == "" {
		return s.ExpirationPeriod
	}
	raw, ok := tags[s.TTLTagKey]
	if !ok {
		return s.ExpirationPeriod
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || d <= 0 {
		return s.ExpirationPeriod
	}
	return d
}

// Expiration computes when a stack touched at eventTime should be deleted.
// A stack never expires sooner than DeleteInterval from now.
func (s Settings) Expiration(eventTime, now time.Time, tags map[string]string) time.Time {
	if eventTime.IsZero() {
		eventTime = now
	}
	expiration := eventTime.Add(s.TTL(tags))
	if expiration.Sub(now) <= s.DeleteInterval {
		return now.Add(s.DeleteInterval)
	}
	return expiration
}

// encodeTags serializes tags the way CloudTrail reports them, sorted by key.
func encodeTags(tags map[string]string) string {
	data, err := json.Marshal(cloudfn.TagsFromMap(tags))
	if err != nil {
		return "[]"
	}
	return string(data)
}

// Option configures the janitor functions.
type Option func(*options)

type options struct {
	logger *zap.Logger
	now    func() time.Time
}

// WithLogger sets the fallback logger used outside a Runtime invocation.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// untrack removes the tracking record for the stack an event refers to. When
// the event does not carry the stack id every record with the stack's name is removed.
func untrack(ctx context.Context, records cloudfn.RecordStore, ev cloudfn.StackEvent) error {
	if id := ev.StackID(); cloudfn.IsStackARN(id) {
		return records.Delete(ctx, cloudfn.RecordKey{StackName: ev.StackName(), StackID: id})
	}
	recs, err := records.List(ctx, cloudfn.ListFilter{StackName: ev.StackName()})
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if err := records.Delete(ctx, rec.Key()); err != nil {
			return err
		}
	}
	return nil
}
