package janitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/anirudhbiyani/cloud-functions/pkg/cloudfn"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func testSettings() Settings {
	return Settings{
		TagKey:            "stackjanitor",
		TagValue:          "enabled",
		TTLTagKey:         "stackjanitor-ttl",
		ExpirationPeriod:  7 * 24 * time.Hour,
		DeleteInterval:    time.Hour,
		MaxDeleteAttempts: 3,
		Concurrency:       2,
	}
}

func fixedClock() Option {
	return WithClock(func() time.Time { return testNow })
}

type fakeStacks struct {
	mu          sync.Mutex
	stacks      []cloudfn.Stack
	listErr     error
	describeErr error
	deleteErr   map[string]error
	deleted     []string
}

func (f *fakeStacks) ListStacks(ctx context.Context) ([]cloudfn.Stack, error) {
	return f.stacks, f.listErr
}

func (f *fakeStacks) DescribeStack(ctx context.Context, nameOrID string) (*cloudfn.Stack, error) {
	if f.describeErr != nil {
		return nil, f.describeErr
	}
	for _, st := range f.stacks {
		if st.Name == nameOrID || st.ID == nameOrID {
			return &st, nil
		}
	}
	return nil, cloudfn.ErrNotFound("stack", nameOrID)
}

func (f *fakeStacks) DeleteStack(ctx context.Context, nameOrID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.deleteErr[nameOrID]; err != nil {
		return err
	}
	f.deleted = append(f.deleted, nameOrID)
	return nil
}

func TestSettingsStatus(t *testing.T) {
	s := testSettings()
	tests := []struct {
		name string
		tags map[string]string
		want cloudfn.JanitorStatus
	}{
		{"enabled", map[string]string{"stackjanitor": "enabled"}, cloudfn.JanitorEnabled},
		{"case and blanks", map[string]string{"stackjanitor": " Enabled "}, cloudfn.JanitorEnabled},
		{"other value", map[string]string{"stackjanitor": "off"}, cloudfn.JanitorDisabled},
		{"missing", map[string]string{"team": "web"}, cloudfn.JanitorDisabled},
		{"nil", nil, cloudfn.JanitorDisabled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.Status(tt.tags))
		})
	}
}

func TestSettingsTTL(t *testing.T) {
	s := testSettings()
	assert.Equal(t, 48*time.Hour, s.TTL(map[string]string{"stackjanitor-ttl": "48h"}))
	assert.Equal(t, s.ExpirationPeriod, s.TTL(map[string]string{"stackjanitor-ttl": "soon"}))
	assert.Equal(t, s.ExpirationPeriod, s.TTL(map[string]string{"stackjanitor-ttl": "-1h"}))
	assert.Equal(t, s.ExpirationPeriod, s.TTL(nil))

	s.TTLTagKey = ""
	assert.Equal(t, s.ExpirationPeriod, s.TTL(map[string]string{"stackjanitor-ttl": "48h"}))
}

func TestSettingsExpiration(t *testing.T) {
	s := testSettings()

	got := s.Expiration(testNow.Add(-time.Hour), testNow, nil)
	assert.Equal(t, testNow.Add(-time.Hour).Add(s.ExpirationPeriod), got)

	// An event old enough to be almost expired is pushed out to the delete interval.
	got = s.Expiration(testNow.Add(-s.ExpirationPeriod), testNow, nil)
	assert.Equal(t, testNow.Add(s.DeleteInterval), got)

	got = s.Expiration(time.Time{}, testNow, map[string]string{"stackjanitor-ttl": "2h"})
	assert.Equal(t, testNow.Add(2*time.Hour), got)
}

func TestEncodeTagsSorted(t *testing.T) {
	got := encodeTags(map[string]string{"b": "2", "a": "1"})
	assert.JSONEq(t, `[{"key":"a","value":"1"},{"key":"b","value":"2"}]`, got)
}
