package janitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anirudhbiyani/cloud-functions/pkg/cloudfn"
)

func sweepFixture() *fakeStacks {
	old := testNow.Add(-30 * 24 * time.Hour)
	recent := testNow.Add(-time.Hour)
	enabled := map[string]string{"stackjanitor": "enabled"}
	return &fakeStacks{stacks: []cloudfn.Stack{
		{Name: "expired", ID: "arn:aws:cloudformation:us-east-1:1:stack/expired/1", Status: "CREATE_COMPLETE", Tags: enabled, CreatedAt: old},
		{Name: "expired-too", Status: "UPDATE_COMPLETE", Tags: enabled, CreatedAt: old},
		{Name: "fresh", Status: "CREATE_COMPLETE", Tags: enabled, CreatedAt: recent},
		{Name: "touched", Status: "UPDATE_COMPLETE", Tags: enabled, CreatedAt: old, UpdatedAt: &recent},
		{Name: "busy", Status: "UPDATE_IN_PROGRESS", Tags: enabled, CreatedAt: old},
		{Name: "gone", Status: "DELETE_COMPLETE", Tags: enabled, CreatedAt: old},
		{Name: "untagged", Status: "CREATE_COMPLETE", CreatedAt: old},
		{Name: "short-ttl", Status: "CREATE_COMPLETE", CreatedAt: recent,
			Tags: map[string]string{"stackjanitor": "enabled", "stackjanitor-ttl": "30m"}},
	}}
}

func TestSweepDeletesExpiredStacks(t *testing.T) {
	stacks := sweepFixture()
	s := NewSweeper(stacks, testSettings(), fixedClock())

	report, err := s.Sweep(context.Background(), SweepRequest{})
	require.NoError(t, err)

	assert.Equal(t, 8, report.Evaluated)
	assert.ElementsMatch(t, []string{"expired", "expired-too", "short-ttl"}, report.Candidates)
	assert.Equal(t, []string{"expired", "expired-too", "short-ttl"}, report.Deleted)
	assert.Empty(t, report.Failed)
	assert.ElementsMatch(t, []string{
		"arn:aws:cloudformation:us-east-1:1:stack/expired/1", "expired-too", "short-ttl",
	}, stacks.deleted)
}

func TestSweepDryRun(t *testing.T) {
	stacks := sweepFixture()
	s := NewSweeper(stacks, testSettings(), fixedClock())

	report, err := s.Sweep(context.Background(), SweepRequest{DryRun: true})
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Len(t, report.Candidates, 3)
	assert.Empty(t, report.Deleted)
	assert.Empty(t, stacks.deleted)
}

func TestSweepContinuesAfterFailedDelete(t *testing.T) {
	stacks := sweepFixture()
	stacks.deleteErr = map[string]error{"expired-too": cloudfn.ErrPermission("denied")}
	s := NewSweeper(stacks, testSettings(), fixedClock())

	report, err := s.Sweep(context.Background(), SweepRequest{})
	require.Error(t, err)

	var batch *cloudfn.BatchError
	require.True(t, errors.As(err, &batch))
	assert.Contains(t, batch.Failures, "expired-too")

	require.NotNil(t, report)
	assert.Equal(t, []string{"expired", "short-ttl"}, report.Deleted)
	assert.Contains(t, report.Failed["expired-too"], "denied")
}

func TestSweepListFailure(t *testing.T) {
	stacks := &fakeStacks{listErr: cloudfn.ErrNetwork("unreachable")}
	report, err := NewSweeper(stacks, testSettings()).Sweep(context.Background(), SweepRequest{})
	assert.Nil(t, report)
	assert.True(t, cloudfn.IsCategory(err, cloudfn.ErrCategoryNetwork))
}

func TestSweeperEvaluateReasons(t *testing.T) {
	s := NewSweeper(&fakeStacks{}, testSettings(), fixedClock())
	report := s.Evaluate(context.Background(), cloudfn.Stack{Name: "x", Status: "CREATE_IN_PROGRESS", CreatedAt: testNow})
	assert.False(t, report.Allowed())
	assert.Contains(t, report.Reasons(), "in progress")
	assert.Contains(t, report.Reasons(), "stackjanitor")
}

func TestSweepFlagsStacksAboutToExpire(t *testing.T) {
	enabled := map[string]string{"stackjanitor": "enabled"}
	week := 7 * 24 * time.Hour
	stacks := &fakeStacks{stacks: []cloudfn.Stack{
		{Name: "soon", Status: "CREATE_COMPLETE", Tags: enabled, CreatedAt: testNow.Add(-week + 30*time.Minute)},
		{Name: "later", Status: "CREATE_COMPLETE", Tags: enabled, CreatedAt: testNow.Add(-week + 2*time.Hour)},
		{Name: "expired", Status: "CREATE_COMPLETE", Tags: enabled, CreatedAt: testNow.Add(-2 * week)},
		{Name: "untagged", Status: "CREATE_COMPLETE", CreatedAt: testNow.Add(-week + 30*time.Minute)},
	}}
	s := NewSweeper(stacks, testSettings(), fixedClock())

	report, err := s.Sweep(context.Background(), SweepRequest{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"soon"}, report.Expiring)
	assert.Equal(t, []string{"expired"}, report.Candidates)

	eval := s.Evaluate(context.Background(), stacks.stacks[0])
	assert.Contains(t, eval.Reasons(), "expires in 30m0s")
}
