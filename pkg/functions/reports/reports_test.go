package reports

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anirudhbiyani/cloud-functions/pkg/cloudfn"
	"github.com/anirudhbiyani/cloud-functions/pkg/providers/github"
)

const trace = `Traceback (most recent call last):
  File "/app/tagbot/action/repo.py", line 412, in create_release
    self._repo.create_git_release(tag, name, body)
github.GithubException.GithubException: 403 {"message": "Resource not accessible by integration"}`

type fakeTracker struct {
	issues   []github.Issue
	comments map[int][]string
	created  []string
	posted   map[int][]string
}

func newFakeTracker(issues ...github.Issue) *fakeTracker {
	return &fakeTracker{issues: issues, comments: map[int][]string{}, posted: map[int][]string{}}
}

func (f *fakeTracker) OpenIssues(ctx context.Context) ([]github.Issue, error) {
	return f.issues, nil
}

func (f *fakeTracker) Comments(ctx context.Context, number int) ([]string, error) {
	return f.comments[number], nil
}

func (f *fakeTracker) Comment(ctx context.Context, number int, body string) error {
	f.posted[number] = append(f.posted[number], body)
	return nil
}

func (f *fakeTracker) Create(ctx context.Context, title, body string, labels []string) (*github.Issue, error) {
	f.created = append(f.created, title)
	return &github.Issue{Number: 100 + len(f.created), Title: title, Body: body}, nil
}

func report(repo, stack string) ErrorReport {
	return ErrorReport{Image: "sha256:abc", Repo: repo, Run: "https://github.com/" + repo + "/actions/runs/1", Stacktrace: stack}
}

func TestReportCreatesIssue(t *testing.T) {
	tracker := newFakeTracker(github.Issue{Number: 1, Body: issueBody(report("a/b", "KeyError: 'x'"))})
	res, err := NewReporter(tracker, 0, nil).Report(context.Background(), report("owner/pkg.jl", trace))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, res.Outcome)
	assert.Equal(t, 101, res.Issue)
	assert.Equal(t, []string{"Automatic error report for owner/pkg.jl"}, tracker.created)
}

func TestReportCommentsOnNearDuplicate(t *testing.T) {
	existing := github.Issue{Number: 7, Body: issueBody(report("first/repo", trace))}
	tracker := newFakeTracker(existing)

	similar := trace[:len(trace)-3] + "xyz"
	res, err := NewReporter(tracker, 0, nil).Report(context.Background(), report("second/repo", similar))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCommented, res.Outcome)
	assert.Equal(t, 7, res.Issue)
	require.Len(t, tracker.posted[7], 1)
	assert.Contains(t, tracker.posted[7][0], "The error was encountered in second/repo.")
	assert.Empty(t, tracker.created)
}

func TestReportSkipsRepoAlreadyRecorded(t *testing.T) {
	existing := github.Issue{Number: 7, Body: issueBody(report("first/repo", trace))}

	t.Run("in body", func(t *testing.T) {
		tracker := newFakeTracker(existing)
		res, err := NewReporter(tracker, 0, nil).Report(context.Background(), report("first/repo", trace))
		require.NoError(t, err)
		assert.Equal(t, OutcomeSkipped, res.Outcome)
		assert.Empty(t, tracker.posted)
	})

	t.Run("in comment", func(t *testing.T) {
		tracker := newFakeTracker(existing)
		tracker.comments[7] = []string{commentBody(report("second/repo", trace))}
		res, err := NewReporter(tracker, 0, nil).Report(context.Background(), report("second/repo", trace))
		require.NoError(t, err)
		assert.Equal(t, OutcomeSkipped, res.Outcome)
		assert.Empty(t, tracker.posted)
	})
}

func TestReportRequiresAllFields(t *testing.T) {
	_, err := NewReporter(newFakeTracker(), 0, nil).Report(context.Background(), ErrorReport{Repo: "a/b"})
	assert.True(t, cloudfn.IsCategory(err, cloudfn.ErrCategoryValidation))
}

func TestDistance(t *testing.T) {
	assert.Zero(t, Distance("", ""))
	assert.Zero(t, Distance("same", "same"))
	assert.InDelta(t, 0.25, Distance("abcd", "abcx"), 1e-9)
	assert.InDelta(t, 1.0, Distance("abc", ""), 1e-9)
}

func TestExtractTrace(t *testing.T) {
	got, ok := ExtractTrace("Stacktrace: old\n\nStacktrace:\n```py\nboom\n```\n")
	require.True(t, ok)
	assert.Equal(t, "boom", got)

	got, ok = ExtractTrace("text\nStacktrace:\n  plain trace  ")
	require.True(t, ok)
	assert.Equal(t, "plain trace", got)

	_, ok = ExtractTrace("no trace here")
	assert.False(t, ok)
}
