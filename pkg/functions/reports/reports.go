// Package reports files automatic error reports as GitHub issues, folding
// reports whose stack traces nearly match an open issue into that issue.
package reports

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/anirudhbiyani/cloud-functions/pkg/cloudfn"
	"github.com/anirudhbiyani/cloud-functions/pkg/providers/github"
)

// DefaultThreshold is the normalized edit distance under which two traces match.
const DefaultThreshold = 0.1

const traceMarker = "Stacktrace:"

// Outcome of handling one report.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeCommented Outcome = "commented"
	OutcomeSkipped   Outcome = "skipped"
)

// ErrorReport is one error seen by a deployment.
type ErrorReport struct {
	Image      string `json:"image" validate:"required"`
	Repo       string `json:"repo" validate:"required"`
	Run        string `json:"run" validate:"required"`
	Stacktrace string `json:"stacktrace" validate:"required"`
}

// Result describes what was done with a report.
type Result struct {
	Outcome Outcome `json:"outcome"`
	Issue   int     `json:"issue"`
	URL     string  `json:"url,omitempty"`
}

// Tracker is the issue tracker reports are filed in.
type Tracker interface {
	OpenIssues(ctx context.Context) ([]github.Issue, error)
	Comments(ctx context.Context, number int) ([]string, error)
	Comment(ctx context.Context, number int, body string) error
	Create(ctx context.Context, title, body string, labels []string) (*github.Issue, error)
}

// Reporter triages error reports.
type Reporter struct {
	tracker   Tracker
	threshold float64
	labels    []string
	validate  *validator.Validate
	logger    *zap.Logger
}

// NewReporter creates a Reporter. A non-positive threshold uses DefaultThreshold.
func NewReporter(tracker Tracker, threshold float64, logger *zap.Logger) *Reporter {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{
		tracker:   tracker,
		threshold: threshold,
		labels:    []string{"error-report"},
		validate:  validator.New(),
		logger:    logger,
	}
}

// Report comments on the open issue whose trace matches the report, unless
// that issue already mentions the report's repository, or opens a new issue.
func (r *Reporter) Report(ctx context.Context, rep ErrorReport) (*Result, error) {
	if err := r.validate.Struct(rep); err != nil {
		return nil, cloudfn.ErrValidation("error report is incomplete").WithCause(err)
	}
	logger := cloudfn.Logger(ctx, r.logger).With(zap.String("repo", rep.Repo))

	issues, err := r.tracker.OpenIssues(ctx)
	if err != nil {
		return nil, err
	}

	if issue, ok := r.match(issues, rep.Stacktrace); ok {
		logger = logger.With(zap.Int("issue", issue.Number))
		seen, err := r.mentioned(ctx, issue, rep.Repo)
		if err != nil {
			return nil, err
		}
		if seen {
			logger.Info("duplicate report already recorded")
			return &Result{Outcome: OutcomeSkipped, Issue: issue.Number, URL: issue.URL}, nil
		}
		if err := r.tracker.Comment(ctx, issue.Number, commentBody(rep)); err != nil {
			return nil, err
		}
		logger.Info("report added to existing issue")
		return &Result{Outcome: OutcomeCommented, Issue: issue.Number, URL: issue.URL}, nil
	}

	created, err := r.tracker.Create(ctx, "Automatic error report for "+rep.Repo, issueBody(rep), r.labels)
	if err != nil {
		return nil, err
	}
	logger.Info("new error report filed", zap.Int("issue", created.Number))
	return &Result{Outcome: OutcomeCreated, Issue: created.Number, URL: created.URL}, nil
}

// match returns the first issue whose trace is within the threshold.
func (r *Reporter) match(issues []github.Issue, trace string) (github.Issue, bool) {
	trace = strings.TrimSpace(trace)
	for _, issue := range issues {
		existing, ok := ExtractTrace(issue.Body)
		if !ok {
			continue
		}
		if Distance(existing, trace) < r.threshold {
			return issue, true
		}
	}
	return github.Issue{}, false
}

func (r *Reporter) mentioned(ctx context.Context, issue github.Issue, repo string) (bool, error) {
	marker := seenIn(repo)
	if strings.Contains(issue.Body, marker) {
		return true, nil
	}
	comments, err := r.tracker.Comments(ctx, issue.Number)
	if err != nil {
		return false, err
	}
	for _, c := range comments {
		if strings.Contains(c, marker) {
			return true, nil
		}
	}
	return false, nil
}

// Distance is the Levenshtein distance between a and b divided by the length
// of the longer one, in runes. Two empty strings are identical.
func Distance(a, b string) float64 {
	longest := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > longest {
		longest = n
	}
	if longest == 0 {
		return 0
	}
	return float64(levenshtein.ComputeDistance(a, b)) / float64(longest)
}

// ExtractTrace returns the trace following the last Stacktrace: marker in an
// issue body, without its code fence.
func ExtractTrace(body string) (string, bool) {
	i := strings.LastIndex(body, traceMarker)
	if i < 0 {
		return "", false
	}
	trace := strings.TrimSpace(body[i+len(traceMarker):])
	if strings.HasPrefix(trace, "```") {
		if nl := strings.IndexByte(trace, '\n'); nl >= 0 {
			trace = trace[nl+1:]
		} else {
			trace = strings.TrimPrefix(trace, "```")
		}
		trace = strings.TrimSuffix(strings.TrimSpace(trace), "```")
	}
	return strings.TrimSpace(trace), true
}

func seenIn(repo string) string {
	return fmt.Sprintf("The error was encountered in %s.", repo)
}

func issueBody(rep ErrorReport) string {
	return fmt.Sprintf("%s\n\nRun URL: %s\nImage: %s\n\n%s\n```\n%s\n```\n",
		seenIn(rep.Repo), rep.Run, rep.Image, traceMarker, strings.TrimSpace(rep.Stacktrace))
}

func commentBody(rep ErrorReport) string {
	return fmt.Sprintf("%s\n\nRun URL: %s\nImage: %s\n", seenIn(rep.Repo), rep.Run, rep.Image)
}
