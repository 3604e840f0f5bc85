package cloudfn

import (
	"context"
	"errors"
	"time"
)

// ErrSkipRule is returned by a rule that does not apply to its subject.
var ErrSkipRule = errors.New("rule does not apply")

// Rule performs one check against a subject of type T.
type Rule[T any] interface {
	// ID returns the unique identifier for this rule.
	ID() string

	// Name returns a human-readable name.
	Name() string

	// Evaluate runs the check.
	Evaluate(ctx context.Context, subject T) Check
}

// RuleFunc is a Rule backed by a predicate. The predicate returns nil when the
// subject passes, ErrSkipRule when the rule does not apply, and otherwise an
// error whose message becomes the check's reason.
type RuleFunc[T any] struct {
	RuleID   string
	RuleName string
	Severity Severity
	Fn       func(ctx context.Context, subject T) error
}

func (r RuleFunc[T]) ID() string   { return r.RuleID }
func (r RuleFunc[T]) Name() string { return r.RuleName }

func (r RuleFunc[T]) Evaluate(ctx context.Context, subject T) Check {
	severity := r.Severity
	if severity == "" {
		severity = SeverityError
	}
	check := Check{
		ID:       r.RuleID,
		Name:     r.RuleName,
		Severity: severity,
		Status:   CheckStatusPassed,
	}

	err := r.Fn(ctx, subject)
	switch {
	case err == nil:
	case errors.Is(err, ErrSkipRule):
		check.Status = CheckStatusSkipped
	default:
		check.Status = CheckStatusFailed
		check.Reason = err.Error()
	}
	return check
}

// NewRule builds an error-severity RuleFunc.
func NewRule[T any](id, name string, fn func(ctx context.Context, subject T) error) RuleFunc[T] {
	return RuleFunc[T]{RuleID: id, RuleName: name, Severity: SeverityError, Fn: fn}
}

// RunRules evaluates every rule against target and returns a report.
func RunRules[T any](ctx context.Context, subject string, target T, rules []Rule[T]) *Report {
	report := &Report{
		Subject:     subject,
		Checks:      make([]Check, 0, len(rules)),
		EvaluatedAt: time.Now(),
	}

	for _, rule := range rules {
		check := rule.Evaluate(ctx, target)
		report.Checks = append(report.Checks, check)

		switch check.Status {
		case CheckStatusPassed:
			report.Summary.Passed++
		case CheckStatusFailed:
			report.Summary.Failed++
		case CheckStatusSkipped:
			report.Summary.Skipped++
		}
		report.Summary.Total++
	}

	report.Summary.Allowed = report.Allowed()
	return report
}
