package janitor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/anirudhbiyani/cloud-functions/pkg/cloudfn"
)

// SweepRequest is the scheduled event payload. Any other fields are ignored.
type SweepRequest struct {
	DryRun bool `json:"dryRun"`
}

// SweepReport summarizes one sweep.
type SweepReport struct {
	Evaluated  int               `json:"evaluated"`
	Candidates []string          `json:"candidates"`
	Deleted    []string          `json:"deleted"`
	// Expiring lists opted-in stacks that expire before the next DeleteInterval.
	Expiring   []string          `json:"expiring,omitempty"`
	Failed     map[string]string `json:"failed,omitempty"`
	DryRun     bool              `json:"dryRun"`
}

// Sweeper deletes every expired stack that carries the janitor tag.
type Sweeper struct {
	stacks   StackAPI
	settings Settings
	rules    []cloudfn.Rule[cloudfn.Stack]
	opts     options
}

// NewSweeper creates a Sweeper.
func NewSweeper(stacks StackAPI, settings Settings, opts ...Option) *Sweeper {
	s := &Sweeper{stacks: stacks, settings: settings, opts: buildOptions(opts)}
	s.rules = s.sweepRules()
	return s
}

func (s *Sweeper) sweepRules() []cloudfn.Rule[cloudfn.Stack] {
	return []cloudfn.Rule[cloudfn.Stack]{
		cloudfn.NewRule("stack_status", "stack is idle and not deleted", func(ctx context.Context, st cloudfn.Stack) error {
			if st.InProgress() {
				return fmt.Errorf("status %s is in progress", st.Status)
			}
			if st.Status == cloudfn.StackStatusDeleteComplete {
				return fmt.Errorf("stack is already deleted")
			}
			return nil
		}),
		cloudfn.NewRule("janitor_tag", "stack opted in to the janitor", func(ctx context.Context, st cloudfn.Stack) error {
			if s.settings.Status(st.Tags) != cloudfn.JanitorEnabled {
				return fmt.Errorf("tag %s is not %s", s.settings.TagKey, s.settings.TagValue)
			}
			return nil
		}),
		cloudfn.NewRule("stack_expired", "stack outlived its time-to-live", func(ctx context.Context, st cloudfn.Stack) error {
			expires := st.LastActivity().Add(s.settings.TTL(st.Tags))
			if now := s.opts.now(); now.Before(expires) {
				return fmt.Errorf("expires in %s", expires.Sub(now).Round(time.Second))
			}
			return nil
		}),
		cloudfn.RuleFunc[cloudfn.Stack]{
			RuleID:   "expiry_notice",
			RuleName: "stack is not about to expire",
			Severity: cloudfn.SeverityWarning,
			Fn: func(ctx context.Context, st cloudfn.Stack) error {
				if s.settings.Status(st.Tags) != cloudfn.JanitorEnabled || st.InProgress() ||
					st.Status == cloudfn.StackStatusDeleteComplete {
					return cloudfn.ErrSkipRule
				}
				now := s.opts.now()
				expires := st.LastActivity().Add(s.settings.TTL(st.Tags))
				if !now.Before(expires) {
					return cloudfn.ErrSkipRule
				}
				if left := expires.Sub(now); left <= s.settings.DeleteInterval {
					return fmt.Errorf("expires in %s", left.Round(time.Second))
				}
				return nil
			},
		},
	}
}

// Evaluate runs the sweep rules against one stack.
func (s *Sweeper) Evaluate(ctx context.Context, st cloudfn.Stack) *cloudfn.Report {
	return cloudfn.RunRules(ctx, st.Name, st, s.rules)
}

// Sweep lists every stack and deletes the ones that pass all rules. Deletes run
// concurrently and are all awaited; one failed delete does not stop the others.
// The report is returned even when some deletes fail.
func (s *Sweeper) Sweep(ctx context.Context, req SweepRequest) (*SweepReport, error) {
	logger := cloudfn.Logger(ctx, s.opts.logger)

	stacks, err := s.stacks.ListStacks(ctx)
	if err != nil {
		logger.Error("listing stacks failed", zap.Error(err))
		return nil, err
	}

	report := &SweepReport{
		Evaluated:  len(stacks),
		Candidates: []string{},
		Deleted:    []string{},
		DryRun:     req.DryRun,
	}
	var targets []cloudfn.Stack
	for _, st := range stacks {
		eval := s.Evaluate(ctx, st)
		for _, check := range eval.FailedChecks() {
			if check.Severity == cloudfn.SeverityWarning {
				report.Expiring = append(report.Expiring, st.Name)
				logger.Info("stack expires soon", zap.String("stack", st.Name), zap.String("reason", check.Reason))
			}
		}
		if !eval.Allowed() {
			logger.Debug("stack skipped", zap.String("stack", st.Name), zap.String("reason", eval.Reasons()))
			continue
		}
		report.Candidates = append(report.Candidates, st.Name)
		targets = append(targets, st)
	}

	if req.DryRun || len(targets) == 0 {
		logger.Info("sweep finished",
			zap.Int("evaluated", report.Evaluated),
			zap.Int("candidates", len(report.Candidates)),
			zap.Bool("dry_run", req.DryRun))
		return report, nil
	}

	concurrency := s.settings.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	var (
		mu    sync.Mutex
		batch = cloudfn.NewBatchError("delete stacks")
		g     errgroup.Group
	)
	g.SetLimit(concurrency)
	for _, st := range targets {
		st := st
		g.Go(func() error {
			target := st.ID
			if target == "" {
				target = st.Name
			}
			err := s.stacks.DeleteStack(ctx, target)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.Error("deleting stack failed", zap.String("stack", st.Name), zap.Error(err))
				batch.Add(st.Name, err)
				return nil
			}
			logger.Info("stack deleted", zap.String("stack", st.Name))
			report.Deleted = append(report.Deleted, st.Name)
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(report.Deleted)
	if len(batch.Failures) > 0 {
		report.Failed = make(map[string]string, len(batch.Failures))
		for name, err := range batch.Failures {
			report.Failed[name] = err.Error()
		}
	}

	logger.Info("sweep finished",
		zap.Int("evaluated", report.Evaluated),
		zap.Int("deleted", len(report.Deleted)),
		zap.Int("failed", len(report.Failed)))
	return report, batch.ErrOrNil()
}
