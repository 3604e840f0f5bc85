package reports

import (
	"context"

	"github.com/anirudhbiyani/cloud-functions/pkg/cloudfn"
	"github.com/anirudhbiyani/cloud-functions/pkg/providers/github"
)

func init() {
	cloudfn.MustRegister(cloudfn.Definition{
		Name:        cloudfn.FunctionErrorReports,
		Description: "File error reports as GitHub issues, folding duplicates",
		Trigger:     cloudfn.TriggerInvoke,
		Factory: cloudfn.FactoryFunc(func(ctx context.Context, deps cloudfn.Dependencies) (cloudfn.Function, error) {
			cfg := deps.Config.Reports
			if cfg.Owner == "" || cfg.Repo == "" || cfg.Token == "" {
				return nil, cloudfn.ErrValidation("reports.owner, reports.repo and reports.token are required")
			}
			tracker, err := github.New(github.Options{BaseURL: deps.Config.GitHub.URL}).
				NewIssueTracker(ctx, cfg.Token, cfg.Owner, cfg.Repo)
			if err != nil {
				return nil, err
			}
			r := NewReporter(tracker, cfg.Threshold, deps.Logger)
			return cloudfn.NewFunction(cloudfn.FunctionErrorReports, r.Report), nil
		}),
	})
}
