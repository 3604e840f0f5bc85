package authorizer

import (
	"context"

	"github.com/anirudhbiyani/cloud-functions/pkg/cloudfn"
	"github.com/anirudhbiyani/cloud-functions/pkg/providers/github"
)

func init() {
	cloudfn.MustRegister(cloudfn.Definition{
		Name:        cloudfn.FunctionGitHubAuthorizer,
		Description: "Authorize registry requests with GitHub OAuth tokens",
		Trigger:     cloudfn.TriggerAuthorizer,
		Factory: cloudfn.FactoryFunc(func(ctx context.Context, deps cloudfn.Dependencies) (cloudfn.Function, error) {
			a, err := NewFromDependencies(ctx, deps)
			if err != nil {
				return nil, err
			}
			return cloudfn.NewFunction(cloudfn.FunctionGitHubAuthorizer, a.Authorize), nil
		}),
	})
}

// NewFromDependencies builds an Authorizer from the github configuration section.
func NewFromDependencies(ctx context.Context, deps cloudfn.Dependencies) (*Authorizer, error) {
	cfg := deps.Config.GitHub
	policy, err := LoadPolicy(ctx, cfg.PolicyFile)
	if err != nil {
		return nil, err
	}
	client := github.New(github.Options{
		BaseURL:      cfg.URL,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
	})
	return New(client, policy,
		WithRestrictedOrgs(cfg.RestrictedOrgs),
		WithAdmins(cfg.Admins),
		WithLogger(deps.Logger),
	), nil
}
