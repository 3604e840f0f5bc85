// Package authorizer is an API Gateway token authorizer for the private
// registry. It trusts GitHub OAuth tokens issued to a configured application
// and turns the policy decision into an IAM policy for execute-api.
package authorizer

import (
	"context"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/anirudhbiyani/cloud-functions/pkg/cloudfn"
	"github.com/anirudhbiyani/cloud-functions/pkg/providers/github"
)

const (
	policyVersion = "2012-10-17"
	invokeAction  = "execute-api:Invoke"
	denyPrincipal = "user"
	effectAllow   = "Allow"
	effectDeny    = "Deny"
	contextUser   = "username"
	contextAvatar = "avatar"
	contextAuthAt = "last_authorized"
)

// Identity resolves tokens to GitHub users.
type Identity interface {
	CheckToken(ctx context.Context, token string) (*github.User, error)
	Organizations(ctx context.Context, token string) ([]string, error)
}

// Authorizer issues execute-api policies for GitHub tokens.
type Authorizer struct {
	identity       Identity
	policy         *Policy
	restrictedOrgs []string
	admins         []string
	logger         *zap.Logger
	now            func() time.Time
}

// Option configures an Authorizer.
type Option func(*Authorizer)

// WithRestrictedOrgs limits access to members of at least one of orgs.
func WithRestrictedOrgs(orgs []string) Option {
	return func(a *Authorizer) {
		a.restrictedOrgs = orgs
	}
}

// WithAdmins names the users allowed to unpublish.
func WithAdmins(logins []string) Option {
	return func(a *Authorizer) {
		a.admins = logins
	}
}

// WithLogger sets the logger used when the request context carries none.
func WithLogger(l *zap.Logger) Option {
	return func(a *Authorizer) {
		a.logger = l
	}
}

// WithClock sets the clock that stamps the authorization time in the policy context.
func WithClock(now func() time.Time) Option {
	return func(a *Authorizer) {
		a.now = now
	}
}

// New creates an Authorizer.
func New(identity Identity, policy *Policy, opts ...Option) *Authorizer {
	a := &Authorizer{
		identity: identity,
		policy:   policy,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authorize never fails: every problem with the token, the lookups or the
// policy produces a deny policy for the requested method.
func (a *Authorizer) Authorize(ctx context.Context, req events.APIGatewayCustomAuthorizerRequest) (events.APIGatewayCustomAuthorizerResponse, error) {
	logger := cloudfn.Logger(ctx, a.logger)

	token, ok := github.ParseBearer(req.AuthorizationToken)
	if !ok {
		logger.Info("missing or malformed bearer token")
		return Deny(req.MethodArn), nil
	}

	arn, err := ParseMethodARN(req.MethodArn)
	if err != nil {
		logger.Warn("unexpected method ARN", zap.Error(err))
		return Deny(req.MethodArn), nil
	}

	user, err := a.identity.CheckToken(ctx, token)
	if err != nil {
		logger.Info("token rejected", zap.Error(err))
		return Deny(req.MethodArn), nil
	}
	logger = logger.With(zap.String("user", user.Login))

	input := PolicyInput{
		User:           PolicyUser{Login: user.Login},
		Orgs:           []string{},
		RestrictedOrgs: nonNil(a.restrictedOrgs),
		Admins:         nonNil(a.admins),
	}
	if len(a.restrictedOrgs) > 0 {
		orgs, err := a.identity.Organizations(ctx, token)
		if err != nil {
			logger.Warn("listing organizations failed", zap.Error(err))
			return Deny(req.MethodArn), nil
		}
		input.Orgs = nonNil(orgs)
	}

	decision, err := a.policy.Evaluate(ctx, input)
	if err != nil {
		logger.Error("policy evaluation failed", zap.Error(err))
		return Deny(req.MethodArn), nil
	}
	if len(decision.Permissions) == 0 {
		logger.Info("access denied by policy")
		return Deny(req.MethodArn), nil
	}

	resp := Allow(arn, user, decision, a.now())
	logger.Info("access granted", zap.Int("statements", len(resp.PolicyDocument.Statement)))
	return resp, nil
}

// Allow builds the policy granting each permission's method on the registry
// paths of the stage in arn.
func Allow(arn MethodARN, user *github.User, d Decision, now time.Time) events.APIGatewayCustomAuthorizerResponse {
	var resources []string
	for _, pm := range permissionMethods {
		if d.Has(pm.permission) {
			resources = append(resources, arn.RegistryResource(pm.method))
		}
	}
	return events.APIGatewayCustomAuthorizerResponse{
		PrincipalID: user.Login,
		PolicyDocument: events.APIGatewayCustomAuthorizerPolicy{
			Version: policyVersion,
			Statement: []events.IAMPolicyStatement{{
				Action:   []string{invokeAction},
				Effect:   effectAllow,
				Resource: resources,
			}},
		},
		Context: map[string]interface{}{
			contextUser:   user.Login,
			contextAvatar: user.AvatarURL,
			contextAuthAt: now.UnixMilli(),
		},
	}
}

// Deny builds the default-deny policy for methodARN.
func Deny(methodARN string) events.APIGatewayCustomAuthorizerResponse {
	return events.APIGatewayCustomAuthorizerResponse{
		PrincipalID: denyPrincipal,
		PolicyDocument: events.APIGatewayCustomAuthorizerPolicy{
			Version: policyVersion,
			Statement: []events.IAMPolicyStatement{{
				Action:   []string{invokeAction},
				Effect:   effectDeny,
				Resource: []string{methodARN},
			}},
		},
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
