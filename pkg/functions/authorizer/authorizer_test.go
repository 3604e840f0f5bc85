package authorizer

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anirudhbiyani/cloud-functions/pkg/cloudfn"
	awsprovider "github.com/anirudhbiyani/cloud-functions/pkg/providers/aws"
	"github.com/anirudhbiyani/cloud-functions/pkg/providers/github"
)

const methodARN = "arn:aws:execute-api:eu-west-1:123456789012:abc123/prod/GET/registry/left-pad"

var authTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeIdentity struct {
	users   map[string]*github.User
	orgs    map[string][]string
	orgsErr error
	orgCall int
}

func (f *fakeIdentity) CheckToken(ctx context.Context, token string) (*github.User, error) {
	u, ok := f.users[token]
	if !ok {
		return nil, cloudfn.ErrAuth("bad token")
	}
	return u, nil
}

func (f *fakeIdentity) Organizations(ctx context.Context, token string) ([]string, error) {
	f.orgCall++
	if f.orgsErr != nil {
		return nil, f.orgsErr
	}
	return f.orgs[token], nil
}

func newIdentity() *fakeIdentity {
	return &fakeIdentity{
		users: map[string]*github.User{
			"t-alice": {Login: "alice", AvatarURL: "https://avatars/alice"},
			"t-bob":   {Login: "bob", AvatarURL: "https://avatars/bob"},
		},
		orgs: map[string][]string{
			"t-alice": {"Acme"},
			"t-bob":   {"other"},
		},
	}
}

func newTestAuthorizer(t *testing.T, identity Identity, opts ...Option) *Authorizer {
	t.Helper()
	policy, err := NewPolicy(context.Background(), "")
	require.NoError(t, err)
	opts = append(opts, WithClock(func() time.Time { return authTime }))
	return New(identity, policy, opts...)
}

func authorize(t *testing.T, a *Authorizer, header string) events.APIGatewayCustomAuthorizerResponse {
	t.Helper()
	resp, err := a.Authorize(context.Background(), events.APIGatewayCustomAuthorizerRequest{
		Type:               "TOKEN",
		AuthorizationToken: header,
		MethodArn:          methodARN,
	})
	require.NoError(t, err)
	return resp
}

func assertDenied(t *testing.T, resp events.APIGatewayCustomAuthorizerResponse) {
	t.Helper()
	assert.Equal(t, "user", resp.PrincipalID)
	require.Len(t, resp.PolicyDocument.Statement, 1)
	assert.Equal(t, "Deny", resp.PolicyDocument.Statement[0].Effect)
	assert.Equal(t, []string{methodARN}, resp.PolicyDocument.Statement[0].Resource)
}

func TestAuthorizeUser(t *testing.T) {
	a := newTestAuthorizer(t, newIdentity())
	resp := authorize(t, a, "Bearer t-bob")

	assert.Equal(t, "bob", resp.PrincipalID)
	require.Len(t, resp.PolicyDocument.Statement, 1)
	stmt := resp.PolicyDocument.Statement[0]
	assert.Equal(t, "Allow", stmt.Effect)
	assert.Equal(t, []string{"execute-api:Invoke"}, stmt.Action)
	assert.Equal(t, []string{
		"arn:aws:execute-api:eu-west-1:123456789012:abc123/prod/GET/registry*",
		"arn:aws:execute-api:eu-west-1:123456789012:abc123/prod/PUT/registry*",
	}, stmt.Resource)
	assert.Equal(t, "bob", resp.Context["username"])
	assert.Equal(t, "https://avatars/bob", resp.Context["avatar"])
	assert.Equal(t, authTime.UnixMilli(), resp.Context["last_authorized"])
}

func TestAuthorizeAdminMayUnpublish(t *testing.T) {
	a := newTestAuthorizer(t, newIdentity(), WithAdmins([]string{"Alice"}))
	resp := authorize(t, a, "bearer t-alice")

	assert.Equal(t, "alice", resp.PrincipalID)
	assert.Contains(t, resp.PolicyDocument.Statement[0].Resource,
		"arn:aws:execute-api:eu-west-1:123456789012:abc123/prod/DELETE/registry*")
}

func TestAuthorizeRestrictedOrgs(t *testing.T) {
	identity := newIdentity()
	a := newTestAuthorizer(t, identity, WithRestrictedOrgs([]string{"acme"}))

	assert.Equal(t, "alice", authorize(t, a, "Bearer t-alice").PrincipalID)
	assertDenied(t, authorize(t, a, "Bearer t-bob"))
	assert.Equal(t, 2, identity.orgCall)
}

// Membership gates every permission, admin included.
func TestAuthorizeAdminOutsideRestrictedOrgsIsDenied(t *testing.T) {
	a := newTestAuthorizer(t, newIdentity(),
		WithRestrictedOrgs([]string{"acme"}), WithAdmins([]string{"bob"}))
	assertDenied(t, authorize(t, a, "Bearer t-bob"))
}

func TestAuthorizeSkipsOrgLookupWithoutRestriction(t *testing.T) {
	identity := newIdentity()
	a := newTestAuthorizer(t, identity)
	authorize(t, a, "Bearer t-alice")
	assert.Zero(t, identity.orgCall)
}

func TestAuthorizeDenies(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		identity func() *fakeIdentity
		opts     []Option
	}{
		{name: "no header", header: ""},
		{name: "wrong scheme", header: "token t-alice"},
		{name: "empty token", header: "Bearer "},
		{name: "unknown token", header: "Bearer nope"},
		{
			name:   "org lookup failure",
			header: "Bearer t-alice",
			identity: func() *fakeIdentity {
				id := newIdentity()
				id.orgsErr = cloudfn.ErrNetwork("github down")
				return id
			},
			opts: []Option{WithRestrictedOrgs([]string{"acme"})},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			identity := newIdentity()
			if tt.identity != nil {
				identity = tt.identity()
			}
			assertDenied(t, authorize(t, newTestAuthorizer(t, identity, tt.opts...), tt.header))
		})
	}
}

func TestAuthorizeMalformedMethodARN(t *testing.T) {
	a := newTestAuthorizer(t, newIdentity())
	resp, err := a.Authorize(context.Background(), events.APIGatewayCustomAuthorizerRequest{
		AuthorizationToken: "Bearer t-alice",
		MethodArn:          "not-an-arn",
	})
	require.NoError(t, err)
	assert.Equal(t, "user", resp.PrincipalID)
}

func TestParseMethodARN(t *testing.T) {
	arn, err := ParseMethodARN(methodARN)
	require.NoError(t, err)
	assert.Equal(t, MethodARN{
		Partition: "aws", Region: "eu-west-1", Account: "123456789012",
		API: "abc123", Stage: "prod", Method: "GET", Resource: "registry/left-pad",
	}, arn)
	assert.Equal(t, "arn:aws:execute-api:eu-west-1:123456789012:abc123/prod/PUT/registry*", arn.RegistryResource("PUT"))

	_, err = ParseMethodARN("arn:aws:s3:::bucket")
	assert.Error(t, err)
	_, err = ParseMethodARN("arn:aws:execute-api:eu-west-1:1:abc123")
	assert.Error(t, err)
}

func TestCustomPolicy(t *testing.T) {
	module := `package cloudfn.registry

import rego.v1

read if input.user.login == "alice"
`
	policy, err := NewPolicy(context.Background(), module)
	require.NoError(t, err)

	d, err := policy.Evaluate(context.Background(), PolicyInput{User: PolicyUser{Login: "alice"}})
	require.NoError(t, err)
	assert.Equal(t, []Permission{PermissionRead}, d.Permissions)

	d, err = policy.Evaluate(context.Background(), PolicyInput{User: PolicyUser{Login: "bob"}})
	require.NoError(t, err)
	assert.Empty(t, d.Permissions)
}

func TestPolicyCompileError(t *testing.T) {
	_, err := NewPolicy(context.Background(), "package broken\n\nallow if {")
	assert.True(t, cloudfn.IsCategory(err, cloudfn.ErrCategoryValidation))
}

type fakeEvaluator struct {
	policy    string
	resources []string
}

func (f *fakeEvaluator) Simulate(ctx context.Context, policy string, actions, resources []string) ([]awsprovider.SimulationResult, error) {
	f.policy, f.resources = policy, resources
	out := make([]awsprovider.SimulationResult, 0, len(resources))
	for _, r := range resources {
		out = append(out, awsprovider.SimulationResult{Action: actions[0], Resource: r, Decision: "allowed", Allowed: true})
	}
	return out, nil
}

func TestSimulatorBuildsRequests(t *testing.T) {
	eval := &fakeEvaluator{}
	resp := Deny(methodARN)
	results, err := NewSimulator(eval).Simulate(context.Background(), resp, methodARN, "/registry/left-pad", []string{"get", "DELETE"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, []string{
		"arn:aws:execute-api:eu-west-1:123456789012:abc123/prod/GET/registry/left-pad",
		"arn:aws:execute-api:eu-west-1:123456789012:abc123/prod/DELETE/registry/left-pad",
	}, eval.resources)
	assert.Contains(t, eval.policy, `"Effect":"Deny"`)
	assert.Contains(t, eval.policy, `"Version":"2012-10-17"`)
}
