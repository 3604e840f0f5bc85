package authorizer

import (
	"context"
	_ "embed"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/rego"

	"github.com/anirudhbiyani/cloud-functions/pkg/cloudfn"
)

//go:embed registry.rego
var defaultPolicy string

const policyQuery = "data.cloudfn.registry"

// Permission is a registry capability granted by the policy.
type Permission string

const (
	PermissionRead      Permission = "read"
	PermissionPublish   Permission = "publish"
	PermissionUnpublish Permission = "unpublish"
)

// permissionMethods maps each permission to the HTTP method it unlocks.
var permissionMethods = []struct {
	permission Permission
	method     string
}{
	{PermissionRead, "GET"},
	{PermissionPublish, "PUT"},
	{PermissionUnpublish, "DELETE"},
}

// PolicyInput is the document the policy evaluates.
type PolicyInput struct {
	User           PolicyUser `json:"user"`
	Orgs           []string   `json:"orgs"`
	RestrictedOrgs []string   `json:"restricted_orgs"`
	Admins         []string   `json:"admins"`
}

// PolicyUser is the authenticated GitHub user as the policy sees it.
type PolicyUser struct {
	Login string `json:"login"`
}

// Decision lists the permissions the policy granted.
type Decision struct {
	Permissions []Permission
}

// Has reports whether p was granted.
func (d Decision) Has(p Permission) bool {
	for _, got := range d.Permissions {
		if got == p {
			return true
		}
	}
	return false
}

// Policy evaluates registry permissions with a Rego module.
type Policy struct {
	query rego.PreparedEvalQuery
}

// NewPolicy compiles module, or the built-in policy when module is empty.
// The module must define package cloudfn.registry with boolean rules named
// after the permissions.
func NewPolicy(ctx context.Context, module string) (*Policy, error) {
	if module == "" {
		module = defaultPolicy
	}
	q, err := rego.New(
		rego.Query(policyQuery),
		rego.Module("registry.rego", module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, cloudfn.ErrValidation("authorization policy does not compile").WithCause(err)
	}
	return &Policy{query: q}, nil
}

// LoadPolicy compiles the policy in path, or the built-in policy when path is empty.
func LoadPolicy(ctx context.Context, path string) (*Policy, error) {
	if path == "" {
		return NewPolicy(ctx, "")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, cloudfn.ErrValidation(fmt.Sprintf("reading policy %s failed", path)).WithCause(err)
	}
	return NewPolicy(ctx, string(data))
}

// Evaluate returns the permissions granted for input.
func (p *Policy) Evaluate(ctx context.Context, input PolicyInput) (Decision, error) {
	rs, err := p.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, cloudfn.ErrInternal("evaluating authorization policy failed").WithCause(err)
	}
	var d Decision
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return d, nil
	}
	obj, ok := rs[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return d, nil
	}
	for _, pm := range permissionMethods {
		if granted, _ := obj[string(pm.permission)].(bool); granted {
			d.Permissions = append(d.Permissions, pm.permission)
		}
	}
	return d, nil
}
