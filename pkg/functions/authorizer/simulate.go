package authorizer

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"github.com/anirudhbiyani/cloud-functions/pkg/cloudfn"
	awsprovider "github.com/anirudhbiyani/cloud-functions/pkg/providers/aws"
)

// PolicyEvaluator evaluates an IAM identity policy document.
type PolicyEvaluator interface {
	Simulate(ctx context.Context, policy string, actions, resources []string) ([]awsprovider.SimulationResult, error)
}

// Simulator checks an authorizer response against concrete registry requests
// with the IAM policy simulator.
type Simulator struct {
	evaluator PolicyEvaluator
}

// NewSimulator creates a Simulator.
func NewSimulator(evaluator PolicyEvaluator) *Simulator {
	return &Simulator{evaluator: evaluator}
}

// Simulate evaluates resp for a request of each method against path on the
// stage named by methodARN, e.g. path "registry/left-pad".
func (s *Simulator) Simulate(ctx context.Context, resp events.APIGatewayCustomAuthorizerResponse, methodARN, path string, methods []string) ([]awsprovider.SimulationResult, error) {
	arn, err := ParseMethodARN(methodARN)
	if err != nil {
		return nil, cloudfn.ErrValidation("invalid method ARN").WithCause(err)
	}
	doc, err := json.Marshal(resp.PolicyDocument)
	if err != nil {
		return nil, cloudfn.ErrInternal("policy document is not serializable").WithCause(err)
	}

	path = strings.TrimPrefix(path, "/")
	resources := make([]string, 0, len(methods))
	for _, m := range methods {
		resources = append(resources, arn.Base()+"/"+strings.ToUpper(m)+"/"+path)
	}
	return s.evaluator.Simulate(ctx, string(doc), []string{invokeAction}, resources)
}
