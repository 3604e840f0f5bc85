package aws

import (
	"context"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
)

// IAMAPI abstracts the IAM policy simulation operation.
type IAMAPI interface {
	SimulateCustomPolicy(ctx context.Context, in *iam.SimulateCustomPolicyInput, optFns ...func(*iam.Options)) (*iam.SimulateCustomPolicyOutput, error)
}

// SimulationResult is the decision IAM reached for one action/resource pair.
type SimulationResult struct {
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Decision string `json:"decision"`
	Allowed  bool   `json:"allowed"`
}

// PolicySimulator evaluates policy documents with the IAM policy simulator.
type PolicySimulator struct {
	api IAMAPI
}

// NewPolicySimulator wraps an IAM client.
func NewPolicySimulator(api IAMAPI) *PolicySimulator {
	return &PolicySimulator{api: api}
}

// Simulate evaluates the identity policy document against every action and resource.
func (s *PolicySimulator) Simulate(ctx context.Context, policy string, actions, resources []string) ([]SimulationResult, error) {
	in := &iam.SimulateCustomPolicyInput{
		PolicyInputList: []string{policy},
		ActionNames:     actions,
		ResourceArns:    resources,
	}

	var results []SimulationResult
	for {
		out, err := s.api.SimulateCustomPolicy(ctx, in)
		if err != nil {
			return nil, classify(err, "SimulateCustomPolicy", "policy", "")
		}
		for _, r := range out.EvaluationResults {
			results = append(results, SimulationResult{
				Action:   awssdk.ToString(r.EvalActionName),
				Resource: awssdk.ToString(r.EvalResourceName),
				Decision: string(r.EvalDecision),
				Allowed:  r.EvalDecision == iamtypes.PolicyEvaluationDecisionTypeAllowed,
			})
		}
		if !out.IsTruncated || out.Marker == nil {
			break
		}
		in.Marker = out.Marker
	}
	return results, nil
}
