package aws

import (
	"context"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cfntypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"

	"github.com/anirudhbiyani/cloud-functions/pkg/cloudfn"
)

// CloudFormationAPI abstracts the CloudFormation operations used by the janitor.
type CloudFormationAPI interface {
	DescribeStacks(ctx context.Context, in *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error)
	DeleteStack(ctx context.Context, in *cloudformation.DeleteStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DeleteStackOutput, error)
}

// StackClient lists, describes and deletes CloudFormation stacks.
type StackClient struct {
	api CloudFormationAPI
}

// NewStackClient wraps a CloudFormation API client.
func NewStackClient(api CloudFormationAPI) *StackClient {
	return &StackClient{api: api}
}

// NewStackClientFromConfig creates a StackClient from an AWS configuration.
func NewStackClientFromConfig(cfg awssdk.Config) *StackClient {
	return NewStackClient(cloudformation.NewFromConfig(cfg))
}

// ListStacks returns every stack visible to the caller, following pagination.
func (c *StackClient) ListStacks(ctx context.Context) ([]cloudfn.Stack, error) {
	var stacks []cloudfn.Stack
	p := cloudformation.NewDescribeStacksPaginator(c.api, &cloudformation.DescribeStacksInput{})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, classify(err, "DescribeStacks", "stack", "")
		}
		for _, s := range page.Stacks {
			stacks = append(stacks, convertStack(s))
		}
	}
	return stacks, nil
}

// DescribeStack returns a single stack by name or id.
func (c *StackClient) DescribeStack(ctx context.Context, nameOrID string) (*cloudfn.Stack, error) {
	out, err := c.api.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: awssdk.String(nameOrID),
	})
	if err != nil {
		return nil, classify(err, "DescribeStacks", "stack", nameOrID)
	}
	if len(out.Stacks) == 0 {
		return nil, cloudfn.ErrNotFound("stack", nameOrID)
	}
	stack := convertStack(out.Stacks[0])
	return &stack, nil
}

// DeleteStack requests deletion of a stack. CloudFormation treats deleting an
// already-deleted stack as a no-op.
func (c *StackClient) DeleteStack(ctx context.Context, nameOrID string) error {
	_, err := c.api.DeleteStack(ctx, &cloudformation.DeleteStackInput{
		StackName: awssdk.String(nameOrID),
	})
	return classify(err, "DeleteStack", "stack", nameOrID)
}

func convertStack(s cfntypes.Stack) cloudfn.Stack {
	stack := cloudfn.Stack{
		Name:   awssdk.ToString(s.StackName),
		ID:     awssdk.ToString(s.StackId),
		Status: string(s.StackStatus),
		Tags:   make(map[string]string, len(s.Tags)),
	}
	if s.CreationTime != nil {
		stack.CreatedAt = s.CreationTime.UTC()
	}
	if s.LastUpdatedTime != nil {
		updated := s.LastUpdatedTime.UTC()
		stack.UpdatedAt = &updated
	}
	for _, tag := range s.Tags {
		stack.Tags[awssdk.ToString(tag.Key)] = awssdk.ToString(tag.Value)
	}
	return stack
}
