// Package aws adapts AWS SDK v2 service clients to the small interfaces the
// cloud-functions handlers depend on.
package aws

import (
	"context"
	"errors"
	"fmt"
	"strings"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/smithy-go"
	pkgerrors "github.com/pkg/errors"

	"github.com/anirudhbiyani/cloud-functions/pkg/cloudfn"
)

// Options configures how the shared AWS configuration is loaded.
type Options struct {
	Region  string
	Profile string
	// Endpoint overrides every service endpoint, e.g. http://localhost:4566.
	Endpoint string
}

// LoadConfig resolves credentials and region the same way the AWS CLI does,
// applying any explicit overrides from opts.
func LoadConfig(ctx context.Context, opts Options) (awssdk.Config, error) {
	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	if opts.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(opts.Profile))
	}
	if opts.Endpoint != "" {
		loadOpts = append(loadOpts, config.WithBaseEndpoint(opts.Endpoint))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return awssdk.Config{}, pkgerrors.Wrap(err, "load AWS configuration")
	}
	return cfg, nil
}

// errorCode returns the AWS API error code, if err carries one.
func errorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

// isNotFoundError checks if an error indicates the resource was not found.
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	switch errorCode(err) {
	case "NoSuchKey", "NotFound", "NoSuchEntity", "ResourceNotFoundException", "NoSuchBucket":
		return true
	case "ValidationError":
		// CloudFormation reports unknown stacks as validation errors.
		return strings.Contains(err.Error(), "does not exist")
	}
	return false
}

// conflictCodes are errors raised when the resource is busy or was changed by
// someone else. They clear up on their own.
var conflictCodes = map[string]bool{
	"ConditionalCheckFailedException": true,
	"TransactionConflictException":    true,
	"OperationInProgressException":    true,
	"TokenAlreadyExistsException":     true,
	"PreconditionFailed":              true,
	"ConflictingOperationInProgress":  true,
	"ResourceConflictException":       true,
}

// classify converts an SDK error into a categorized FunctionError.
func classify(err error, operation, resourceType, resourceID string) error {
	if err == nil {
		return nil
	}

	var fnErr *cloudfn.FunctionError
	if errors.As(err, &fnErr) {
		return err
	}

	code := errorCode(err)
	var out *cloudfn.FunctionError
	switch {
	case isNotFoundError(err):
		out = cloudfn.ErrNotFound(resourceType, resourceID)
	case strings.HasPrefix(code, "AccessDenied"), code == "UnauthorizedOperation", code == "AuthorizationError":
		out = cloudfn.ErrPermission(fmt.Sprintf("%s denied", operation))
	case conflictCodes[code]:
		out = cloudfn.ErrConflict(fmt.Sprintf("%s conflicts with a concurrent change", operation))
	case strings.Contains(code, "Throttl"), code == "TooManyRequestsException", code == "ProvisionedThroughputExceededException":
		out = cloudfn.ErrRateLimit(fmt.Sprintf("%s throttled", operation))
	case errors.Is(err, context.DeadlineExceeded):
		out = cloudfn.ErrTimeout(fmt.Sprintf("%s timed out", operation))
	case code == "":
		out = cloudfn.ErrNetwork(fmt.Sprintf("%s failed", operation))
	default:
		out = cloudfn.ErrInternal(fmt.Sprintf("%s failed", operation))
	}

	out = out.WithOperation(operation).WithCause(pkgerrors.Wrap(err, operation))
	if resourceID != "" {
		out = out.WithResource(resourceType, resourceID)
	}
	if code != "" {
		out = out.WithDetail("aws_error_code", code)
	}
	return out
}
