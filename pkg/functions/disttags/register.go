package disttags

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/anirudhbiyani/cloud-functions/pkg/cloudfn"
	awsprovider "github.com/anirudhbiyani/cloud-functions/pkg/providers/aws"
	"github.com/anirudhbiyani/cloud-functions/pkg/providers/npm"
)

func init() {
	register(cloudfn.FunctionDistTagsGet, "Read a package's dist-tags", (*Handlers).Get)
	register(cloudfn.FunctionDistTagsPut, "Point a dist-tag at a version", (*Handlers).Put)
	register(cloudfn.FunctionDistTagsDelete, "Remove a dist-tag", (*Handlers).Delete)
}

func register(name cloudfn.FunctionName, description string, method func(*Handlers, context.Context, events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error)) {
	cloudfn.MustRegister(cloudfn.Definition{
		Name:         name,
		Description:  description,
		Trigger:      cloudfn.TriggerAPIGateway,
		Capabilities: []cloudfn.Capability{cloudfn.CapabilityHTTP},
		Factory: cloudfn.FactoryFunc(func(ctx context.Context, deps cloudfn.Dependencies) (cloudfn.Function, error) {
			h, err := NewFromDependencies(deps)
			if err != nil {
				return nil, err
			}
			return cloudfn.NewFunction(name, func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
				return method(h, ctx, req)
			}), nil
		}),
	})
}

// NewFromDependencies wires the handlers to the registry bucket, the public
// registry and, when configured, the audit topic.
func NewFromDependencies(deps cloudfn.Dependencies) (*Handlers, error) {
	cfg := deps.Config.Registry
	if cfg.Bucket == "" {
		return nil, cloudfn.ErrValidation("registry.bucket is required")
	}

	store := awsprovider.NewObjectStore(s3.NewFromConfig(deps.AWS), cfg.Bucket)
	public := npm.New(npm.Options{
		BaseURL:  cfg.PublicURL,
		Timeout:  cfg.Timeout,
		RetryMax: cfg.RetryMax,
		Logger:   deps.Logger,
	})

	opts := []Option{WithLogger(deps.Logger)}
	if cfg.AuditTopicARN != "" {
		topic := awsprovider.NewSNSTopic(sns.NewFromConfig(deps.AWS), cfg.AuditTopicARN)
		opts = append(opts, WithAuditLog(NewTopicAuditLog(topic)))
	}
	return New(store, public, opts...), nil
}
