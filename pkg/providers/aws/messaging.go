package aws

import (
	"context"
	"encoding/json"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/anirudhbiyani/cloud-functions/pkg/cloudfn"
)

// LambdaAPI abstracts Lambda invocation.
type LambdaAPI interface {
	Invoke(ctx context.Context, in *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// LambdaInvoker implements cloudfn.Invoker against deployed Lambda functions.
type LambdaInvoker struct {
	api    LambdaAPI
	prefix string
}

var _ cloudfn.Invoker = (*LambdaInvoker)(nil)

// NewLambdaInvoker creates an invoker. prefix is prepended to every function
// name, e.g. "orders-prod-" turns capture-card-payment into orders-prod-capture-card-payment.
func NewLambdaInvoker(api LambdaAPI, prefix string) *LambdaInvoker {
	return &LambdaInvoker{api: api, prefix: prefix}
}

// Invoke implements cloudfn.Invoker.
func (l *LambdaInvoker) Invoke(ctx context.Context, function string, payload any, mode cloudfn.InvocationType) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, cloudfn.ErrValidation("payload is not serializable").WithCause(err)
	}

	invocationType := lambdatypes.InvocationTypeRequestResponse
	if mode == cloudfn.InvocationEvent {
		invocationType = lambdatypes.InvocationTypeEvent
	}

	name := l.prefix + function
	out, err := l.api.Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   awssdk.String(name),
		InvocationType: invocationType,
		Payload:        data,
	})
	if err != nil {
		return nil, classify(err, "Invoke", "function", name)
	}
	if out.FunctionError != nil {
		return nil, cloudfn.ErrInternal(fmt.Sprintf("function %s returned %s", name, awssdk.ToString(out.FunctionError))).
			WithResource("function", name).
			WithDetail("payload", string(out.Payload))
	}
	return out.Payload, nil
}

// KinesisAPI abstracts Kinesis record publishing.
type KinesisAPI interface {
	PutRecord(ctx context.Context, in *kinesis.PutRecordInput, optFns ...func(*kinesis.Options)) (*kinesis.PutRecordOutput, error)
}

// KinesisStream publishes records to one stream.
type KinesisStream struct {
	api  KinesisAPI
	name string
}

// NewKinesisStream creates a publisher for stream name.
func NewKinesisStream(api KinesisAPI, name string) *KinesisStream {
	return &KinesisStream{api: api, name: name}
}

// Publish puts one record on the stream.
func (k *KinesisStream) Publish(ctx context.Context, partitionKey string, data []byte) error {
	_, err := k.api.PutRecord(ctx, &kinesis.PutRecordInput{
		StreamName:   awssdk.String(k.name),
		PartitionKey: awssdk.String(partitionKey),
		Data:         data,
	})
	return classify(err, "PutRecord", "stream", k.name)
}

// SNSAPI abstracts SNS publishing.
type SNSAPI interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSTopic publishes messages to one topic.
type SNSTopic struct {
	api SNSAPI
	arn string
}

// NewSNSTopic creates a publisher for the topic ARN.
func NewSNSTopic(api SNSAPI, arn string) *SNSTopic {
	return &SNSTopic{api: api, arn: arn}
}

// Publish sends a message with an optional subject.
func (t *SNSTopic) Publish(ctx context.Context, subject, message string) error {
	in := &sns.PublishInput{
		TopicArn: awssdk.String(t.arn),
		Message:  awssdk.String(message),
	}
	if subject != "" {
		in.Subject = awssdk.String(subject)
	}
	_, err := t.api.Publish(ctx, in)
	return classify(err, "Publish", "topic", t.arn)
}
