package aws

import (
	"bytes"
	"context"
	"errors"
	"io"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	pkgerrors "github.com/pkg/errors"

	"github.com/anirudhbiyani/cloud-functions/pkg/cloudfn"
)

// S3API abstracts the object operations used by the registry handlers.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ObjectStore reads and writes whole objects in one bucket.
type ObjectStore struct {
	api    S3API
	bucket string
}

// NewObjectStore creates an ObjectStore for bucket.
func NewObjectStore(api S3API, bucket string) *ObjectStore {
	return &ObjectStore{api: api, bucket: bucket}
}

// Get returns the object body. A missing key is a not-found error.
func (o *ObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := o.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: awssdk.String(o.bucket),
		Key:    awssdk.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, cloudfn.ErrNotFound("object", key).WithCause(err)
		}
		return nil, classify(err, "GetObject", "object", key)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, cloudfn.ErrNetwork("reading object body failed").WithResource("object", key).
			WithCause(pkgerrors.Wrap(err, "read body"))
	}
	return data, nil
}

// Put writes data under key with the given content type.
func (o *ObjectStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := o.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      awssdk.String(o.bucket),
		Key:         awssdk.String(key),
		Body:        bytes.NewReader(data),
		ContentType: awssdk.String(contentType),
	})
	return classify(err, "PutObject", "object", key)
}
