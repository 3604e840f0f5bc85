package kafka

import (
	"context"
	"errors"
	"testing"

	sdk "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anirudhbiyani/cloud-functions/pkg/cloudfn"
)

type fakeWriter struct {
	msgs   []sdk.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...sdk.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestProducerPublish(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducerWithWriter(w, "orders")

	require.NoError(t, p.Publish(context.Background(), "restaurant-1", []byte(`{"orderId":"o-1"}`)))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "restaurant-1", string(w.msgs[0].Key))
	assert.JSONEq(t, `{"orderId":"o-1"}`, string(w.msgs[0].Value))

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestProducerPublishErrors(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker unreachable")}
	err := NewProducerWithWriter(w, "orders").Publish(context.Background(), "k", nil)
	assert.True(t, cloudfn.IsCategory(err, cloudfn.ErrCategoryNetwork))

	w.err = context.DeadlineExceeded
	err = NewProducerWithWriter(w, "orders").Publish(context.Background(), "k", nil)
	assert.True(t, cloudfn.IsCategory(err, cloudfn.ErrCategoryTimeout))
}

func TestNewProducerValidates(t *testing.T) {
	_, err := NewProducer(nil, "orders")
	assert.True(t, cloudfn.IsCategory(err, cloudfn.ErrCategoryValidation))

	_, err = NewProducer([]string{"localhost:9092"}, "")
	assert.True(t, cloudfn.IsCategory(err, cloudfn.ErrCategoryValidation))

	p, err := NewProducer([]string{"localhost:9092"}, "orders")
	require.NoError(t, err)
	require.NoError(t, p.Close())
}
