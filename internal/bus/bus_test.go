package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "alerts.broadcast.ops-a", Subject("alerts.broadcast", "ops-a"))
	assert.Equal(t, "ops-a", Subject("", "ops-a"))
}

func TestKafkaPublisherKeysByOperator(t *testing.T) {
	w := &fakeWriter{}
	at := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	p := &KafkaPublisher{writer: w, now: func() time.Time { return at }}

	require.NoError(t, p.Publish(context.Background(), "ops-a", []byte(`{"title":"x"}`)))
	require.Len(t, w.messages, 1)
	msg := w.messages[0]
	assert.Equal(t, "ops-a", string(msg.Key))
	assert.Equal(t, `{"title":"x"}`, string(msg.Value))
	assert.Equal(t, at, msg.Time)
	assert.Equal(t, "operator", msg.Headers[0].Key)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisherError(t *testing.T) {
	p := &KafkaPublisher{writer: &fakeWriter{err: errors.New("leader not available")}, now: time.Now}
	assert.EqualError(t, p.Publish(context.Background(), "ops-a", nil), "leader not available")
}

func TestNewKafkaPublisherValidation(t *testing.T) {
	_, err := NewKafkaPublisher(KafkaConfig{Topic: "alerts"})
	assert.Error(t, err)
	_, err = NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:9092"}})
	assert.Error(t, err)

	p, err := NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "alerts"})
	require.NoError(t, err)
	assert.NoError(t, p.Close())
}

func TestNATSPublisherWithoutConnection(t *testing.T) {
	p := &NATSPublisher{Prefix: "alerts"}
	assert.Error(t, p.Publish(context.Background(), "ops-a", nil))
	assert.NoError(t, p.Close())
}
