package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProducer_RejectsAfterClose(t *testing.T) {
	p := NewProducer([]string{"localhost:9092"}, 4)
	require.NoError(t, p.Publish(context.Background(), "t", []byte("k"), []byte("v")))
	p.Close()
	p.Close()

	err := p.Publish(context.Background(), "t", []byte("k"), []byte("v"))
	assert.ErrorIs(t, err, ErrProducerClosed)
}

func TestProducer_FullInboxHonoursContext(t *testing.T) {
	p := NewProducer([]string{"localhost:9092"}, 1)
	require.NoError(t, p.Publish(context.Background(), "t", nil, []byte("1")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Publish(ctx, "t", nil, []byte("2"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConsumer_HandleRetries(t *testing.T) {
	c := &Consumer{retries: 2}
	calls := 0
	err := c.handle(context.Background(), func(context.Context, kafka.Message) error {
		calls++
		if calls < 3 {
			return errors.New("relay down")
		}
		return nil
	}, kafka.Message{Topic: "t"})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = c.handle(context.Background(), func(context.Context, kafka.Message) error {
		calls++
		return errors.New("still down")
	}, kafka.Message{Topic: "t"})
	assert.EqualError(t, err, "still down")
	assert.Equal(t, 3, calls)
}

func TestEnvelopeHelpers(t *testing.T) {
	type payload struct {
		OrderID string `json:"order_id"`
	}
	var env struct {
		EventID string          `json:"event_id"`
		Payload json.RawMessage `json:"payload"`
	}
	raw := MustMarshal(map[string]any{"event_id": "e-1", "payload": payload{OrderID: "o-1"}})
	require.NoError(t, UnmarshalEnvelope(raw, &env))
	assert.Equal(t, "e-1", env.EventID)

	p, err := UnwrapPayload[payload](env.Payload)
	require.NoError(t, err)
	assert.Equal(t, "o-1", p.OrderID)

	assert.Error(t, UnmarshalEnvelope([]byte("{"), &env))
}
