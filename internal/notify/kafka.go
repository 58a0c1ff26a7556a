package notify

import (
	"context"
	"fmt"

	"github.com/ariefcatur/ramro-storefront/internal/clock"
	kafkax "github.com/ariefcatur/ramro-storefront/internal/kafka"
	kafkago "github.com/segmentio/kafka-go"
)

// Publisher is the subset of kafka.Producer the sender needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte, headers ...kafkago.Header) error
}

type KafkaSender struct {
	pub      Publisher
	producer string
	clock    clock.Clock
}

func NewKafkaSender(pub Publisher, producer string, clk clock.Clock) *KafkaSender {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &KafkaSender{pub: pub, producer: producer, clock: clk}
}

func (s *KafkaSender) Send(ctx context.Context, ev Event) error {
	env, err := Wrap(s.producer, ev, s.clock.Now())
	if err != nil {
		return err
	}
	err = s.pub.Publish(ctx, TopicFor(ev.Kind()), PartitionKey(ev.Key()), kafkax.MustMarshal(env),
		kafkago.Header{Key: "x-event-type", Value: []byte(env.EventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", ev.Kind(), err)
	}
	return nil
}
