package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ariefcatur/ramro-storefront/internal/clock"
	kafkax "github.com/ariefcatur/ramro-storefront/internal/kafka"
	"github.com/rs/zerolog/log"
	"github.com/streadway/amqp"
)

const publishTimeout = 5 * time.Second

var ErrNotConfirmed = errors.New("message not confirmed by broker")

type amqpChannel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPSender publishes envelopes to a topic exchange and waits for the
// broker's publisher confirm before returning.
type AMQPSender struct {
	conn     *amqp.Connection
	ch       amqpChannel
	confirms <-chan amqp.Confirmation
	exchange string
	producer string
	clock    clock.Clock
	timeout  time.Duration

	mu sync.Mutex
}

func DialAMQP(url, exchange, producer string) (*AMQPSender, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("channel could not be put into confirm mode: %w", err)
	}
	confirms := ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	log.Info().Str("exchange", exchange).Msg("rabbitmq sender ready")
	s := newAMQPSender(ch, confirms, exchange, producer)
	s.conn = conn
	return s, nil
}

func newAMQPSender(ch amqpChannel, confirms <-chan amqp.Confirmation, exchange, producer string) *AMQPSender {
	return &AMQPSender{
		ch:       ch,
		confirms: confirms,
		exchange: exchange,
		producer: producer,
		clock:    clock.NewSystem(),
		timeout:  publishTimeout,
	}
}

func (s *AMQPSender) Send(ctx context.Context, ev Event) error {
	env, err := Wrap(s.producer, ev, s.clock.Now())
	if err != nil {
		return err
	}

	// One outstanding publish at a time so the next confirm is ours.
	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.ch.Publish(s.exchange, TopicFor(ev.Kind()), false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     env.EventID,
		CorrelationId: env.CorrelationID,
		Type:          string(env.EventType),
		Timestamp:     env.OccurredAt,
		Body:          kafkax.MustMarshal(env),
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", ev.Kind(), err)
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()
	select {
	case confirm, ok := <-s.confirms:
		if !ok || !confirm.Ack {
			return fmt.Errorf("%s: %w", ev.Kind(), ErrNotConfirmed)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("%s: publish confirmation timeout", ev.Kind())
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *AMQPSender) Close() error {
	err := s.ch.Close()
	if s.conn != nil && !s.conn.IsClosed() {
		err = errors.Join(err, s.conn.Close())
	}
	return err
}
