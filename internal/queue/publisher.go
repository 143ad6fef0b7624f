package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/iliyamo/contract-lifecycle/internal/event"
	"github.com/iliyamo/contract-lifecycle/internal/metrics"
)

// Channel is the part of *amqp.Channel the publisher uses.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Dialer opens a channel with the queue declared.
type Dialer func() (Channel, error)

// AMQPDialer dials url and declares queue as durable.
func AMQPDialer(url, queue string) Dialer {
	return func() (Channel, error) {
		conn, err := amqp.Dial(url)
		if err != nil {
			return nil, fmt.Errorf("dial broker: %w", err)
		}
		ch, err := conn.Channel()
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("open channel: %w", err)
		}
		if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("declare %s: %w", queue, err)
		}
		return &connChannel{Channel: ch, conn: conn}, nil
	}
}

// connChannel closes the connection together with its channel.
type connChannel struct {
	*amqp.Channel
	conn *amqp.Connection
}

func (c *connChannel) Close() error {
	_ = c.Channel.Close()
	return c.conn.Close()
}

// Publisher forwards domain events to the events queue.  Delivery is best
// effort: failures are logged and counted, never returned, so a broker
// outage does not fail the workflow that emitted the event.
type Publisher struct {
	dial    Dialer
	queue   string
	metrics *metrics.Metrics
	log     zerolog.Logger

	mu sync.Mutex
	ch Channel
}

// NewPublisher returns a publisher that dials lazily on first use.
func NewPublisher(dial Dialer, queue string, m *metrics.Metrics, log zerolog.Logger) *Publisher {
	return &Publisher{dial: dial, queue: queue, metrics: m, log: log.With().Str("component", "event_publisher").Logger()}
}

// Handle is an event.Handler.
func (p *Publisher) Handle(ctx context.Context, ev event.Event) error {
	if err := p.publish(ctx, ev); err != nil {
		p.metrics.EventsForwarded.WithLabelValues(ev.Name(), "error").Inc()
		p.log.Warn().Err(err).Str("event", ev.Name()).Msg("event not forwarded")
		return nil
	}
	p.metrics.EventsForwarded.WithLabelValues(ev.Name(), "ok").Inc()
	return nil
}

func (p *Publisher) publish(ctx context.Context, ev event.Event) error {
	env, err := NewEnvelope(ev, time.Now())
	if err != nil {
		return err
	}
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		ch, err := p.dial()
		if err != nil {
			return err
		}
		p.ch = ch
	}
	err = p.ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    env.ID,
		Type:         env.Event,
		Timestamp:    env.OccurredAt,
		Body:         body,
	})
	if err != nil {
		// drop the channel so the next event redials
		_ = p.ch.Close()
		p.ch = nil
		return fmt.Errorf("publish %s: %w", ev.Name(), err)
	}
	return nil
}

// Close releases the broker connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return nil
	}
	err := p.ch.Close()
	p.ch = nil
	return err
}
