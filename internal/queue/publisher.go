package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Publisher sends TicketsIssued events to a durable queue.  It keeps one
// connection and channel open and redials lazily after a failure.
type Publisher struct {
	url   string
	queue string
	log   *zap.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewPublisher returns a Publisher for url.  No connection is made until
// the first publish.
func NewPublisher(url, queue string, log *zap.Logger) *Publisher {
	return &Publisher{url: url, queue: queue, log: log}
}

// TicketsIssued publishes ev as a persistent JSON message.
func (p *Publisher) TicketsIssued(ctx context.Context, ev TicketsIssuedEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal tickets issued: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel()
	if err != nil {
		return err
	}
	err = ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		MessageId:    fmt.Sprintf("reservation-%d", ev.ReservationID),
		Body:         body,
	})
	if err != nil {
		p.reset()
		return fmt.Errorf("publish tickets issued: %w", err)
	}
	p.log.Debug("tickets issued published",
		zap.Uint64("reservation_id", ev.ReservationID), zap.Int("credentials", len(ev.Credentials)))
	return nil
}

// Close releases the broker connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn, p.ch = nil, nil
	return err
}

// channel returns the open channel, dialing when needed.  Caller holds mu.
func (p *Publisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	p.reset()
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq queue declare: %w", err)
	}
	p.conn, p.ch = conn, ch
	return ch, nil
}

func (p *Publisher) reset() {
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.conn, p.ch = nil, nil
}
