package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Consumer drains the tickets-issued queue and appends one line per
// message to <dir>/tickets.log.  It stands in for the mailer that would
// deliver credentials to buyers.
type Consumer struct {
	URL   string
	Queue string
	Dir   string
	Log   *zap.Logger
}

// Run connects, consumes and reconnects with backoff until ctx is done.
func (c Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.URL)
		if err != nil {
			c.Log.Warn("tickets consumer: dial failed", zap.Error(err), zap.Duration("retry_in", backoff))
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.Log.Warn("tickets consumer: loop ended, reconnecting", zap.Error(err))
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (c Consumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.Log.Warn("tickets consumer: set QoS failed", zap.Error(err))
	}
	if _, err := ch.QueueDeclare(c.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.ConsumeWithContext(ctx, c.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for d := range msgs {
		if err := c.handle(d.Body); err != nil {
			c.Log.Error("tickets consumer: handle message failed", zap.Error(err))
			// Reject without requeue so a poison message cannot spin.
			_ = d.Nack(false, false)
			continue
		}
		_ = d.Ack(false)
	}
	return errors.New("deliveries channel closed")
}

func (c Consumer) handle(body []byte) error {
	var ev TicketsIssuedEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", c.Dir, err)
	}
	f, err := os.OpenFile(filepath.Join(c.Dir, "tickets.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(FormatIssued(ev)); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

// FormatIssued renders ev as a single log line.
func FormatIssued(ev TicketsIssuedEvent) string {
	units := make([]string, 0, len(ev.Credentials))
	for _, cr := range ev.Credentials {
		units = append(units, fmt.Sprintf("%d:%s", cr.ReservationUnitID, cr.CredentialID))
	}
	return fmt.Sprintf("[%s] Tickets issued | reservation_id=%d | user_id=%d | event_id=%d | total=%s | credentials=[%s]\n",
		ev.ConfirmedAt, ev.ReservationID, ev.UserID, ev.EventID, ev.Total, strings.Join(units, ","))
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
