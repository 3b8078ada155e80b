// Package alerts fans anomaly event transitions out to a message queue.
package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/oceanstack/argo-insight/internal/models"
)

// Message is the JSON body published for each event transition.
type Message struct {
	Action      string              `json:"action"`
	Event       models.AnomalyEvent `json:"event"`
	PublishedAt time.Time           `json:"published_at"`
}

// Publisher sends event transitions to subscribers.
type Publisher interface {
	Publish(ctx context.Context, action string, event models.AnomalyEvent) error
	Close() error
}

// Noop drops every message.
type Noop struct{}

func (Noop) Publish(context.Context, string, models.AnomalyEvent) error { return nil }
func (Noop) Close() error                                              { return nil }

// channel is the subset of *amqp.Channel the publisher uses.
type channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes persistent JSON messages to a durable queue.
type AMQPPublisher struct {
	mu     sync.Mutex
	conn   *amqp.Connection
	ch     channel
	queue  string
	logger *slog.Logger
	now    func() time.Time
}

// DialAMQP connects to the broker at url and declares queue.
func DialAMQP(url, queue string, logger *slog.Logger) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	p, err := newPublisher(ch, queue, logger)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

func newPublisher(ch channel, queue string, logger *slog.Logger) (*AMQPPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return &AMQPPublisher{ch: ch, queue: queue, logger: logger, now: time.Now}, nil
}

// Publish sends one event transition.
func (p *AMQPPublisher) Publish(ctx context.Context, action string, event models.AnomalyEvent) error {
	now := p.now().UTC()
	body, err := json.Marshal(Message{Action: action, Event: event, PublishedAt: now})
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		MessageId:    event.ID + ":" + action,
		Type:         string(event.AnomalyType),
		Timestamp:    now,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish alert %s: %w", event.ID, err)
	}
	p.logger.Debug("anomaly alert published",
		slog.String("queue", p.queue),
		slog.String("event_id", event.ID),
		slog.String("action", action))
	return nil
}

// Close releases the channel and connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
