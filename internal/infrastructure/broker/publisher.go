// Package broker mirrors the event feed to an AMQP exchange so outside
// consumers can follow the ledger without reading the store.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/iho/shardbank/internal/eventlog"
)

// ConsumerName identifies the publisher's stream checkpoint.
const ConsumerName = "broker-publisher"

// Checkpointer persists the publisher's feed offset.
type Checkpointer interface {
	Get(ctx context.Context, consumer string) (int64, error)
	Set(ctx context.Context, consumer string, offset int64) error
}

// message is the wire shape published to the exchange.
type message struct {
	GlobalSeq   int64           `json:"global_seq"`
	AggregateID string          `json:"aggregate_id"`
	Sequence    int64           `json:"sequence"`
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Config configures the Publisher.
type Config struct {
	URL      string
	Exchange string

	Log         eventlog.Reader
	Checkpoints Checkpointer

	PollInterval time.Duration
	Logger       zerolog.Logger
}

// Publisher tails the event feed and publishes each record to a topic
// exchange, routing key the event kind. Delivery is at-least-once: the
// offset is checkpointed only after a successful publish, so consumers must
// dedup on global_seq.
type Publisher struct {
	cfg  Config
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewPublisher connects to the broker and declares the exchange.
func NewPublisher(cfg Config) (*Publisher, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", cfg.Exchange, err)
	}

	return &Publisher{cfg: cfg, conn: conn, ch: ch}, nil
}

// Run publishes the feed until the context is cancelled.
func (p *Publisher) Run(ctx context.Context) error {
	offset, err := p.cfg.Checkpoints.Get(ctx, ConsumerName)
	if err != nil {
		return err
	}

	sub := eventlog.NewSubscription(p.cfg.Log, eventlog.SubscriptionConfig{
		Name:           ConsumerName,
		AfterGlobalSeq: offset,
		PollInterval:   p.cfg.PollInterval,
		Logger:         p.cfg.Logger,
	})

	return sub.Run(ctx, p.publish)
}

func (p *Publisher) publish(ctx context.Context, rec eventlog.Record) error {
	body, err := json.Marshal(message{
		GlobalSeq:   rec.GlobalSeq,
		AggregateID: rec.AggregateID,
		Sequence:    rec.Sequence,
		Kind:        rec.Kind,
		Payload:     rec.Payload,
		Timestamp:   rec.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	err = p.ch.PublishWithContext(ctx, p.cfg.Exchange, rec.Kind, false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   fmt.Sprintf("%d", rec.GlobalSeq),
		Timestamp:   rec.Timestamp,
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", rec.Kind, err)
	}

	if err := p.cfg.Checkpoints.Set(ctx, ConsumerName, rec.GlobalSeq); err != nil {
		p.cfg.Logger.Warn().Err(err).Msg("publisher checkpoint write failed")
	}

	return nil
}

// Close releases the broker connection.
func (p *Publisher) Close() error {
	if err := p.ch.Close(); err != nil {
		return err
	}

	return p.conn.Close()
}
