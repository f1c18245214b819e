package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	defaultExchange    = "relay"
	defaultConnTimeout = 10 * time.Second
)

// AMQPConfig configures the RabbitMQ publisher.
type AMQPConfig struct {
	URL         string
	Exchange    string
	Producer    string
	ConnTimeout time.Duration
}

// AMQPPublisher publishes envelopes to a durable topic exchange, routing by event type.
type AMQPPublisher struct {
	conn     *amqp.Connection
	exchange string
	producer string
	logger   *slog.Logger

	mu sync.Mutex
	ch *amqp.Channel
}

// NewAMQPPublisher dials RabbitMQ and declares the exchange.
func NewAMQPPublisher(ctx context.Context, cfg AMQPConfig, logger *slog.Logger) (*AMQPPublisher, error) {
	const op = "events.NewAMQPPublisher"

	if cfg.URL == "" {
		return nil, fmt.Errorf("amqp URL is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "events"))

	exchange := cfg.Exchange
	if exchange == "" {
		exchange = defaultExchange
	}
	timeout := cfg.ConnTimeout
	if timeout <= 0 {
		timeout = defaultConnTimeout
	}
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("context deadline exceeded before connection attempt")
	}

	host := ""
	if u, err := url.Parse(cfg.URL); err == nil {
		host = u.Host
	}
	logger.With("op", op).Info("connecting to rabbitmq", slog.String("host", host))

	conn, err := amqp.DialConfig(cfg.URL, amqp.Config{Dial: amqp.DefaultDial(timeout)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %q: %w", exchange, err)
	}

	return &AMQPPublisher{
		conn:     conn,
		ch:       ch,
		exchange: exchange,
		producer: cfg.Producer,
		logger:   logger,
	}, nil
}

// Publish implements Publisher.
func (p *AMQPPublisher) Publish(ctx context.Context, env Envelope) error {
	if env.Meta.ID == "" {
		return fmt.Errorf("envelope.Meta.ID is required")
	}
	if env.Meta.Time.IsZero() {
		env.Meta.Time = time.Now().UTC()
	}
	if env.Meta.Producer == "" {
		env.Meta.Producer = p.producer
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil || p.ch.IsClosed() {
		ch, err := p.conn.Channel()
		if err != nil {
			return fmt.Errorf("reopen channel: %w", err)
		}
		p.ch = ch
	}
	return p.ch.PublishWithContext(ctx, p.exchange, string(env.Meta.Type), false, false, amqp.Publishing{
		ContentType:   "application/json",
		Body:          body,
		DeliveryMode:  amqp.Persistent,
		MessageId:     env.Meta.ID,
		CorrelationId: env.Meta.CorrelationID,
		Type:          string(env.Meta.Type),
		Timestamp:     env.Meta.Time,
		AppId:         env.Meta.Producer,
	})
}

// Close implements Publisher.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

var _ Publisher = (*AMQPPublisher)(nil)
