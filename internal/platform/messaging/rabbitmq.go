package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
)

const rabbitDialTimeout = 30 * time.Second

// RabbitMQ owns one AMQP connection. Publishing and consuming use separate
// channels so a slow consumer cannot block scheduling.
type RabbitMQ struct {
	conn   *amqp.Connection
	logger *slog.Logger
}

func DialRabbitMQ(ctx context.Context, url string, logger *slog.Logger) (*RabbitMQ, error) {
	if url == "" {
		return nil, errors.New("rabbitmq url is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = rabbitDialTimeout
	conn, err := backoff.RetryNotifyWithData[*amqp.Connection](func() (*amqp.Connection, error) {
		return amqp.Dial(url)
	}, backoff.WithContext(policy, ctx), func(err error, wait time.Duration) {
		logger.Warn("rabbitmq dial failed, retrying",
			"event", "rabbitmq_connect_retry",
			"module", "internal/platform/messaging",
			"layer", "platform",
			"retry_in", wait.String(),
			"error", err.Error(),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	return &RabbitMQ{conn: conn, logger: logger}, nil
}

// Channel opens a new AMQP channel on the shared connection.
func (r *RabbitMQ) Channel() (*amqp.Channel, error) {
	if r == nil || r.conn == nil {
		return nil, errors.New("rabbitmq connection is not open")
	}
	ch, err := r.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	return ch, nil
}

func (r *RabbitMQ) Healthy() bool {
	return r != nil && r.conn != nil && !r.conn.IsClosed()
}

func (r *RabbitMQ) Close() error {
	if r == nil || r.conn == nil || r.conn.IsClosed() {
		return nil
	}
	return r.conn.Close()
}
