package rabbitmqadapter

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	DelayExchange   = "order.dlx.exchange"
	DelayQueue      = "order.delay.queue"
	ExpiredQueue    = "order.expired.queue"
	ExpiredRouting  = "order.expired.queue"
	DefaultPrefetch = 10
)

var ErrChannelRequired = errors.New("amqp channel is required")

// Channel is the subset of *amqp.Channel the expiration flow uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
}

// DeclareTopology declares the delay queue, the dead-letter exchange and
// the expired queue. Re-declaring identical topology is a no-op on the
// broker, so every process may call it at start.
//
// Tickets wait in the delay queue without consumers; when their per-message
// TTL elapses the broker dead-letters them through the exchange into the
// expired queue.
func DeclareTopology(ch Channel) error {
	if ch == nil {
		return fmt.Errorf("declare expiration topology: %w", ErrChannelRequired)
	}
	if err := ch.ExchangeDeclare(DelayExchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", DelayExchange, err)
	}
	if _, err := ch.QueueDeclare(ExpiredQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", ExpiredQueue, err)
	}
	if err := ch.QueueBind(ExpiredQueue, ExpiredRouting, DelayExchange, false, nil); err != nil {
		return fmt.Errorf("bind %s: %w", ExpiredQueue, err)
	}
	if _, err := ch.QueueDeclare(DelayQueue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    DelayExchange,
		"x-dead-letter-routing-key": ExpiredRouting,
	}); err != nil {
		return fmt.Errorf("declare %s: %w", DelayQueue, err)
	}
	return nil
}
