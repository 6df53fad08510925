package rabbitmqadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ordercore/contexts/commerce-core/order-fulfillment-service/domain/entities"
	contractsv1 "ordercore/contracts/gen/events/v1"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	defaultConsumerTag  = "order-expiration-consumer"
	defaultRequeueDelay = time.Second
)

var ErrDeliveriesClosed = errors.New("expired queue delivery channel closed")

// Consumer reads expired tickets with manual acknowledgement.
type Consumer struct {
	channel      Channel
	tag          string
	prefetch     int
	requeueDelay time.Duration
	logger       *slog.Logger
}

type ConsumerOption func(*Consumer)

func WithConsumerTag(tag string) ConsumerOption {
	return func(c *Consumer) {
		if strings.TrimSpace(tag) != "" {
			c.tag = tag
		}
	}
}

func WithPrefetch(prefetch int) ConsumerOption {
	return func(c *Consumer) {
		if prefetch > 0 {
			c.prefetch = prefetch
		}
	}
}

// WithRequeueDelay spaces out redeliveries of tickets whose handler failed.
func WithRequeueDelay(delay time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if delay >= 0 {
			c.requeueDelay = delay
		}
	}
}

func NewConsumer(channel Channel, logger *slog.Logger, opts ...ConsumerOption) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	consumer := &Consumer{
		channel:      channel,
		tag:          defaultConsumerTag,
		prefetch:     DefaultPrefetch,
		requeueDelay: defaultRequeueDelay,
		logger:       logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(consumer)
		}
	}
	return consumer
}

// Consume acks handled and no-op tickets, requeues tickets whose handler
// returned an error and rejects bodies that do not decode.
func (c *Consumer) Consume(ctx context.Context, handler func(context.Context, entities.ExpirationTicket) error) error {
	if c.channel == nil {
		return ErrChannelRequired
	}
	if err := c.channel.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}
	deliveries, err := c.channel.Consume(ExpiredQueue, c.tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", ExpiredQueue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return ErrDeliveriesClosed
			}
			c.handle(ctx, delivery, handler)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, delivery amqp.Delivery, handler func(context.Context, entities.ExpirationTicket) error) {
	ticket, err := decodeTicket(delivery.Body)
	if err != nil {
		c.logger.Error("expiration ticket rejected",
			"event", "order_fulfillment_expiration_ticket_rejected",
			"module", "commerce-core/order-fulfillment-service",
			"layer", "adapter",
			"delivery_tag", delivery.DeliveryTag,
			"error", err.Error(),
		)
		c.settle(delivery.Reject(false))
		return
	}

	if err := handler(ctx, ticket); err != nil {
		c.logger.Warn("expiration ticket requeued",
			"event", "order_fulfillment_expiration_ticket_requeued",
			"module", "commerce-core/order-fulfillment-service",
			"layer", "adapter",
			"order_id", ticket.OrderID,
			"error", err.Error(),
		)
		if c.requeueDelay > 0 {
			timer := time.NewTimer(c.requeueDelay)
			select {
			case <-ctx.Done():
			case <-timer.C:
			}
			timer.Stop()
		}
		c.settle(delivery.Nack(false, true))
		return
	}
	c.settle(delivery.Ack(false))
}

func (c *Consumer) settle(err error) {
	if err == nil {
		return
	}
	c.logger.Error("expiration ticket settle failed",
		"event", "order_fulfillment_expiration_ticket_settle_failed",
		"module", "commerce-core/order-fulfillment-service",
		"layer", "adapter",
		"error", err.Error(),
	)
}

func decodeTicket(body []byte) (entities.ExpirationTicket, error) {
	var payload contractsv1.ExpirationTicket
	if err := json.Unmarshal(body, &payload); err != nil {
		return entities.ExpirationTicket{}, err
	}
	if strings.TrimSpace(payload.OrderID) == "" {
		return entities.ExpirationTicket{}, errors.New("expiration ticket has no order id")
	}
	return entities.ExpirationTicket{
		OrderID:     strings.TrimSpace(payload.OrderID),
		UserID:      payload.UserID,
		RequestedAt: payload.RequestedAt.UTC(),
	}, nil
}
