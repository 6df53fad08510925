package rabbitmqadapter

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"

	"ordercore/contexts/commerce-core/order-fulfillment-service/domain/entities"
	domainerrors "ordercore/contexts/commerce-core/order-fulfillment-service/domain/errors"
	contractsv1 "ordercore/contracts/gen/events/v1"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Scheduler arms expiration tickets by publishing them to the delay queue
// with a per-message TTL.
type Scheduler struct {
	channel Channel
	logger  *slog.Logger
}

func NewScheduler(channel Channel, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{channel: channel, logger: logger}
}

func (s *Scheduler) Schedule(ctx context.Context, ticket entities.ExpirationTicket) error {
	if s.channel == nil {
		return ErrChannelRequired
	}
	if strings.TrimSpace(ticket.OrderID) == "" || ticket.Delay <= 0 {
		return domainerrors.ErrInvalidOrderRequest
	}
	body, err := json.Marshal(contractsv1.ExpirationTicket{
		OrderID:     ticket.OrderID,
		UserID:      ticket.UserID,
		RequestedAt: ticket.RequestedAt.UTC(),
	})
	if err != nil {
		return err
	}

	if err := s.channel.PublishWithContext(ctx, "", DelayQueue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Expiration:   strconv.FormatInt(max(ticket.Delay.Milliseconds(), 1), 10),
		MessageId:    ticket.OrderID,
		Timestamp:    ticket.RequestedAt.UTC(),
		Body:         body,
	}); err != nil {
		return err
	}

	s.logger.Debug("expiration ticket armed",
		"event", "order_fulfillment_expiration_armed",
		"module", "commerce-core/order-fulfillment-service",
		"layer", "adapter",
		"order_id", ticket.OrderID,
		"delay", ticket.Delay.String(),
	)
	return nil
}
