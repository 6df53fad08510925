package commands

import (
	"context"
	"log/slog"
	"strings"
	"time"

	application "ordercore/contexts/commerce-core/order-fulfillment-service/application"
	"ordercore/contexts/commerce-core/order-fulfillment-service/domain/entities"
	"ordercore/contexts/commerce-core/order-fulfillment-service/domain/services"
	"ordercore/contexts/commerce-core/order-fulfillment-service/ports"
)

const DefaultOrderExpiry = 30 * time.Minute

type PlaceOrderCommand struct {
	OrderID string
	UserID  string
	Items   []entities.OrderItem
}

type PlaceOrderResult struct {
	Order entities.Order
	// ExpirationArmed is false when the delayed signal could not be
	// scheduled; the sweep still cancels the order once it is due.
	ExpirationArmed bool
}

type PlaceOrderUseCase struct {
	Orders    ports.OrderRepository
	Scheduler ports.ExpirationScheduler
	IDGen     ports.IDGenerator
	Clock     ports.Clock
	Expiry    time.Duration
	Logger    *slog.Logger
}

func (uc PlaceOrderUseCase) Execute(ctx context.Context, cmd PlaceOrderCommand) (PlaceOrderResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	expiry := uc.Expiry
	if expiry <= 0 {
		expiry = DefaultOrderExpiry
	}

	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		id, err := uc.IDGen.NewID(ctx)
		if err != nil {
			return PlaceOrderResult{}, err
		}
		orderID = id
	}

	now := application.ResolveNow(uc.Clock)
	order, err := services.NewOrder(orderID, strings.TrimSpace(cmd.UserID), cmd.Items, now, expiry)
	if err != nil {
		return PlaceOrderResult{}, err
	}
	if err := uc.Orders.PlaceOrder(ctx, order, []entities.DomainEvent{services.OrderCreatedEvent(order)}); err != nil {
		return PlaceOrderResult{}, err
	}

	logger.Info("order placed",
		"event", "order_fulfillment_order_placed",
		"module", application.ModuleName,
		"layer", "application",
		"order_id", order.OrderID,
		"user_id", order.UserID,
		"item_count", len(order.Items),
		"total_amount", order.TotalAmount.StringFixed(2),
		"expires_at", order.ExpiresAt.Format(time.RFC3339),
	)

	result := PlaceOrderResult{Order: order}
	if uc.Scheduler == nil {
		return result, nil
	}
	ticket := entities.ExpirationTicket{
		OrderID:     order.OrderID,
		UserID:      order.UserID,
		RequestedAt: now,
		Delay:       expiry,
	}
	if err := uc.Scheduler.Schedule(ctx, ticket); err != nil {
		logger.Warn("expiration signal not scheduled",
			"event", "order_fulfillment_expiration_schedule_failed",
			"module", application.ModuleName,
			"layer", "application",
			"order_id", order.OrderID,
			"error", err.Error(),
		)
		return result, nil
	}
	result.ExpirationArmed = true
	return result, nil
}
