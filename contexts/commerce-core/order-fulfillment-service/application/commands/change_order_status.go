package commands

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	application "ordercore/contexts/commerce-core/order-fulfillment-service/application"
	"ordercore/contexts/commerce-core/order-fulfillment-service/domain/entities"
	domainerrors "ordercore/contexts/commerce-core/order-fulfillment-service/domain/errors"
	"ordercore/contexts/commerce-core/order-fulfillment-service/domain/services"
	"ordercore/contexts/commerce-core/order-fulfillment-service/ports"
)

type OrderAction string

const (
	OrderActionPay     OrderAction = "pay"
	OrderActionCancel  OrderAction = "cancel"
	OrderActionShip    OrderAction = "ship"
	OrderActionDeliver OrderAction = "deliver"
)

func (a OrderAction) target() (entities.OrderStatus, bool) {
	switch a {
	case OrderActionPay:
		return entities.OrderStatusPaid, true
	case OrderActionCancel:
		return entities.OrderStatusCancelled, true
	case OrderActionShip:
		return entities.OrderStatusShipped, true
	case OrderActionDeliver:
		return entities.OrderStatusDelivered, true
	default:
		return "", false
	}
}

type ChangeOrderStatusCommand struct {
	OrderID        string
	Action         OrderAction
	Reason         string
	PaymentMethod  string
	TrackingNumber string
}

type ChangeOrderStatusResult struct {
	Order entities.Order
	// Replayed is true when the order was already in the requested status.
	Replayed bool
}

// ChangeOrderStatusUseCase drives pay, cancel, ship and deliver. Ledger
// effects of the change commit together with the new status.
type ChangeOrderStatusUseCase struct {
	Orders ports.OrderRepository
	Clock  ports.Clock
	Logger *slog.Logger
}

func (uc ChangeOrderStatusUseCase) Execute(ctx context.Context, cmd ChangeOrderStatusCommand) (ChangeOrderStatusResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return ChangeOrderStatusResult{}, domainerrors.ErrInvalidOrderRequest
	}
	target, ok := cmd.Action.target()
	if !ok {
		return ChangeOrderStatusResult{}, domainerrors.ErrInvalidOrderTransition
	}
	if target == entities.OrderStatusShipped && strings.TrimSpace(cmd.TrackingNumber) == "" {
		return ChangeOrderStatusResult{}, domainerrors.ErrInvalidOrderRequest
	}

	order, err := uc.Orders.TransitionOrder(ctx, services.OrderTransition{
		OrderID:        orderID,
		Target:         target,
		Reason:         strings.TrimSpace(cmd.Reason),
		PaymentMethod:  strings.TrimSpace(cmd.PaymentMethod),
		TrackingNumber: strings.TrimSpace(cmd.TrackingNumber),
		At:             application.ResolveNow(uc.Clock),
	})
	if errors.Is(err, domainerrors.ErrOrderAlreadyInState) {
		current, getErr := uc.Orders.GetOrder(ctx, orderID)
		if getErr != nil {
			return ChangeOrderStatusResult{}, getErr
		}
		return ChangeOrderStatusResult{Order: current, Replayed: true}, nil
	}
	if err != nil {
		return ChangeOrderStatusResult{}, err
	}

	logger.Info("order status changed",
		"event", "order_fulfillment_order_status_changed",
		"module", application.ModuleName,
		"layer", "application",
		"order_id", order.OrderID,
		"action", string(cmd.Action),
		"to_status", string(order.Status),
	)
	return ChangeOrderStatusResult{Order: order}, nil
}
