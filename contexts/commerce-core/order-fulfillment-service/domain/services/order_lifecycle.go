package services

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"ordercore/contexts/commerce-core/order-fulfillment-service/domain/entities"
	domainerrors "ordercore/contexts/commerce-core/order-fulfillment-service/domain/errors"

	"github.com/shopspring/decimal"
)

var orderTransitions = map[entities.OrderStatus][]entities.OrderStatus{
	entities.OrderStatusCreated: {entities.OrderStatusPaid, entities.OrderStatusCancelled},
	entities.OrderStatusPaid:    {entities.OrderStatusShipped},
	entities.OrderStatusShipped: {entities.OrderStatusDelivered},
}

func CanTransition(from entities.OrderStatus, to entities.OrderStatus) bool {
	for _, allowed := range orderTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// NewOrder validates the requested lines, merges duplicate products and
// stamps the payment deadline.
func NewOrder(
	orderID string,
	userID string,
	items []entities.OrderItem,
	now time.Time,
	expiry time.Duration,
) (entities.Order, error) {
	if strings.TrimSpace(orderID) == "" || strings.TrimSpace(userID) == "" {
		return entities.Order{}, fmt.Errorf("%w: order and user ids are required", domainerrors.ErrInvalidOrderRequest)
	}
	if len(items) == 0 {
		return entities.Order{}, fmt.Errorf("%w: at least one item is required", domainerrors.ErrInvalidOrderRequest)
	}
	if expiry <= 0 {
		return entities.Order{}, fmt.Errorf("%w: expiry window must be positive", domainerrors.ErrInvalidOrderRequest)
	}

	merged := make(map[string]entities.OrderItem, len(items))
	for _, item := range items {
		productID := strings.TrimSpace(item.ProductID)
		if productID == "" || item.Quantity <= 0 {
			return entities.Order{}, fmt.Errorf("%w: item needs a product id and positive quantity", domainerrors.ErrInvalidOrderRequest)
		}
		if item.UnitPrice.IsNegative() {
			return entities.Order{}, fmt.Errorf("%w: unit price cannot be negative", domainerrors.ErrInvalidOrderRequest)
		}
		current, ok := merged[productID]
		if ok && !current.UnitPrice.Equal(item.UnitPrice) {
			return entities.Order{}, fmt.Errorf("%w: conflicting prices for product %s", domainerrors.ErrInvalidOrderRequest, productID)
		}
		current.ProductID = productID
		current.UnitPrice = item.UnitPrice
		current.Quantity += item.Quantity
		merged[productID] = current
	}

	lines := make([]entities.OrderItem, 0, len(merged))
	total := decimal.Zero
	for _, item := range merged {
		lines = append(lines, item)
		total = total.Add(item.Subtotal())
	}
	// Stable product order keeps row-lock acquisition deadlock free.
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })

	now = now.UTC()
	return entities.Order{
		OrderID:     orderID,
		UserID:      userID,
		Status:      entities.OrderStatusCreated,
		Items:       lines,
		TotalAmount: total,
		CreatedAt:   now,
		ExpiresAt:   now.Add(expiry),
		UpdatedAt:   now,
	}, nil
}

// OrderPlacementOperations are the locks taken when an order is placed.
func OrderPlacementOperations(order entities.Order) []entities.StockOperation {
	ops := make([]entities.StockOperation, 0, len(order.Items))
	for _, item := range order.Items {
		ops = append(ops, entities.StockOperation{
			Kind:      entities.StockOperationLock,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			OrderID:   order.OrderID,
		})
	}
	return ops
}

func OrderCreatedEvent(order entities.Order) entities.DomainEvent {
	return entities.DomainEvent{
		Type: entities.EventTypeOrderCreated,
		Payload: entities.OrderCreatedPayload{
			OrderID:     order.OrderID,
			UserID:      order.UserID,
			Items:       order.Lines(),
			TotalAmount: order.TotalAmount,
			CreatedAt:   order.CreatedAt,
			ExpiresAt:   order.ExpiresAt,
		},
		CorrelationID: order.OrderID,
	}
}

// OrderTransition is a requested status change.
type OrderTransition struct {
	OrderID        string
	Target         entities.OrderStatus
	Reason         string
	PaymentMethod  string
	TrackingNumber string
	// RequireDue rejects the change unless the order passed its expiry.
	RequireDue bool
	At         time.Time
}

// TransitionPlan is everything an adapter persists in one unit of work.
type TransitionPlan struct {
	Order           entities.Order
	StockOperations []entities.StockOperation
	Events          []entities.DomainEvent
}

// PlanTransition must be evaluated against the order as read under its row
// lock, so a Created→Cancelled release happens at most once.
func PlanTransition(order entities.Order, t OrderTransition) (TransitionPlan, error) {
	if order.Status == t.Target {
		return TransitionPlan{}, fmt.Errorf("%w: %s", domainerrors.ErrOrderAlreadyInState, order.Status)
	}
	if !CanTransition(order.Status, t.Target) {
		return TransitionPlan{}, fmt.Errorf("%w: %s -> %s", domainerrors.ErrInvalidOrderTransition, order.Status, t.Target)
	}
	at := t.At.UTC()
	if t.RequireDue && !order.Due(at) {
		return TransitionPlan{}, fmt.Errorf("%w: expires at %s", domainerrors.ErrOrderNotDue, order.ExpiresAt.Format(time.RFC3339))
	}

	next := order
	next.Status = t.Target
	next.UpdatedAt = at
	plan := TransitionPlan{}

	switch t.Target {
	case entities.OrderStatusPaid:
		next.PaidAt = &at
		next.PaymentMethod = t.PaymentMethod
		for _, item := range order.Items {
			plan.StockOperations = append(plan.StockOperations, entities.StockOperation{
				Kind:      entities.StockOperationDeduct,
				ProductID: item.ProductID,
				Quantity:  item.Quantity,
				OrderID:   order.OrderID,
			})
		}
		plan.Events = append(plan.Events, entities.DomainEvent{
			Type: entities.EventTypeOrderPaid,
			Payload: entities.OrderPaidPayload{
				OrderID:       order.OrderID,
				UserID:        order.UserID,
				Amount:        order.TotalAmount,
				PaymentMethod: t.PaymentMethod,
				Items:         order.Lines(),
				PaidAt:        at,
			},
			CorrelationID: order.OrderID,
		})
	case entities.OrderStatusCancelled:
		reason := strings.TrimSpace(t.Reason)
		if reason == "" {
			reason = entities.CancelReasonCustomer
		}
		next.CancelledAt = &at
		next.CancelReason = reason
		for _, item := range order.Items {
			plan.StockOperations = append(plan.StockOperations, entities.StockOperation{
				Kind:      entities.StockOperationRelease,
				ProductID: item.ProductID,
				Quantity:  item.Quantity,
				OrderID:   order.OrderID,
				Reason:    reason,
				Remainder: true,
			})
		}
		plan.Events = append(plan.Events, entities.DomainEvent{
			Type: entities.EventTypeOrderCancelled,
			Payload: entities.OrderCancelledPayload{
				OrderID:     order.OrderID,
				UserID:      order.UserID,
				Reason:      reason,
				Items:       order.Lines(),
				CancelledAt: at,
			},
			CorrelationID: order.OrderID,
		})
	case entities.OrderStatusShipped:
		next.ShippedAt = &at
		next.TrackingNumber = t.TrackingNumber
		plan.Events = append(plan.Events, entities.DomainEvent{
			Type: entities.EventTypeOrderShipped,
			Payload: entities.OrderShippedPayload{
				OrderID:        order.OrderID,
				UserID:         order.UserID,
				TrackingNumber: t.TrackingNumber,
				ShippedAt:      at,
			},
			CorrelationID: order.OrderID,
		})
	case entities.OrderStatusDelivered:
		next.DeliveredAt = &at
		plan.Events = append(plan.Events, entities.DomainEvent{
			Type: entities.EventTypeOrderDelivered,
			Payload: entities.OrderDeliveredPayload{
				OrderID:     order.OrderID,
				UserID:      order.UserID,
				DeliveredAt: at,
			},
			CorrelationID: order.OrderID,
		})
	}

	plan.Order = next
	return plan, nil
}
