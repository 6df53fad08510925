package handlers

import (
	"context"
	"fmt"

	application "ordercore/contexts/commerce-core/order-fulfillment-service/application"
	"ordercore/contexts/commerce-core/order-fulfillment-service/application/dispatch"
	"ordercore/contexts/commerce-core/order-fulfillment-service/domain/entities"
	"ordercore/contexts/commerce-core/order-fulfillment-service/ports"

	"github.com/shopspring/decimal"
)

const (
	StatOrdersCreated   = "orders_created"
	StatOrdersPaid      = "orders_paid"
	StatOrdersCancelled = "orders_cancelled"
	StatOrdersShipped   = "orders_shipped"
	StatOrdersDelivered = "orders_delivered"
)

func (h EventHandlers) orderCreatedHandlers() []dispatch.Handler {
	var out []dispatch.Handler
	out = appendIf(out, h.Statistics != nil, func() dispatch.Handler {
		return statistics(h, func(p entities.OrderCreatedPayload) []ports.StatDelta {
			return []ports.StatDelta{{Counter: StatOrdersCreated, Count: 1, Amount: p.TotalAmount}}
		})
	})
	out = appendIf(out, h.Cache != nil, func() dispatch.Handler {
		return cacheInvalidation(h, func(p entities.OrderCreatedPayload) []string {
			keys := []string{OrderCacheKey(p.OrderID), CacheKeyOrdersList, CacheKeyProductsList, CacheKeyInventoryStats}
			return append(keys, productKeys(p.Items)...)
		})
	})
	out = appendIf(out, h.Notifier != nil, func() dispatch.Handler {
		return notifyOnce(h, func(e dispatch.Event[entities.OrderCreatedPayload]) ports.Notification {
			return ports.Notification{
				Kind:    ports.NotificationOrderConfirmation,
				UserID:  e.Data.UserID,
				OrderID: e.Data.OrderID,
				Message: fmt.Sprintf("Order %s received, total %s. Please pay before %s.",
					e.Data.OrderID, e.Data.TotalAmount.StringFixed(2), e.Data.ExpiresAt.Format("2006-01-02 15:04 MST")),
				OccurredAt: e.Data.CreatedAt,
			}
		})
	})
	return out
}

func (h EventHandlers) orderPaidHandlers() []dispatch.Handler {
	var out []dispatch.Handler
	out = appendIf(out, h.Statistics != nil, func() dispatch.Handler {
		return statistics(h, func(p entities.OrderPaidPayload) []ports.StatDelta {
			return []ports.StatDelta{{Counter: StatOrdersPaid, Count: 1, Amount: p.Amount}}
		})
	})
	out = appendIf(out, h.Cache != nil, func() dispatch.Handler {
		return cacheInvalidation(h, func(p entities.OrderPaidPayload) []string {
			keys := []string{OrderCacheKey(p.OrderID), CacheKeyOrdersList, CacheKeySalesStats, CacheKeyInventoryStats}
			return append(keys, productKeys(p.Items)...)
		})
	})
	out = appendIf(out, h.Notifier != nil, func() dispatch.Handler {
		return notifyOnce(h, func(e dispatch.Event[entities.OrderPaidPayload]) ports.Notification {
			return ports.Notification{
				Kind:       ports.NotificationPaymentReceipt,
				UserID:     e.Data.UserID,
				OrderID:    e.Data.OrderID,
				Message:    fmt.Sprintf("Payment of %s received for order %s.", e.Data.Amount.StringFixed(2), e.Data.OrderID),
				OccurredAt: e.Data.PaidAt,
			}
		})
	})
	return out
}

func (h EventHandlers) orderCancelledHandlers() []dispatch.Handler {
	var out []dispatch.Handler
	out = appendIf(out, h.Statistics != nil, func() dispatch.Handler {
		return statistics(h, func(entities.OrderCancelledPayload) []ports.StatDelta {
			return []ports.StatDelta{{Counter: StatOrdersCancelled, Count: 1, Amount: decimal.Zero}}
		})
	})
	out = appendIf(out, h.Cache != nil, func() dispatch.Handler {
		return cacheInvalidation(h, func(p entities.OrderCancelledPayload) []string {
			keys := []string{OrderCacheKey(p.OrderID), CacheKeyOrdersList, CacheKeyProductsList, CacheKeyInventoryStats}
			return append(keys, productKeys(p.Items)...)
		})
	})
	out = appendIf(out, h.Notifier != nil, func() dispatch.Handler {
		return notifyOnce(h, func(e dispatch.Event[entities.OrderCancelledPayload]) ports.Notification {
			message := fmt.Sprintf("Order %s was cancelled.", e.Data.OrderID)
			if e.Data.Reason == entities.CancelReasonExpired {
				message = fmt.Sprintf("Order %s was cancelled because payment was not received in time.", e.Data.OrderID)
			}
			return ports.Notification{
				Kind:       ports.NotificationOrderCancelled,
				UserID:     e.Data.UserID,
				OrderID:    e.Data.OrderID,
				Message:    message,
				OccurredAt: e.Data.CancelledAt,
			}
		})
	})
	return out
}

func (h EventHandlers) orderShippedHandlers() []dispatch.Handler {
	var out []dispatch.Handler
	out = appendIf(out, h.Statistics != nil, func() dispatch.Handler {
		return statistics(h, func(entities.OrderShippedPayload) []ports.StatDelta {
			return []ports.StatDelta{{Counter: StatOrdersShipped, Count: 1, Amount: decimal.Zero}}
		})
	})
	out = appendIf(out, h.Cache != nil, func() dispatch.Handler {
		return cacheInvalidation(h, func(p entities.OrderShippedPayload) []string {
			return []string{OrderCacheKey(p.OrderID), CacheKeyOrdersList}
		})
	})
	out = appendIf(out, h.Notifier != nil, func() dispatch.Handler {
		return notifyOnce(h, func(e dispatch.Event[entities.OrderShippedPayload]) ports.Notification {
			return ports.Notification{
				Kind:       ports.NotificationOrderShipped,
				UserID:     e.Data.UserID,
				OrderID:    e.Data.OrderID,
				Message:    fmt.Sprintf("Order %s has shipped, tracking number %s.", e.Data.OrderID, e.Data.TrackingNumber),
				OccurredAt: e.Data.ShippedAt,
			}
		})
	})
	return out
}

func (h EventHandlers) orderDeliveredHandlers() []dispatch.Handler {
	var out []dispatch.Handler
	out = appendIf(out, h.Statistics != nil, func() dispatch.Handler {
		return statistics(h, func(entities.OrderDeliveredPayload) []ports.StatDelta {
			return []ports.StatDelta{{Counter: StatOrdersDelivered, Count: 1, Amount: decimal.Zero}}
		})
	})
	out = appendIf(out, h.Cache != nil, func() dispatch.Handler {
		return cacheInvalidation(h, func(p entities.OrderDeliveredPayload) []string {
			return []string{OrderCacheKey(p.OrderID), CacheKeyOrdersList}
		})
	})
	out = appendIf(out, h.Notifier != nil, func() dispatch.Handler {
		return notifyOnce(h, func(e dispatch.Event[entities.OrderDeliveredPayload]) ports.Notification {
			return ports.Notification{
				Kind:       ports.NotificationOrderDelivered,
				UserID:     e.Data.UserID,
				OrderID:    e.Data.OrderID,
				Message:    fmt.Sprintf("Order %s was delivered.", e.Data.OrderID),
				OccurredAt: e.Data.DeliveredAt,
			}
		})
	})
	return out
}

// statistics applies deltas atomically with the recorder's own marker, so a
// redelivered event never double counts.
func statistics[T any](h EventHandlers, deltas func(T) []ports.StatDelta) dispatch.Handler {
	return dispatch.Typed(handlerStatistics, func(ctx context.Context, event dispatch.Event[T]) error {
		applied, err := h.Statistics.Apply(ctx, dispatch.MarkerKey(event.Message.ID, handlerStatistics), deltas(event.Data))
		if err != nil {
			return err
		}
		if !applied {
			h.logger().Debug("statistics already applied",
				"event", "order_fulfillment_statistics_replayed",
				"module", application.ModuleName,
				"layer", "application",
				"message_id", event.Message.ID,
				"event_type", string(event.Message.Type),
			)
		}
		return nil
	})
}

func cacheInvalidation[T any](h EventHandlers, keys func(T) []string) dispatch.Handler {
	return dispatch.Typed(handlerCache, func(ctx context.Context, event dispatch.Event[T]) error {
		return h.Cache.Invalidate(ctx, keys(event.Data)...)
	})
}

func productKeys(lines []entities.OrderLine) []string {
	keys := make([]string, 0, len(lines))
	for _, line := range lines {
		keys = append(keys, ProductCacheKey(line.ProductID))
	}
	return keys
}
