package handlers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	application "ordercore/contexts/commerce-core/order-fulfillment-service/application"
	"ordercore/contexts/commerce-core/order-fulfillment-service/application/dispatch"
	"ordercore/contexts/commerce-core/order-fulfillment-service/domain/entities"
	"ordercore/contexts/commerce-core/order-fulfillment-service/ports"
)

const (
	handlerStatistics = "statistics"
	handlerCache      = "cache_invalidation"
	handlerNotify     = "notification"
	handlerLowStock   = "low_stock_alert"
	handlerRelay      = "integration_relay"

	defaultLowStockThreshold = 10
)

// Cache keys shared with the read side.
const (
	CacheKeyOrdersList     = "orders_list"
	CacheKeyProductsList   = "products_list"
	CacheKeyInventoryStats = "inventory_stats"
	CacheKeySalesStats     = "sales_stats"
)

func OrderCacheKey(orderID string) string     { return "order_" + orderID }
func ProductCacheKey(productID string) string { return "product_" + productID }

// EventHandlers holds the collaborators every side-effect handler needs.
// Nil collaborators simply leave the matching handler unregistered.
type EventHandlers struct {
	Cache             ports.CacheInvalidator
	Notifier          ports.Notifier
	Statistics        ports.StatisticsRecorder
	Publisher         ports.EventPublisher
	Dedup             ports.EventDedupStore
	Clock             ports.Clock
	EventsTopic       string
	SourceService     string
	LowStockThreshold int
	MarkerLease       time.Duration
	MarkerTTL         time.Duration
	Logger            *slog.Logger
}

// Register fills the dispatch table. It is called once at startup.
func (h EventHandlers) Register(registry *dispatch.Registry) error {
	if registry == nil {
		return errors.New("dispatch registry is required")
	}
	if h.Notifier != nil && h.Dedup == nil {
		return errors.New("notification handlers require an event dedup store")
	}

	table := map[entities.EventType][]dispatch.Handler{
		entities.EventTypeOrderCreated:     h.orderCreatedHandlers(),
		entities.EventTypeOrderPaid:        h.orderPaidHandlers(),
		entities.EventTypeOrderCancelled:   h.orderCancelledHandlers(),
		entities.EventTypeOrderShipped:     h.orderShippedHandlers(),
		entities.EventTypeOrderDelivered:   h.orderDeliveredHandlers(),
		entities.EventTypeInventoryUpdated: h.inventoryUpdatedHandlers(),
		entities.EventTypeStockLocked:      h.stockLockedHandlers(),
		entities.EventTypeStockReleased:    h.stockReleasedHandlers(),
	}
	for _, eventType := range entities.AllEventTypes() {
		handlers := table[eventType]
		if relay := h.relayHandler(); relay != nil {
			handlers = append(handlers, relay)
		}
		if len(handlers) == 0 {
			continue
		}
		if err := registry.Register(eventType, handlers...); err != nil {
			return err
		}
	}
	return nil
}

func (h EventHandlers) logger() *slog.Logger {
	return application.ResolveLogger(h.Logger)
}

func (h EventHandlers) lowStockThreshold() int {
	if h.LowStockThreshold <= 0 {
		return defaultLowStockThreshold
	}
	return h.LowStockThreshold
}

func (h EventHandlers) once(handler dispatch.Handler) dispatch.Handler {
	return dispatch.Idempotent(h.Dedup, h.Clock, h.MarkerLease, h.MarkerTTL, h.Logger, handler)
}

// notifyOnce wraps a notification builder in the processed-marker protocol.
func notifyOnce[T any](
	h EventHandlers,
	build func(dispatch.Event[T]) ports.Notification,
) dispatch.Handler {
	return h.once(dispatch.Typed(handlerNotify, func(ctx context.Context, event dispatch.Event[T]) error {
		notification := build(event)
		notification.NotificationID = dispatch.MarkerKey(event.Message.ID, handlerNotify)
		if notification.OccurredAt.IsZero() {
			notification.OccurredAt = event.Message.CreatedAt
		}
		return h.Notifier.Notify(ctx, notification)
	}))
}

func appendIf(handlers []dispatch.Handler, ok bool, handler func() dispatch.Handler) []dispatch.Handler {
	if !ok {
		return handlers
	}
	return append(handlers, handler())
}
