package handlers

import (
	"context"
	"fmt"

	application "ordercore/contexts/commerce-core/order-fulfillment-service/application"
	"ordercore/contexts/commerce-core/order-fulfillment-service/application/dispatch"
	"ordercore/contexts/commerce-core/order-fulfillment-service/domain/entities"
	"ordercore/contexts/commerce-core/order-fulfillment-service/ports"
)

func (h EventHandlers) inventoryUpdatedHandlers() []dispatch.Handler {
	var out []dispatch.Handler
	out = appendIf(out, h.Cache != nil, func() dispatch.Handler {
		return cacheInvalidation(h, func(p entities.InventoryUpdatedPayload) []string {
			return []string{ProductCacheKey(p.ProductID), CacheKeyProductsList, CacheKeyInventoryStats}
		})
	})
	out = appendIf(out, h.Notifier != nil, func() dispatch.Handler {
		return h.once(dispatch.Typed(handlerLowStock, h.lowStockAlert))
	})
	return out
}

// lowStockAlert fires when a change leaves sellable stock at or below the
// configured threshold. Restores that stay low do not re-alert.
func (h EventHandlers) lowStockAlert(ctx context.Context, event dispatch.Event[entities.InventoryUpdatedPayload]) error {
	threshold := h.lowStockThreshold()
	payload := event.Data
	if payload.AvailableStock > threshold || payload.OperationType == entities.StockOperationRestore {
		return nil
	}

	h.logger().Warn("low stock detected",
		"event", "order_fulfillment_low_stock",
		"module", application.ModuleName,
		"layer", "application",
		"product_id", payload.ProductID,
		"available_stock", payload.AvailableStock,
		"threshold", threshold,
	)
	return h.Notifier.Notify(ctx, ports.Notification{
		NotificationID: dispatch.MarkerKey(event.Message.ID, handlerLowStock),
		Kind:           ports.NotificationLowStockAlert,
		ProductID:      payload.ProductID,
		OrderID:        payload.OrderID,
		Message: fmt.Sprintf("Product %s is low on stock: %d available (threshold %d).",
			payload.ProductID, payload.AvailableStock, threshold),
		OccurredAt: payload.UpdatedAt,
	})
}

func (h EventHandlers) stockLockedHandlers() []dispatch.Handler {
	if h.Cache == nil {
		return nil
	}
	return []dispatch.Handler{
		cacheInvalidation(h, func(p entities.StockLockedPayload) []string {
			return []string{ProductCacheKey(p.ProductID)}
		}),
	}
}

func (h EventHandlers) stockReleasedHandlers() []dispatch.Handler {
	if h.Cache == nil {
		return nil
	}
	return []dispatch.Handler{
		cacheInvalidation(h, func(p entities.StockReleasedPayload) []string {
			return []string{ProductCacheKey(p.ProductID)}
		}),
	}
}
