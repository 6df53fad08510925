package postgresadapter

import (
	"context"
	"errors"
	"strings"
	"time"

	"ordercore/contexts/commerce-core/order-fulfillment-service/domain/entities"
	domainerrors "ordercore/contexts/commerce-core/order-fulfillment-service/domain/errors"
	"ordercore/contexts/commerce-core/order-fulfillment-service/domain/services"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (r *Repository) GetOrder(ctx context.Context, orderID string) (entities.Order, error) {
	return loadOrder(r.db.WithContext(ctx), strings.TrimSpace(orderID), false)
}

// PlaceOrder stores the order, locks every line in product order and appends
// the order events. Any rejected lock rolls the whole placement back.
func (r *Repository) PlaceOrder(ctx context.Context, order entities.Order, events []entities.DomainEvent) error {
	now := order.CreatedAt.UTC()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := orderModelFromEntity(order)
		if err := tx.Create(&row).Error; err != nil {
			if isUniqueViolation(err) {
				return domainerrors.ErrInvalidOrderRequest
			}
			return err
		}
		items := make([]orderItemModel, 0, len(order.Items))
		for _, item := range order.Items {
			items = append(items, orderItemModel{
				OrderID:   order.OrderID,
				ProductID: item.ProductID,
				Quantity:  item.Quantity,
				UnitPrice: item.UnitPrice,
			})
		}
		if err := tx.Create(&items).Error; err != nil {
			return err
		}
		if err := appendEvents(tx, events, now); err != nil {
			return err
		}
		for _, op := range services.OrderPlacementOperations(order) {
			if _, err := applyStockOperation(tx, op, now, order.OrderID); err != nil {
				return err
			}
		}
		return nil
	})
}

// TransitionOrder plans against the order as read under FOR UPDATE, so two
// racing cancellations cannot both release the same locks.
func (r *Repository) TransitionOrder(ctx context.Context, transition services.OrderTransition) (entities.Order, error) {
	var result entities.Order
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := loadOrder(tx, strings.TrimSpace(transition.OrderID), true)
		if err != nil {
			return err
		}
		plan, err := services.PlanTransition(order, transition)
		if err != nil {
			return err
		}

		now := transition.At.UTC()
		for _, op := range plan.StockOperations {
			if _, err := applyStockOperation(tx, op, now, order.OrderID); err != nil {
				return err
			}
		}

		next := orderModelFromEntity(plan.Order)
		if err := tx.Model(&orderModel{}).
			Where("order_id = ?", next.OrderID).
			Updates(map[string]any{
				"status":          next.Status,
				"payment_method":  next.PaymentMethod,
				"cancel_reason":   next.CancelReason,
				"tracking_number": next.TrackingNumber,
				"paid_at":         next.PaidAt,
				"cancelled_at":    next.CancelledAt,
				"shipped_at":      next.ShippedAt,
				"delivered_at":    next.DeliveredAt,
				"updated_at":      next.UpdatedAt,
			}).Error; err != nil {
			return err
		}
		if err := appendEvents(tx, plan.Events, now); err != nil {
			return err
		}
		result = plan.Order
		return nil
	})
	if err != nil {
		return entities.Order{}, err
	}
	return result, nil
}

func (r *Repository) ListDueOrders(ctx context.Context, now time.Time, limit int) ([]entities.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	db := r.db.WithContext(ctx)
	var rows []orderModel
	if err := db.
		Where("status = ? AND expires_at <= ?", string(entities.OrderStatusCreated), now.UTC()).
		Order("expires_at ASC").
		Limit(limit).
		Find(&rows).
		Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.OrderID)
	}
	var itemRows []orderItemModel
	if err := db.
		Where("order_id IN ?", ids).
		Order("product_id ASC").
		Find(&itemRows).
		Error; err != nil {
		return nil, err
	}
	itemsByOrder := make(map[string][]orderItemModel, len(rows))
	for _, item := range itemRows {
		itemsByOrder[item.OrderID] = append(itemsByOrder[item.OrderID], item)
	}

	orders := make([]entities.Order, 0, len(rows))
	for _, row := range rows {
		orders = append(orders, row.toEntity(itemsByOrder[row.OrderID]))
	}
	return orders, nil
}

func loadOrder(tx *gorm.DB, orderID string, forUpdate bool) (entities.Order, error) {
	query := tx
	if forUpdate {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var row orderModel
	if err := query.
		Where("order_id = ?", orderID).
		First(&row).
		Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Order{}, domainerrors.ErrOrderNotFound
		}
		return entities.Order{}, err
	}

	var items []orderItemModel
	if err := tx.
		Where("order_id = ?", orderID).
		Order("product_id ASC").
		Find(&items).
		Error; err != nil {
		return entities.Order{}, err
	}
	return row.toEntity(items), nil
}
