package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"ordercore/contexts/commerce-core/order-fulfillment-service/domain/entities"
	domainerrors "ordercore/contexts/commerce-core/order-fulfillment-service/domain/errors"
	"ordercore/contexts/commerce-core/order-fulfillment-service/domain/services"
)

func (s *Store) GetOrder(_ context.Context, orderID string) (entities.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, ok := s.orders[strings.TrimSpace(orderID)]
	if !ok {
		return entities.Order{}, domainerrors.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

// PlaceOrder plans every lock before writing anything, so a rejected line
// leaves no partial reservation behind.
func (s *Store) PlaceOrder(_ context.Context, order entities.Order, events []entities.DomainEvent) error {
	unlockOrder := s.lockOrder(order.OrderID)
	defer unlockOrder()

	ops := services.OrderPlacementOperations(order)
	unlock := s.lockProducts(productIDs(ops)...)
	defer unlock()

	s.mu.RLock()
	_, exists := s.orders[order.OrderID]
	s.mu.RUnlock()
	if exists {
		return domainerrors.ErrInvalidOrderRequest
	}

	now := s.Now()
	changes, err := s.planStockChanges(ops, now)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.OrderID] = cloneOrder(order)
	if err := s.appendEventsLocked(events, now); err != nil {
		return err
	}
	for _, change := range changes {
		if err := s.commitStockChangeLocked(change, order.OrderID, now); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) TransitionOrder(_ context.Context, transition services.OrderTransition) (entities.Order, error) {
	orderID := strings.TrimSpace(transition.OrderID)
	unlockOrder := s.lockOrder(orderID)
	defer unlockOrder()

	s.mu.RLock()
	order, ok := s.orders[orderID]
	s.mu.RUnlock()
	if !ok {
		return entities.Order{}, domainerrors.ErrOrderNotFound
	}

	plan, err := services.PlanTransition(cloneOrder(order), transition)
	if err != nil {
		return entities.Order{}, err
	}

	unlock := s.lockProducts(productIDs(plan.StockOperations)...)
	defer unlock()

	now := s.Now()
	changes, err := s.planStockChanges(plan.StockOperations, now)
	if err != nil {
		return entities.Order{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[orderID] = cloneOrder(plan.Order)
	if err := s.appendEventsLocked(plan.Events, now); err != nil {
		return entities.Order{}, err
	}
	for _, change := range changes {
		if err := s.commitStockChangeLocked(change, orderID, now); err != nil {
			return entities.Order{}, err
		}
	}
	return cloneOrder(plan.Order), nil
}

func (s *Store) ListDueOrders(_ context.Context, now time.Time, limit int) ([]entities.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]entities.Order, 0)
	for _, order := range s.orders {
		if order.Due(now) {
			items = append(items, cloneOrder(order))
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].ExpiresAt.Equal(items[j].ExpiresAt) {
			return items[i].OrderID < items[j].OrderID
		}
		return items[i].ExpiresAt.Before(items[j].ExpiresAt)
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// planStockChanges requires distinct products; orders merge their lines
// before they get here.
func (s *Store) planStockChanges(ops []entities.StockOperation, now time.Time) ([]services.StockChange, error) {
	changes := make([]services.StockChange, 0, len(ops))
	for _, op := range ops {
		change, err := s.planStockChange(op, now)
		if err != nil {
			return nil, err
		}
		changes = append(changes, change)
	}
	return changes, nil
}

func productIDs(ops []entities.StockOperation) []string {
	ids := make([]string, 0, len(ops))
	for _, op := range ops {
		ids = append(ids, op.ProductID)
	}
	return ids
}

func cloneOrder(order entities.Order) entities.Order {
	order.Items = append([]entities.OrderItem(nil), order.Items...)
	return order
}
