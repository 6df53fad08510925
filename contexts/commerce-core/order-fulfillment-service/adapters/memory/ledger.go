package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"ordercore/contexts/commerce-core/order-fulfillment-service/domain/entities"
	domainerrors "ordercore/contexts/commerce-core/order-fulfillment-service/domain/errors"
	"ordercore/contexts/commerce-core/order-fulfillment-service/domain/services"

	"github.com/google/uuid"
)

func (s *Store) GetStock(_ context.Context, productID string) (entities.StockLevel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.levelLocked(strings.TrimSpace(productID)), nil
}

func (s *Store) ListStock(_ context.Context) ([]entities.StockLevel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]entities.StockLevel, 0, len(s.levels))
	for _, level := range s.levels {
		items = append(items, level)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })
	return items, nil
}

func (s *Store) GetReservation(_ context.Context, productID string, orderID string) (entities.Reservation, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reservation, ok := s.reservations[reservationKey{productID: productID, orderID: orderID}]
	return reservation, ok, nil
}

func (s *Store) ApplyStockOperation(_ context.Context, op entities.StockOperation) (services.StockChange, error) {
	op.ProductID = strings.TrimSpace(op.ProductID)
	op.OrderID = strings.TrimSpace(op.OrderID)
	if err := services.ValidateStockOperation(op); err != nil {
		return services.StockChange{}, err
	}
	unlock := s.lockProducts(op.ProductID)
	defer unlock()

	now := s.Now()
	change, err := s.planStockChange(op, now)
	if err != nil {
		return services.StockChange{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.commitStockChangeLocked(change, op.OrderID, now); err != nil {
		return services.StockChange{}, err
	}
	return change, nil
}

func (s *Store) SetReservedStock(_ context.Context, productID string, reserved int) (entities.StockLevel, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return entities.StockLevel{}, domainerrors.ErrInvalidStockOperation
	}
	unlock := s.lockProducts(productID)
	defer unlock()

	now := s.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.levelLocked(productID)
	if err := services.ValidateReservedStock(before, reserved); err != nil {
		return entities.StockLevel{}, err
	}
	level := before
	level.ReservedStock = reserved
	level.UpdatedAt = now
	if err := s.appendEventsLocked([]entities.DomainEvent{services.ReservedStockEvent(before, level, now)}, now); err != nil {
		return entities.StockLevel{}, err
	}
	s.levels[productID] = level
	return level, nil
}

// planStockChange reads the book without writing. Callers hold the
// product lock, so the book cannot move before the commit.
func (s *Store) planStockChange(op entities.StockOperation, now time.Time) (services.StockChange, error) {
	s.mu.RLock()
	book := services.StockBook{Level: s.levelLocked(op.ProductID)}
	if op.OrderID != "" {
		if reservation, ok := s.reservations[reservationKey{productID: op.ProductID, orderID: op.OrderID}]; ok {
			book.Reservation = &reservation
		}
	}
	s.mu.RUnlock()
	return services.ApplyStockOperation(book, op, now)
}

func (s *Store) commitStockChangeLocked(change services.StockChange, correlationID string, now time.Time) error {
	if change.Noop {
		return nil
	}
	if err := s.appendEventsLocked(services.StockChangeEvents(change, correlationID), now); err != nil {
		return err
	}
	s.levels[change.After.ProductID] = change.After
	if change.Reservation != nil {
		key := reservationKey{productID: change.Reservation.ProductID, orderID: change.Reservation.OrderID}
		s.reservations[key] = *change.Reservation
	}
	if record, ok := services.StockChangeTransaction(uuid.NewString(), change, correlationID); ok {
		s.transactions = append(s.transactions, record)
	}
	return nil
}

func (s *Store) ListStockTransactions(_ context.Context, filter entities.StockTransactionFilter) ([]entities.StockTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]entities.StockTransaction, 0)
	for i := len(s.transactions) - 1; i >= 0; i-- {
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
		if filter.Matches(s.transactions[i]) {
			out = append(out, s.transactions[i])
		}
	}
	return out, nil
}

func (s *Store) GetStockTransaction(_ context.Context, transactionID string) (entities.StockTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, record := range s.transactions {
		if record.ID == transactionID {
			return record, nil
		}
	}
	return entities.StockTransaction{}, domainerrors.ErrStockTransactionNotFound
}

func (s *Store) levelLocked(productID string) entities.StockLevel {
	level, ok := s.levels[productID]
	if !ok {
		return entities.StockLevel{ProductID: productID}
	}
	return level
}
