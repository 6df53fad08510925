package services

import (
	"fmt"
	"strings"
	"time"

	"ordercore/contexts/commerce-core/order-fulfillment-service/domain/entities"
	domainerrors "ordercore/contexts/commerce-core/order-fulfillment-service/domain/errors"
)

// StockBook is what an adapter loads, under its per-product serialization,
// before applying one operation: the ledger entry plus the reservation of the
// operation's order on that product, if any.
type StockBook struct {
	Level       entities.StockLevel
	Reservation *entities.Reservation
}

// StockChange is the outcome an adapter must persist. Reservation is set when
// the operation created or modified the (product, order) reservation.
type StockChange struct {
	Operation   entities.StockOperation
	Before      entities.StockLevel
	After       entities.StockLevel
	Reservation *entities.Reservation
	Noop        bool
	At          time.Time
}

func ValidateStockOperation(op entities.StockOperation) error {
	if strings.TrimSpace(op.ProductID) == "" {
		return fmt.Errorf("%w: product id is required", domainerrors.ErrInvalidStockOperation)
	}
	if op.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive, got %d", domainerrors.ErrInvalidStockOperation, op.Quantity)
	}
	if op.Kind.RequiresOrder() && strings.TrimSpace(op.OrderID) == "" {
		return fmt.Errorf("%w: %s requires an order id", domainerrors.ErrInvalidStockOperation, op.Kind)
	}
	return nil
}

// ApplyStockOperation is the single place where ledger arithmetic happens.
// It never mutates book; callers persist the returned change.
func ApplyStockOperation(book StockBook, op entities.StockOperation, now time.Time) (StockChange, error) {
	if err := ValidateStockOperation(op); err != nil {
		return StockChange{}, err
	}
	level := book.Level
	level.ProductID = op.ProductID
	change := StockChange{
		Operation: op,
		Before:    level,
		At:        now.UTC(),
	}

	var (
		after       entities.StockLevel
		reservation *entities.Reservation
		noop        bool
		err         error
	)
	switch op.Kind {
	case entities.StockOperationLock:
		after, reservation, noop, err = applyLock(level, book.Reservation, op, now)
	case entities.StockOperationRelease:
		var released int
		after, reservation, released, err = applyRelease(level, book.Reservation, op, now)
		noop = err == nil && released == 0
		change.Operation.Quantity = released
	case entities.StockOperationDeduct:
		after, reservation, err = applyDeduct(level, book.Reservation, op, now)
	case entities.StockOperationRestore:
		after = level
		after.TotalStock += op.Quantity
	default:
		return StockChange{}, fmt.Errorf("%w: %q", domainerrors.ErrUnknownStockOperation, op.Kind)
	}
	if err != nil {
		return StockChange{}, err
	}
	if after.Available() < 0 || after.LockedStock < 0 || after.TotalStock < 0 {
		return StockChange{}, domainerrors.ErrLedgerInvariantBroken
	}

	if noop {
		change.After = level
		change.Noop = true
		return change, nil
	}
	after.UpdatedAt = now.UTC()
	change.After = after
	change.Reservation = reservation
	return change, nil
}

func applyLock(
	level entities.StockLevel,
	existing *entities.Reservation,
	op entities.StockOperation,
	now time.Time,
) (entities.StockLevel, *entities.Reservation, bool, error) {
	if existing != nil && existing.Active() {
		if existing.Quantity == op.Quantity {
			return level, nil, true, nil
		}
		return level, nil, false, fmt.Errorf(
			"%w: product %s order %s holds %d, requested %d",
			domainerrors.ErrReservationConflict, op.ProductID, op.OrderID, existing.Quantity, op.Quantity,
		)
	}
	if available := level.Available(); available < op.Quantity {
		return level, nil, false, insufficientStock(op.ProductID, available, op.Quantity)
	}

	level.LockedStock += op.Quantity
	reservation := entities.Reservation{
		ProductID: op.ProductID,
		OrderID:   op.OrderID,
		Quantity:  op.Quantity,
		Status:    entities.ReservationStatusActive,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
	if existing != nil {
		reservation.CreatedAt = existing.CreatedAt
	}
	return level, &reservation, false, nil
}

// applyRelease returns the quantity it actually freed. Only a remainder
// release can free less than requested.
func applyRelease(
	level entities.StockLevel,
	existing *entities.Reservation,
	op entities.StockOperation,
	now time.Time,
) (entities.StockLevel, *entities.Reservation, int, error) {
	if existing == nil || !existing.Active() {
		if op.Remainder {
			return level, nil, 0, nil
		}
		return level, nil, 0, fmt.Errorf(
			"%w: product %s order %s", domainerrors.ErrReservationNotFound, op.ProductID, op.OrderID,
		)
	}
	quantity := op.Quantity
	if existing.Quantity < quantity {
		if !op.Remainder {
			return level, nil, 0, fmt.Errorf(
				"%w: locked %d, requested %d", domainerrors.ErrReleaseExceedsLock, existing.Quantity, op.Quantity,
			)
		}
		quantity = existing.Quantity
	}

	level.LockedStock -= quantity
	reservation := *existing
	reservation.Quantity -= quantity
	reservation.UpdatedAt = now.UTC()
	if reservation.Quantity == 0 {
		reservation.Status = entities.ReservationStatusReleased
	}
	return level, &reservation, quantity, nil
}

// applyDeduct counts the caller's own active lock as available to it, then
// clears that lock while decrementing total stock.
func applyDeduct(
	level entities.StockLevel,
	existing *entities.Reservation,
	op entities.StockOperation,
	now time.Time,
) (entities.StockLevel, *entities.Reservation, error) {
	own := 0
	if op.OrderID != "" && existing != nil && existing.Active() {
		own = min(existing.Quantity, op.Quantity)
	}
	if available := level.Available() + own; available < op.Quantity {
		return level, nil, insufficientStock(op.ProductID, available, op.Quantity)
	}

	level.TotalStock -= op.Quantity
	if own == 0 {
		return level, nil, nil
	}
	level.LockedStock -= own
	reservation := *existing
	reservation.Quantity -= own
	reservation.UpdatedAt = now.UTC()
	if reservation.Quantity == 0 {
		reservation.Status = entities.ReservationStatusDeducted
	}
	return level, &reservation, nil
}

func insufficientStock(productID string, available int, requested int) error {
	return fmt.Errorf("%w for product %s. Available: %d, Requested: %d",
		domainerrors.ErrInsufficientStock, productID, max(available, 0), requested)
}

// CheckStock answers whether qty can currently be locked or deducted.
func CheckStock(level entities.StockLevel, qty int) (int, bool) {
	available := level.Available()
	return available, qty > 0 && available >= qty
}

// ValidateReservedStock guards operator changes to non-order holds.
func ValidateReservedStock(level entities.StockLevel, reserved int) error {
	if reserved < 0 {
		return fmt.Errorf("%w: reserved stock cannot be negative", domainerrors.ErrInvalidStockOperation)
	}
	next := level
	next.ReservedStock = reserved
	if next.Available() < 0 {
		return insufficientStock(level.ProductID, level.TotalStock-level.LockedStock, reserved)
	}
	return nil
}

// StockChangeTransaction is the history row for a committed change. It
// reports false for no-ops, which leave no trace in the history.
func StockChangeTransaction(id string, change StockChange, correlationID string) (entities.StockTransaction, bool) {
	if change.Noop {
		return entities.StockTransaction{}, false
	}
	op := change.Operation
	return entities.StockTransaction{
		ID:            id,
		ProductID:     op.ProductID,
		OrderID:       op.OrderID,
		Kind:          op.Kind,
		Quantity:      op.Quantity,
		OldStock:      change.Before.TotalStock,
		NewStock:      change.After.TotalStock,
		LockedStock:   change.After.LockedStock,
		ReservedStock: change.After.ReservedStock,
		Reason:        op.Reason,
		CorrelationID: correlationID,
		CreatedAt:     change.At,
	}, true
}

// ReservedStockEvent is the inventory.updated event for an operator
// reserved-stock change. Quantity carries the signed change in reserved.
func ReservedStockEvent(before entities.StockLevel, after entities.StockLevel, at time.Time) entities.DomainEvent {
	return entities.DomainEvent{
		Type: entities.EventTypeInventoryUpdated,
		Payload: entities.InventoryUpdatedPayload{
			ProductID:      after.ProductID,
			OldStock:       before.TotalStock,
			NewStock:       after.TotalStock,
			LockedStock:    after.LockedStock,
			ReservedStock:  after.ReservedStock,
			AvailableStock: after.Available(),
			OperationType:  entities.InventoryReservedOverride,
			Quantity:       after.ReservedStock - before.ReservedStock,
			UpdatedAt:      at,
		},
	}
}

// LowStockThreshold is a tenth of total stock, never below one unit.
func LowStockThreshold(totalStock int) int {
	return max(1, totalStock/10)
}

func ProductInventoryView(level entities.StockLevel) entities.ProductInventory {
	threshold := LowStockThreshold(level.TotalStock)
	available := level.Available()
	return entities.ProductInventory{
		Level:             level,
		AvailableStock:    available,
		LowStockThreshold: threshold,
		IsLowStock:        available <= threshold,
	}
}

// StockChangeEvents lists the outbox events a persisted change must append.
func StockChangeEvents(change StockChange, correlationID string) []entities.DomainEvent {
	if change.Noop {
		return nil
	}
	op := change.Operation
	events := make([]entities.DomainEvent, 0, 2)
	switch op.Kind {
	case entities.StockOperationLock:
		events = append(events, entities.DomainEvent{
			Type: entities.EventTypeStockLocked,
			Payload: entities.StockLockedPayload{
				ProductID: op.ProductID,
				OrderID:   op.OrderID,
				Quantity:  op.Quantity,
				LockedAt:  change.At,
			},
			CorrelationID: correlationID,
		})
	case entities.StockOperationRelease:
		events = append(events, entities.DomainEvent{
			Type: entities.EventTypeStockReleased,
			Payload: entities.StockReleasedPayload{
				ProductID:  op.ProductID,
				OrderID:    op.OrderID,
				Quantity:   op.Quantity,
				Reason:     op.Reason,
				ReleasedAt: change.At,
			},
			CorrelationID: correlationID,
		})
	}
	events = append(events, entities.DomainEvent{
		Type: entities.EventTypeInventoryUpdated,
		Payload: entities.InventoryUpdatedPayload{
			ProductID:      op.ProductID,
			OldStock:       change.Before.TotalStock,
			NewStock:       change.After.TotalStock,
			LockedStock:    change.After.LockedStock,
			ReservedStock:  change.After.ReservedStock,
			AvailableStock: change.After.Available(),
			OperationType:  op.Kind,
			Quantity:       op.Quantity,
			OrderID:        op.OrderID,
			UpdatedAt:      change.At,
		},
		CorrelationID: correlationID,
	})
	return events
}
