package commands

import (
	"context"
	"errors"
	"log/slog"

	application "ordercore/contexts/commerce-core/order-fulfillment-service/application"
	"ordercore/contexts/commerce-core/order-fulfillment-service/domain/entities"
	domainerrors "ordercore/contexts/commerce-core/order-fulfillment-service/domain/errors"
	"ordercore/contexts/commerce-core/order-fulfillment-service/ports"
)

const (
	outcomeApplied  = "applied"
	outcomeNoop     = "noop"
	outcomeRejected = "rejected"
	outcomeError    = "error"
)

// AdjustInventoryUseCase exposes the ledger operations. Each operation is one
// unit of work; rejections come back as typed results, never as panics.
type AdjustInventoryUseCase struct {
	Ledger  ports.InventoryLedger
	Metrics ports.Metrics
	Logger  *slog.Logger
}

func (uc AdjustInventoryUseCase) Lock(ctx context.Context, productID string, qty int, orderID string) entities.StockOperationResult {
	return uc.Apply(ctx, entities.StockOperation{Kind: entities.StockOperationLock, ProductID: productID, Quantity: qty, OrderID: orderID})
}

func (uc AdjustInventoryUseCase) Release(ctx context.Context, productID string, qty int, orderID string) entities.StockOperationResult {
	return uc.Apply(ctx, entities.StockOperation{Kind: entities.StockOperationRelease, ProductID: productID, Quantity: qty, OrderID: orderID})
}

// Deduct takes an optional order id; the order's own lock then counts toward
// the quantity and is cleared.
func (uc AdjustInventoryUseCase) Deduct(ctx context.Context, productID string, qty int, orderID string) entities.StockOperationResult {
	return uc.Apply(ctx, entities.StockOperation{Kind: entities.StockOperationDeduct, ProductID: productID, Quantity: qty, OrderID: orderID})
}

func (uc AdjustInventoryUseCase) Restore(ctx context.Context, productID string, qty int) entities.StockOperationResult {
	return uc.Apply(ctx, entities.StockOperation{Kind: entities.StockOperationRestore, ProductID: productID, Quantity: qty})
}

func (uc AdjustInventoryUseCase) Apply(ctx context.Context, op entities.StockOperation) entities.StockOperationResult {
	logger := application.ResolveLogger(uc.Logger)
	metrics := application.ResolveMetrics(uc.Metrics)

	change, err := uc.Ledger.ApplyStockOperation(ctx, op)
	if err != nil {
		outcome := outcomeError
		if IsBusinessRejection(err) {
			outcome = outcomeRejected
			logger.Info("stock operation rejected",
				"event", "order_fulfillment_stock_operation_rejected",
				"module", application.ModuleName,
				"layer", "application",
				"operation", string(op.Kind),
				"product_id", op.ProductID,
				"order_id", op.OrderID,
				"quantity", op.Quantity,
				"error", err.Error(),
			)
		} else {
			logger.Error("stock operation failed",
				"event", "order_fulfillment_stock_operation_failed",
				"module", application.ModuleName,
				"layer", "application",
				"operation", string(op.Kind),
				"product_id", op.ProductID,
				"error", err.Error(),
			)
		}
		metrics.ObserveStockOperation(op.Kind, outcome)
		return entities.StockOperationResult{Operation: op, Success: false, Err: err}
	}

	outcome := outcomeApplied
	if change.Noop {
		outcome = outcomeNoop
	}
	metrics.ObserveStockOperation(op.Kind, outcome)
	return entities.StockOperationResult{
		Operation: op,
		Success:   true,
		Noop:      change.Noop,
		Level:     change.After,
	}
}

// BatchUpdate applies a heterogeneous list independently; a rejected item
// does not undo or block the others.
func (uc AdjustInventoryUseCase) BatchUpdate(ctx context.Context, ops []entities.StockOperation) entities.BatchUpdateResult {
	result := entities.BatchUpdateResult{
		Results: make([]entities.StockOperationResult, 0, len(ops)),
		Success: len(ops) > 0,
	}
	for _, op := range ops {
		item := uc.Apply(ctx, op)
		if !item.Success {
			result.Success = false
		}
		result.Results = append(result.Results, item)
	}

	application.ResolveLogger(uc.Logger).Info("stock batch applied",
		"event", "order_fulfillment_stock_batch_applied",
		"module", application.ModuleName,
		"layer", "application",
		"item_count", len(ops),
		"failed_count", result.FailedCount(),
	)
	return result
}

func (uc AdjustInventoryUseCase) SetReservedStock(ctx context.Context, productID string, reserved int) (entities.StockLevel, error) {
	level, err := uc.Ledger.SetReservedStock(ctx, productID, reserved)
	if err != nil {
		return entities.StockLevel{}, err
	}
	application.ResolveLogger(uc.Logger).Info("reserved stock updated",
		"event", "order_fulfillment_reserved_stock_updated",
		"module", application.ModuleName,
		"layer", "application",
		"product_id", productID,
		"reserved_stock", reserved,
	)
	return level, nil
}

// IsBusinessRejection separates caller mistakes and stock shortages from
// infrastructure failures.
func IsBusinessRejection(err error) bool {
	return errors.Is(err, domainerrors.ErrInsufficientStock) ||
		errors.Is(err, domainerrors.ErrInvalidStockOperation) ||
		errors.Is(err, domainerrors.ErrUnknownStockOperation) ||
		errors.Is(err, domainerrors.ErrReservationConflict) ||
		errors.Is(err, domainerrors.ErrReservationNotFound) ||
		errors.Is(err, domainerrors.ErrReleaseExceedsLock) ||
		errors.Is(err, domainerrors.ErrLedgerInvariantBroken) ||
		errors.Is(err, domainerrors.ErrInvalidOrderRequest) ||
		errors.Is(err, domainerrors.ErrInvalidOrderTransition)
}
