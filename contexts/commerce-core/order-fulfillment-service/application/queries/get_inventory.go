package queries

import (
	"context"
	"log/slog"
	"strings"

	"ordercore/contexts/commerce-core/order-fulfillment-service/domain/entities"
	domainerrors "ordercore/contexts/commerce-core/order-fulfillment-service/domain/errors"
	"ordercore/contexts/commerce-core/order-fulfillment-service/domain/services"
	"ordercore/contexts/commerce-core/order-fulfillment-service/ports"
)

type CheckStockResult struct {
	ProductID   string
	Requested   int
	Available   int
	Satisfiable bool
}

// CheckStockUseCase is read-only; the answer may be stale by the time a
// Lock is attempted.
type CheckStockUseCase struct {
	Ledger ports.InventoryLedger
	Logger *slog.Logger
}

func (uc CheckStockUseCase) Execute(ctx context.Context, productID string, qty int) (CheckStockResult, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return CheckStockResult{}, domainerrors.ErrInvalidStockOperation
	}
	level, err := uc.Ledger.GetStock(ctx, productID)
	if err != nil {
		return CheckStockResult{}, err
	}
	available, ok := services.CheckStock(level, qty)
	return CheckStockResult{
		ProductID:   productID,
		Requested:   qty,
		Available:   available,
		Satisfiable: ok,
	}, nil
}

type GetProductInventoryUseCase struct {
	Ledger ports.InventoryLedger
	Logger *slog.Logger
}

func (uc GetProductInventoryUseCase) Execute(ctx context.Context, productID string) (entities.ProductInventory, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return entities.ProductInventory{}, domainerrors.ErrInvalidStockOperation
	}
	level, err := uc.Ledger.GetStock(ctx, productID)
	if err != nil {
		return entities.ProductInventory{}, err
	}
	return services.ProductInventoryView(level), nil
}

type ListInventoryResult struct {
	Items         []entities.ProductInventory
	TotalStock    int
	LockedStock   int
	ReservedStock int
	LowStockCount int
}

type ListInventoryUseCase struct {
	Ledger ports.InventoryLedger
	Logger *slog.Logger
}

func (uc ListInventoryUseCase) Execute(ctx context.Context) (ListInventoryResult, error) {
	levels, err := uc.Ledger.ListStock(ctx)
	if err != nil {
		return ListInventoryResult{}, err
	}
	result := ListInventoryResult{Items: make([]entities.ProductInventory, 0, len(levels))}
	for _, level := range levels {
		view := services.ProductInventoryView(level)
		result.Items = append(result.Items, view)
		result.TotalStock += level.TotalStock
		result.LockedStock += level.LockedStock
		result.ReservedStock += level.ReservedStock
		if view.IsLowStock {
			result.LowStockCount++
		}
	}
	return result, nil
}
