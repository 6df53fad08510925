package queries

import (
	"context"
	"log/slog"
	"strings"

	"ordercore/contexts/commerce-core/order-fulfillment-service/domain/entities"
	domainerrors "ordercore/contexts/commerce-core/order-fulfillment-service/domain/errors"
	"ordercore/contexts/commerce-core/order-fulfillment-service/ports"
)

const (
	defaultStockTransactionLimit = 50
	maxStockTransactionLimit     = 1000
)

type ListStockTransactionsQuery struct {
	ProductID string
	// Operation is a raw kind name; empty lists every kind.
	Operation string
	// Limit of zero means the default page; anything outside 1..1000 is
	// rejected rather than clamped.
	Limit int
}

// ListStockTransactionsUseCase reads the ledger history by product, by
// operation kind, or both.
type ListStockTransactionsUseCase struct {
	Log    ports.StockTransactionLog
	Logger *slog.Logger
}

func (uc ListStockTransactionsUseCase) Execute(ctx context.Context, query ListStockTransactionsQuery) ([]entities.StockTransaction, error) {
	limit := query.Limit
	if limit == 0 {
		limit = defaultStockTransactionLimit
	}
	if limit < 1 || limit > maxStockTransactionLimit {
		return nil, domainerrors.ErrInvalidQueryLimit
	}

	filter := entities.StockTransactionFilter{
		ProductID: strings.TrimSpace(query.ProductID),
		Limit:     limit,
	}
	if raw := strings.TrimSpace(query.Operation); raw != "" {
		kind, err := entities.ParseStockOperationKind(raw)
		if err != nil {
			return nil, domainerrors.ErrUnknownStockOperation
		}
		filter.Kind = kind
	}
	return uc.Log.ListStockTransactions(ctx, filter)
}

type GetStockTransactionUseCase struct {
	Log    ports.StockTransactionLog
	Logger *slog.Logger
}

func (uc GetStockTransactionUseCase) Execute(ctx context.Context, transactionID string) (entities.StockTransaction, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return entities.StockTransaction{}, domainerrors.ErrStockTransactionNotFound
	}
	return uc.Log.GetStockTransaction(ctx, transactionID)
}
