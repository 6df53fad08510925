package queries

import (
	"context"
	"log/slog"

	"ordercore/contexts/commerce-core/order-fulfillment-service/domain/entities"
	"ordercore/contexts/commerce-core/order-fulfillment-service/ports"
)

const (
	defaultFailedOutboxLimit = 50
	maxFailedOutboxLimit     = 500
)

// ListFailedOutboxUseCase lists permanently failed messages for operators.
type ListFailedOutboxUseCase struct {
	Outbox ports.OutboxStore
	Logger *slog.Logger
}

func (uc ListFailedOutboxUseCase) Execute(ctx context.Context, limit int) ([]entities.OutboxMessage, error) {
	if limit <= 0 {
		limit = defaultFailedOutboxLimit
	}
	if limit > maxFailedOutboxLimit {
		limit = maxFailedOutboxLimit
	}
	return uc.Outbox.ListFailed(ctx, limit)
}

type OutboxBacklogUseCase struct {
	Outbox ports.OutboxStore
	Logger *slog.Logger
}

// Execute returns a count for every status, including empty ones.
func (uc OutboxBacklogUseCase) Execute(ctx context.Context) (map[entities.OutboxStatus]int, error) {
	counts, err := uc.Outbox.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[entities.OutboxStatus]int, len(entities.AllOutboxStatuses()))
	for _, status := range entities.AllOutboxStatuses() {
		out[status] = counts[status]
	}
	return out, nil
}
