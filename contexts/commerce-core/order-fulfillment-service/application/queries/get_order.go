package queries

import (
	"context"
	"log/slog"
	"strings"

	"ordercore/contexts/commerce-core/order-fulfillment-service/domain/entities"
	"ordercore/contexts/commerce-core/order-fulfillment-service/ports"
)

type GetOrderUseCase struct {
	Orders ports.OrderRepository
	Logger *slog.Logger
}

func (uc GetOrderUseCase) Execute(ctx context.Context, orderID string) (entities.Order, error) {
	return uc.Orders.GetOrder(ctx, strings.TrimSpace(orderID))
}
