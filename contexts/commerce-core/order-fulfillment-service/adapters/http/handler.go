package httpadapter

import (
	"context"
	"log/slog"
	"strings"
	"time"

	application "ordercore/contexts/commerce-core/order-fulfillment-service/application"
	"ordercore/contexts/commerce-core/order-fulfillment-service/application/commands"
	"ordercore/contexts/commerce-core/order-fulfillment-service/application/queries"
	"ordercore/contexts/commerce-core/order-fulfillment-service/domain/entities"
	domainerrors "ordercore/contexts/commerce-core/order-fulfillment-service/domain/errors"
	httptransport "ordercore/contexts/commerce-core/order-fulfillment-service/transport/http"

	"github.com/shopspring/decimal"
)

type Handler struct {
	PlaceOrder        commands.PlaceOrderUseCase
	ChangeOrderStatus commands.ChangeOrderStatusUseCase
	AdjustInventory   commands.AdjustInventoryUseCase
	RequeueOutbox     commands.RequeueOutboxUseCase
	GetOrder          queries.GetOrderUseCase
	CheckStock        queries.CheckStockUseCase
	GetInventory      queries.GetProductInventoryUseCase
	ListInventory     queries.ListInventoryUseCase
	ListFailedOutbox  queries.ListFailedOutboxUseCase
	OutboxBacklog     queries.OutboxBacklogUseCase

	ListStockTransactions queries.ListStockTransactionsUseCase
	GetStockTransaction   queries.GetStockTransactionUseCase

	Logger *slog.Logger
}

// PlaceOrderHandler godoc
// @Summary Place an order
// @Description Locks stock for every line, stores the order and arms its payment expiry.
// @Tags order-fulfillment
// @Accept json
// @Produce json
// @Param X-User-Id header string true "Buyer id"
// @Param request body httptransport.PlaceOrderRequest true "Order lines"
// @Success 201 {object} httptransport.PlaceOrderResponse
// @Failure 400 {object} httptransport.ErrorResponse
// @Failure 409 {object} httptransport.ErrorResponse
// @Failure 500 {object} httptransport.ErrorResponse
// @Router /v1/orders [post]
func (h Handler) PlaceOrderHandler(
	ctx context.Context,
	userID string,
	req httptransport.PlaceOrderRequest,
) (httptransport.PlaceOrderResponse, error) {
	logger := application.ResolveLogger(h.Logger)
	logger.Info("place order request received",
		"event", "http_place_order_received",
		"module", application.ModuleName,
		"layer", "transport",
		"user_id", userID,
		"item_count", len(req.Items),
	)

	items := make([]entities.OrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		price, err := decimal.NewFromString(strings.TrimSpace(item.UnitPrice))
		if err != nil {
			return httptransport.PlaceOrderResponse{}, domainerrors.ErrInvalidOrderRequest
		}
		items = append(items, entities.OrderItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: price,
		})
	}

	result, err := h.PlaceOrder.Execute(ctx, commands.PlaceOrderCommand{
		OrderID: req.OrderID,
		UserID:  userID,
		Items:   items,
	})
	if err != nil {
		logger.Warn("place order request failed",
			"event", "http_place_order_failed",
			"module", application.ModuleName,
			"layer", "transport",
			"user_id", userID,
			"error", err.Error(),
		)
		return httptransport.PlaceOrderResponse{}, err
	}
	return httptransport.PlaceOrderResponse{
		Order:           mapOrder(result.Order),
		ExpirationArmed: result.ExpirationArmed,
	}, nil
}

// GetOrderHandler godoc
// @Summary Get order
// @Tags order-fulfillment
// @Produce json
// @Param order_id path string true "Order id"
// @Success 200 {object} httptransport.OrderResponse
// @Failure 404 {object} httptransport.ErrorResponse
// @Failure 500 {object} httptransport.ErrorResponse
// @Router /v1/orders/{order_id} [get]
func (h Handler) GetOrderHandler(ctx context.Context, orderID string) (httptransport.OrderResponse, error) {
	order, err := h.GetOrder.Execute(ctx, orderID)
	if err != nil {
		return httptransport.OrderResponse{}, err
	}
	return httptransport.OrderResponse{Order: mapOrder(order)}, nil
}

// PayOrderHandler godoc
// @Summary Mark order paid
// @Description Converts the order's stock locks into deductions.
// @Tags order-fulfillment
// @Accept json
// @Produce json
// @Param order_id path string true "Order id"
// @Param request body httptransport.PayOrderRequest true "Payment details"
// @Success 200 {object} httptransport.OrderResponse
// @Failure 404 {object} httptransport.ErrorResponse
// @Failure 409 {object} httptransport.ErrorResponse
// @Failure 500 {object} httptransport.ErrorResponse
// @Router /v1/orders/{order_id}/pay [post]
func (h Handler) PayOrderHandler(ctx context.Context, orderID string, req httptransport.PayOrderRequest) (httptransport.OrderResponse, error) {
	return h.changeStatus(ctx, commands.ChangeOrderStatusCommand{
		OrderID:       orderID,
		Action:        commands.OrderActionPay,
		PaymentMethod: req.PaymentMethod,
	})
}

// CancelOrderHandler godoc
// @Summary Cancel order
// @Description Releases held locks, or restores deducted stock for a paid order.
// @Tags order-fulfillment
// @Accept json
// @Produce json
// @Param order_id path string true "Order id"
// @Param request body httptransport.CancelOrderRequest false "Cancel reason"
// @Success 200 {object} httptransport.OrderResponse
// @Failure 404 {object} httptransport.ErrorResponse
// @Failure 409 {object} httptransport.ErrorResponse
// @Failure 500 {object} httptransport.ErrorResponse
// @Router /v1/orders/{order_id}/cancel [post]
func (h Handler) CancelOrderHandler(ctx context.Context, orderID string, req httptransport.CancelOrderRequest) (httptransport.OrderResponse, error) {
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = entities.CancelReasonCustomer
	}
	return h.changeStatus(ctx, commands.ChangeOrderStatusCommand{
		OrderID: orderID,
		Action:  commands.OrderActionCancel,
		Reason:  reason,
	})
}

// ShipOrderHandler godoc
// @Summary Ship order
// @Tags order-fulfillment
// @Accept json
// @Produce json
// @Param order_id path string true "Order id"
// @Param request body httptransport.ShipOrderRequest true "Shipment details"
// @Success 200 {object} httptransport.OrderResponse
// @Failure 400 {object} httptransport.ErrorResponse
// @Failure 404 {object} httptransport.ErrorResponse
// @Failure 409 {object} httptransport.ErrorResponse
// @Router /v1/orders/{order_id}/ship [post]
func (h Handler) ShipOrderHandler(ctx context.Context, orderID string, req httptransport.ShipOrderRequest) (httptransport.OrderResponse, error) {
	return h.changeStatus(ctx, commands.ChangeOrderStatusCommand{
		OrderID:        orderID,
		Action:         commands.OrderActionShip,
		TrackingNumber: req.TrackingNumber,
	})
}

// DeliverOrderHandler godoc
// @Summary Confirm delivery
// @Tags order-fulfillment
// @Produce json
// @Param order_id path string true "Order id"
// @Success 200 {object} httptransport.OrderResponse
// @Failure 404 {object} httptransport.ErrorResponse
// @Failure 409 {object} httptransport.ErrorResponse
// @Router /v1/orders/{order_id}/deliver [post]
func (h Handler) DeliverOrderHandler(ctx context.Context, orderID string) (httptransport.OrderResponse, error) {
	return h.changeStatus(ctx, commands.ChangeOrderStatusCommand{
		OrderID: orderID,
		Action:  commands.OrderActionDeliver,
	})
}

func (h Handler) changeStatus(ctx context.Context, cmd commands.ChangeOrderStatusCommand) (httptransport.OrderResponse, error) {
	result, err := h.ChangeOrderStatus.Execute(ctx, cmd)
	if err != nil {
		application.ResolveLogger(h.Logger).Warn("order status request failed",
			"event", "http_order_status_failed",
			"module", application.ModuleName,
			"layer", "transport",
			"order_id", cmd.OrderID,
			"action", string(cmd.Action),
			"error", err.Error(),
		)
		return httptransport.OrderResponse{}, err
	}
	return httptransport.OrderResponse{
		Order:    mapOrder(result.Order),
		Replayed: result.Replayed,
	}, nil
}

// CheckStockHandler godoc
// @Summary Check stock availability
// @Description Read-only; a later lock may still be rejected.
// @Tags inventory
// @Produce json
// @Param product_id path string true "Product id"
// @Param qty query int true "Requested quantity"
// @Success 200 {object} httptransport.StockCheckResponse
// @Failure 400 {object} httptransport.ErrorResponse
// @Router /v1/inventory/{product_id}/check [get]
func (h Handler) CheckStockHandler(ctx context.Context, productID string, qty int) (httptransport.StockCheckResponse, error) {
	result, err := h.CheckStock.Execute(ctx, productID, qty)
	if err != nil {
		return httptransport.StockCheckResponse{}, err
	}
	return httptransport.StockCheckResponse{
		ProductID:   result.ProductID,
		Requested:   result.Requested,
		Available:   result.Available,
		Satisfiable: result.Satisfiable,
	}, nil
}

// GetInventoryHandler godoc
// @Summary Get product inventory
// @Tags inventory
// @Produce json
// @Param product_id path string true "Product id"
// @Success 200 {object} httptransport.StockLevelDTO
// @Failure 400 {object} httptransport.ErrorResponse
// @Router /v1/inventory/{product_id} [get]
func (h Handler) GetInventoryHandler(ctx context.Context, productID string) (httptransport.StockLevelDTO, error) {
	view, err := h.GetInventory.Execute(ctx, productID)
	if err != nil {
		return httptransport.StockLevelDTO{}, err
	}
	return mapInventory(view), nil
}

// ListInventoryHandler godoc
// @Summary List inventory
// @Tags inventory
// @Produce json
// @Success 200 {object} httptransport.ListInventoryResponse
// @Router /v1/inventory [get]
func (h Handler) ListInventoryHandler(ctx context.Context) (httptransport.ListInventoryResponse, error) {
	result, err := h.ListInventory.Execute(ctx)
	if err != nil {
		return httptransport.ListInventoryResponse{}, err
	}
	items := make([]httptransport.StockLevelDTO, 0, len(result.Items))
	for _, item := range result.Items {
		items = append(items, mapInventory(item))
	}
	return httptransport.ListInventoryResponse{
		Items:         items,
		TotalStock:    result.TotalStock,
		LockedStock:   result.LockedStock,
		ReservedStock: result.ReservedStock,
		LowStockCount: result.LowStockCount,
	}, nil
}

// ApplyStockOperationHandler godoc
// @Summary Apply one ledger operation
// @Description Runs lock, release, deduct or restore. Business rejections come back with success=false.
// @Tags inventory
// @Accept json
// @Produce json
// @Param request body httptransport.StockOperationRequest true "Operation"
// @Success 200 {object} httptransport.StockOperationResultDTO
// @Failure 400 {object} httptransport.ErrorResponse
// @Router /v1/inventory/operations [post]
func (h Handler) ApplyStockOperationHandler(ctx context.Context, req httptransport.StockOperationRequest) (httptransport.StockOperationResultDTO, error) {
	op, err := mapStockOperation(req)
	if err != nil {
		return httptransport.StockOperationResultDTO{}, err
	}
	return mapStockResult(h.AdjustInventory.Apply(ctx, op)), nil
}

// BatchUpdateHandler godoc
// @Summary Apply ledger operations in sequence
// @Description Each operation commits on its own; success is true only when every one succeeded.
// @Tags inventory
// @Accept json
// @Produce json
// @Param request body httptransport.BatchUpdateRequest true "Operations"
// @Success 200 {object} httptransport.BatchUpdateResponse
// @Failure 400 {object} httptransport.ErrorResponse
// @Router /v1/inventory/batch [post]
func (h Handler) BatchUpdateHandler(ctx context.Context, req httptransport.BatchUpdateRequest) (httptransport.BatchUpdateResponse, error) {
	ops := make([]entities.StockOperation, 0, len(req.Operations))
	for _, item := range req.Operations {
		op, err := mapStockOperation(item)
		if err != nil {
			return httptransport.BatchUpdateResponse{}, err
		}
		ops = append(ops, op)
	}
	result := h.AdjustInventory.BatchUpdate(ctx, ops)
	items := make([]httptransport.StockOperationResultDTO, 0, len(result.Results))
	for _, item := range result.Results {
		items = append(items, mapStockResult(item))
	}
	return httptransport.BatchUpdateResponse{
		Success:     result.Success,
		FailedCount: result.FailedCount(),
		Results:     items,
	}, nil
}

// SetReservedStockHandler godoc
// @Summary Set administrative reserved stock
// @Tags inventory
// @Accept json
// @Produce json
// @Param product_id path string true "Product id"
// @Param request body httptransport.SetReservedStockRequest true "Reserved quantity"
// @Success 200 {object} httptransport.StockLevelDTO
// @Failure 400 {object} httptransport.ErrorResponse
// @Failure 409 {object} httptransport.ErrorResponse
// @Router /v1/inventory/{product_id}/reserved [put]
func (h Handler) SetReservedStockHandler(ctx context.Context, productID string, req httptransport.SetReservedStockRequest) (httptransport.StockLevelDTO, error) {
	level, err := h.AdjustInventory.SetReservedStock(ctx, productID, req.ReservedStock)
	if err != nil {
		return httptransport.StockLevelDTO{}, err
	}
	return mapLevel(level), nil
}

// ListFailedOutboxHandler godoc
// @Summary List permanently failed outbox messages
// @Tags outbox
// @Produce json
// @Param limit query int false "Page size (max 500)"
// @Success 200 {object} httptransport.ListFailedOutboxResponse
// @Router /v1/admin/outbox/failed [get]
func (h Handler) ListFailedOutboxHandler(ctx context.Context, limit int) (httptransport.ListFailedOutboxResponse, error) {
	items, err := h.ListFailedOutbox.Execute(ctx, limit)
	if err != nil {
		return httptransport.ListFailedOutboxResponse{}, err
	}
	result := make([]httptransport.OutboxMessageDTO, 0, len(items))
	for _, item := range items {
		result = append(result, mapOutboxMessage(item))
	}
	return httptransport.ListFailedOutboxResponse{Items: result}, nil
}

// RequeueOutboxHandler godoc
// @Summary Requeue a failed outbox message
// @Tags outbox
// @Produce json
// @Param X-User-Id header string true "Operator id"
// @Param message_id path string true "Message id"
// @Success 204
// @Failure 404 {object} httptransport.ErrorResponse
// @Failure 409 {object} httptransport.ErrorResponse
// @Router /v1/admin/outbox/{message_id}/requeue [post]
func (h Handler) RequeueOutboxHandler(ctx context.Context, actorID string, messageID string) error {
	return h.RequeueOutbox.Execute(ctx, commands.RequeueOutboxCommand{
		MessageID: messageID,
		ActorID:   actorID,
	})
}

// OutboxBacklogHandler godoc
// @Summary Outbox row counts per status
// @Tags outbox
// @Produce json
// @Success 200 {object} httptransport.OutboxBacklogResponse
// @Router /v1/admin/outbox/backlog [get]
func (h Handler) OutboxBacklogHandler(ctx context.Context) (httptransport.OutboxBacklogResponse, error) {
	counts, err := h.OutboxBacklog.Execute(ctx)
	if err != nil {
		return httptransport.OutboxBacklogResponse{}, err
	}
	result := make(map[string]int, len(counts))
	for status, count := range counts {
		result[status.String()] = count
	}
	return httptransport.OutboxBacklogResponse{Counts: result}, nil
}

// ListStockTransactionsHandler godoc
// @Summary List ledger history
// @Description Newest first. Filters by product, by operation kind, or both.
// @Tags inventory
// @Produce json
// @Param product_id query string false "Product id"
// @Param operation query string false "lock, release, deduct or restore"
// @Param limit query int false "Page size, 1 to 1000 (default 50)"
// @Success 200 {object} httptransport.ListStockTransactionsResponse
// @Failure 400 {object} httptransport.ErrorResponse
// @Router /v1/admin/stock-transactions [get]
func (h Handler) ListStockTransactionsHandler(ctx context.Context, productID string, operation string, limit int) (httptransport.ListStockTransactionsResponse, error) {
	records, err := h.ListStockTransactions.Execute(ctx, queries.ListStockTransactionsQuery{
		ProductID: productID,
		Operation: operation,
		Limit:     limit,
	})
	if err != nil {
		return httptransport.ListStockTransactionsResponse{}, err
	}
	items := make([]httptransport.StockTransactionDTO, 0, len(records))
	for _, record := range records {
		items = append(items, mapStockTransaction(record))
	}
	return httptransport.ListStockTransactionsResponse{Items: items}, nil
}

// GetStockTransactionHandler godoc
// @Summary Get one ledger history row
// @Tags inventory
// @Produce json
// @Param transaction_id path string true "Transaction id"
// @Success 200 {object} httptransport.StockTransactionDTO
// @Failure 404 {object} httptransport.ErrorResponse
// @Router /v1/admin/stock-transactions/{transaction_id} [get]
func (h Handler) GetStockTransactionHandler(ctx context.Context, transactionID string) (httptransport.StockTransactionDTO, error) {
	record, err := h.GetStockTransaction.Execute(ctx, transactionID)
	if err != nil {
		return httptransport.StockTransactionDTO{}, err
	}
	return mapStockTransaction(record), nil
}

func mapStockOperation(req httptransport.StockOperationRequest) (entities.StockOperation, error) {
	kind, err := entities.ParseStockOperationKind(strings.TrimSpace(req.Kind))
	if err != nil {
		return entities.StockOperation{}, domainerrors.ErrUnknownStockOperation
	}
	return entities.StockOperation{
		Kind:      kind,
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		OrderID:   req.OrderID,
		Reason:    req.Reason,
	}, nil
}

func mapStockResult(result entities.StockOperationResult) httptransport.StockOperationResultDTO {
	dto := httptransport.StockOperationResultDTO{
		Kind:      string(result.Operation.Kind),
		ProductID: result.Operation.ProductID,
		OrderID:   result.Operation.OrderID,
		Quantity:  result.Operation.Quantity,
		Success:   result.Success,
		Noop:      result.Noop,
		Level:     mapLevel(result.Level),
	}
	if result.Err != nil {
		dto.Error = result.Err.Error()
	}
	return dto
}

func mapLevel(level entities.StockLevel) httptransport.StockLevelDTO {
	return httptransport.StockLevelDTO{
		ProductID:      level.ProductID,
		TotalStock:     level.TotalStock,
		LockedStock:    level.LockedStock,
		ReservedStock:  level.ReservedStock,
		AvailableStock: level.Available(),
		UpdatedAt:      formatTime(level.UpdatedAt),
	}
}

func mapInventory(view entities.ProductInventory) httptransport.StockLevelDTO {
	dto := mapLevel(view.Level)
	dto.AvailableStock = view.AvailableStock
	dto.LowStockThreshold = view.LowStockThreshold
	dto.IsLowStock = view.IsLowStock
	return dto
}

func mapOrder(order entities.Order) httptransport.OrderDTO {
	items := make([]httptransport.OrderItemDTO, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, httptransport.OrderItemDTO{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice.StringFixed(2),
			Subtotal:  item.Subtotal().StringFixed(2),
		})
	}
	return httptransport.OrderDTO{
		OrderID:        order.OrderID,
		UserID:         order.UserID,
		Status:         string(order.Status),
		Items:          items,
		TotalAmount:    order.TotalAmount.StringFixed(2),
		PaymentMethod:  order.PaymentMethod,
		CancelReason:   order.CancelReason,
		TrackingNumber: order.TrackingNumber,
		CreatedAt:      formatTime(order.CreatedAt),
		ExpiresAt:      formatTime(order.ExpiresAt),
		PaidAt:         formatTimePtr(order.PaidAt),
		CancelledAt:    formatTimePtr(order.CancelledAt),
		ShippedAt:      formatTimePtr(order.ShippedAt),
		DeliveredAt:    formatTimePtr(order.DeliveredAt),
		UpdatedAt:      formatTime(order.UpdatedAt),
	}
}

func mapOutboxMessage(message entities.OutboxMessage) httptransport.OutboxMessageDTO {
	return httptransport.OutboxMessageDTO{
		MessageID:     message.MessageID,
		EventType:     string(message.EventType),
		Status:        message.Status.String(),
		RetryCount:    message.RetryCount,
		LastError:     message.LastError,
		CorrelationID: message.CorrelationID,
		CreatedAt:     formatTime(message.CreatedAt),
	}
}

func mapStockTransaction(record entities.StockTransaction) httptransport.StockTransactionDTO {
	return httptransport.StockTransactionDTO{
		TransactionID: record.ID,
		ProductID:     record.ProductID,
		OrderID:       record.OrderID,
		OperationType: string(record.Kind),
		Quantity:      record.Quantity,
		OldStock:      record.OldStock,
		NewStock:      record.NewStock,
		LockedStock:   record.LockedStock,
		ReservedStock: record.ReservedStock,
		Reason:        record.Reason,
		CorrelationID: record.CorrelationID,
		CreatedAt:     formatTime(record.CreatedAt),
	}
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(time.RFC3339)
}

func formatTimePtr(value *time.Time) string {
	if value == nil {
		return ""
	}
	return formatTime(*value)
}
