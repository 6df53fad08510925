package commands

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	application "ordercore/contexts/commerce-core/order-fulfillment-service/application"
	"ordercore/contexts/commerce-core/order-fulfillment-service/domain/entities"
	domainerrors "ordercore/contexts/commerce-core/order-fulfillment-service/domain/errors"
	"ordercore/contexts/commerce-core/order-fulfillment-service/domain/services"
	"ordercore/contexts/commerce-core/order-fulfillment-service/ports"
)

// Expiration sources, used as a metrics label.
const (
	ExpirationSourceSignal = "signal"
	ExpirationSourceSweep  = "sweep"
)

// Expiration outcomes.
const (
	ExpirationCancelled = "cancelled"
	ExpirationSkipped   = "skipped"
	ExpirationNotDue    = "not_due"
	ExpirationMissing   = "missing"
	ExpirationRejected  = "rejected"
	ExpirationError     = "error"
)

type ExpireOrderCommand struct {
	OrderID string
	Source  string
}

type ExpireOrderResult struct {
	Outcome string
	Order   entities.Order
}

// ExpireOrderUseCase cancels an unpaid order whose window has passed. It is
// safe to run for the same order from the delayed signal and the sweep at
// once: the status re-check under the order lock lets exactly one cancel.
type ExpireOrderUseCase struct {
	Orders  ports.OrderRepository
	Clock   ports.Clock
	Metrics ports.Metrics
	Logger  *slog.Logger
}

func (uc ExpireOrderUseCase) Execute(ctx context.Context, cmd ExpireOrderCommand) (ExpireOrderResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	metrics := application.ResolveMetrics(uc.Metrics)
	source := cmd.Source
	if source == "" {
		source = ExpirationSourceSignal
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		metrics.ObserveExpiration(source, ExpirationMissing)
		return ExpireOrderResult{Outcome: ExpirationMissing}, nil
	}

	order, err := uc.Orders.TransitionOrder(ctx, services.OrderTransition{
		OrderID:    orderID,
		Target:     entities.OrderStatusCancelled,
		Reason:     entities.CancelReasonExpired,
		RequireDue: true,
		At:         application.ResolveNow(uc.Clock),
	})

	outcome := ExpirationCancelled
	switch {
	case err == nil:
	case errors.Is(err, domainerrors.ErrOrderNotFound):
		outcome = ExpirationMissing
	case errors.Is(err, domainerrors.ErrOrderAlreadyInState),
		errors.Is(err, domainerrors.ErrInvalidOrderTransition):
		outcome = ExpirationSkipped
	case errors.Is(err, domainerrors.ErrOrderNotDue):
		outcome = ExpirationNotDue
	case IsBusinessRejection(err):
		// Retrying cannot change a ledger rejection; redelivering the
		// ticket would only spin.
		metrics.ObserveExpiration(source, ExpirationRejected)
		logger.Warn("order expiration rejected by ledger",
			"event", "order_fulfillment_order_expiration_rejected",
			"module", application.ModuleName,
			"layer", "application",
			"order_id", orderID,
			"source", source,
			"error", err.Error(),
		)
		return ExpireOrderResult{Outcome: ExpirationRejected}, nil
	default:
		metrics.ObserveExpiration(source, ExpirationError)
		logger.Error("order expiration failed",
			"event", "order_fulfillment_order_expiration_failed",
			"module", application.ModuleName,
			"layer", "application",
			"order_id", orderID,
			"source", source,
			"error", err.Error(),
		)
		return ExpireOrderResult{Outcome: ExpirationError}, err
	}

	metrics.ObserveExpiration(source, outcome)
	logger.Info("order expiration evaluated",
		"event", "order_fulfillment_order_expiration_evaluated",
		"module", application.ModuleName,
		"layer", "application",
		"order_id", orderID,
		"source", source,
		"outcome", outcome,
	)
	return ExpireOrderResult{Outcome: outcome, Order: order}, nil
}
