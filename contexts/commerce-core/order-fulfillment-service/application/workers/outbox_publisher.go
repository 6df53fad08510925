package workers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	application "ordercore/contexts/commerce-core/order-fulfillment-service/application"
	"ordercore/contexts/commerce-core/order-fulfillment-service/application/dispatch"
	"ordercore/contexts/commerce-core/order-fulfillment-service/domain/entities"
	domainerrors "ordercore/contexts/commerce-core/order-fulfillment-service/domain/errors"
	"ordercore/contexts/commerce-core/order-fulfillment-service/domain/services"
	"ordercore/contexts/commerce-core/order-fulfillment-service/ports"
)

const (
	defaultHandlerTimeout = 30 * time.Second
	maxStoredErrorLength  = 2000
)

// Dispatch outcomes, used as a metrics label.
const (
	DispatchCompleted = "completed"
	DispatchRetry     = "retry"
	DispatchFailed    = "failed"
	DispatchClaimLost = "claim_lost"
)

// Dispatcher routes one message to its handlers.
type Dispatcher interface {
	Dispatch(ctx context.Context, message dispatch.Message) error
}

// OutboxPublisher delivers one claimed message and records the outcome.
// The message must already be in Processing.
type OutboxPublisher struct {
	Outbox         ports.OutboxStore
	Dispatcher     Dispatcher
	Retry          services.RetryPolicy
	HandlerTimeout time.Duration
	Clock          ports.Clock
	Metrics        ports.Metrics
	Logger         *slog.Logger
}

// Publish returns an error only when the outcome could not be recorded; the
// message then stays in Processing until stuck recovery reclaims it.
func (p OutboxPublisher) Publish(ctx context.Context, message entities.OutboxMessage) (string, error) {
	logger := application.ResolveLogger(p.Logger)
	metrics := application.ResolveMetrics(p.Metrics)
	timeout := p.HandlerTimeout
	if timeout <= 0 {
		timeout = defaultHandlerTimeout
	}

	started := time.Now()
	handlerCtx, cancel := context.WithTimeout(ctx, timeout)
	dispatchErr := p.Dispatcher.Dispatch(handlerCtx, dispatch.MessageFromOutbox(message))
	if dispatchErr == nil && handlerCtx.Err() != nil {
		dispatchErr = handlerCtx.Err()
	}
	cancel()
	elapsed := time.Since(started)
	now := application.ResolveNow(p.Clock)

	if dispatchErr == nil {
		err := p.Outbox.Complete(ctx, message.MessageID, now)
		if errors.Is(err, domainerrors.ErrOutboxClaimLost) {
			return p.claimLost(logger, message), nil
		}
		if err != nil {
			logger.Error("outbox complete failed",
				"event", "order_fulfillment_outbox_complete_failed",
				"module", application.ModuleName,
				"layer", "worker",
				"message_id", message.MessageID,
				"error", err.Error(),
			)
			return "", err
		}
		metrics.ObserveDispatch(message.EventType, DispatchCompleted, elapsed)
		logger.Debug("outbox message completed",
			"event", "order_fulfillment_outbox_completed",
			"module", application.ModuleName,
			"layer", "worker",
			"message_id", message.MessageID,
			"event_type", string(message.EventType),
		)
		return DispatchCompleted, nil
	}

	var nextRetryAt *time.Time
	if !dispatch.IsPermanent(dispatchErr) {
		nextRetryAt = p.Retry.NextRetryAt(message.RetryCount, now)
	}
	outcome := DispatchRetry
	if nextRetryAt == nil {
		outcome = DispatchFailed
	}

	reason := truncate(dispatchErr.Error(), maxStoredErrorLength)
	err := p.Outbox.Fail(ctx, message.MessageID, reason, nextRetryAt, now)
	if errors.Is(err, domainerrors.ErrOutboxClaimLost) {
		return p.claimLost(logger, message), nil
	}
	if err != nil {
		logger.Error("outbox fail record failed",
			"event", "order_fulfillment_outbox_fail_record_failed",
			"module", application.ModuleName,
			"layer", "worker",
			"message_id", message.MessageID,
			"error", err.Error(),
		)
		return "", errors.Join(dispatchErr, err)
	}
	metrics.ObserveDispatch(message.EventType, outcome, elapsed)

	if outcome == DispatchFailed {
		logger.Error("outbox message parked",
			"event", "order_fulfillment_outbox_parked",
			"module", application.ModuleName,
			"layer", "worker",
			"message_id", message.MessageID,
			"event_type", string(message.EventType),
			"retry_count", message.RetryCount+1,
			"permanent", dispatch.IsPermanent(dispatchErr),
			"error", reason,
		)
		return outcome, nil
	}
	logger.Warn("outbox message scheduled for retry",
		"event", "order_fulfillment_outbox_retry_scheduled",
		"module", application.ModuleName,
		"layer", "worker",
		"message_id", message.MessageID,
		"event_type", string(message.EventType),
		"retry_count", message.RetryCount+1,
		"next_retry_at", nextRetryAt.Format(time.RFC3339),
		"error", reason,
	)
	return outcome, nil
}

// claimLost covers a claim that outlived the stuck threshold and was handed
// to another worker. That worker owns the outcome now.
func (p OutboxPublisher) claimLost(logger *slog.Logger, message entities.OutboxMessage) string {
	logger.Warn("outbox claim lost before outcome was recorded",
		"event", "order_fulfillment_outbox_claim_lost",
		"module", application.ModuleName,
		"layer", "worker",
		"message_id", message.MessageID,
		"event_type", string(message.EventType),
	)
	return DispatchClaimLost
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit]
}
