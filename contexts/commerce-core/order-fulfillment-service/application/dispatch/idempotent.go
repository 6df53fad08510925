package dispatch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	application "ordercore/contexts/commerce-core/order-fulfillment-service/application"
	domainerrors "ordercore/contexts/commerce-core/order-fulfillment-service/domain/errors"
	"ordercore/contexts/commerce-core/order-fulfillment-service/ports"
)

const (
	defaultMarkerTTL   = 7 * 24 * time.Hour
	defaultMarkerLease = 30 * time.Second
)

type idempotentHandler struct {
	inner  Handler
	dedup  ports.EventDedupStore
	clock  ports.Clock
	lease  time.Duration
	ttl    time.Duration
	logger *slog.Logger
}

// Idempotent guards a handler with a marker keyed by message and handler
// name. The marker is a lease while the effect runs and becomes a processed
// marker only after the effect succeeds. A run that dies mid-way leaves a
// lease that lapses, so the redelivered message performs the effect.
// lease should cover the handler timeout and stay below the outbox stuck
// threshold.
func Idempotent(
	dedup ports.EventDedupStore,
	clock ports.Clock,
	lease time.Duration,
	ttl time.Duration,
	logger *slog.Logger,
	inner Handler,
) Handler {
	if lease <= 0 {
		lease = defaultMarkerLease
	}
	if ttl <= 0 {
		ttl = defaultMarkerTTL
	}
	return idempotentHandler{
		inner:  inner,
		dedup:  dedup,
		clock:  clock,
		lease:  lease,
		ttl:    ttl,
		logger: application.ResolveLogger(logger),
	}
}

func (h idempotentHandler) Name() string { return h.inner.Name() }

func (h idempotentHandler) Handle(ctx context.Context, message Message) error {
	key := MarkerKey(message.ID, h.inner.Name())
	now := application.ResolveNow(h.clock)

	alreadyProcessed, err := h.dedup.ReserveEvent(ctx, key, hashPayload(message.Payload), now.Add(h.lease))
	if errors.Is(err, domainerrors.ErrIdempotencyKeyConflict) {
		return Permanent(err)
	}
	if err != nil {
		return err
	}
	if alreadyProcessed {
		h.logger.Debug("event already handled",
			"event", "order_fulfillment_handler_replayed",
			"module", application.ModuleName,
			"layer", "application",
			"message_id", message.ID,
			"event_type", string(message.Type),
			"handler", h.inner.Name(),
		)
		return nil
	}

	if err := h.inner.Handle(ctx, message); err != nil {
		if releaseErr := h.dedup.ReleaseEvent(context.WithoutCancel(ctx), key); releaseErr != nil {
			h.logger.Error("event marker release failed",
				"event", "order_fulfillment_marker_release_failed",
				"module", application.ModuleName,
				"layer", "application",
				"message_id", message.ID,
				"handler", h.inner.Name(),
				"error", releaseErr.Error(),
			)
		}
		return err
	}

	// The effect happened; failing here would repeat it on redelivery, so
	// a lost promotion only shortens the dedup window to the lease.
	doneAt := application.ResolveNow(h.clock)
	if err := h.dedup.CompleteEvent(context.WithoutCancel(ctx), key, doneAt.Add(h.ttl)); err != nil {
		h.logger.Warn("event marker completion failed",
			"event", "order_fulfillment_marker_complete_failed",
			"module", application.ModuleName,
			"layer", "application",
			"message_id", message.ID,
			"handler", h.inner.Name(),
			"error", err.Error(),
		)
	}
	return nil
}

func MarkerKey(messageID string, handler string) string {
	return messageID + ":" + handler
}

func hashPayload(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
