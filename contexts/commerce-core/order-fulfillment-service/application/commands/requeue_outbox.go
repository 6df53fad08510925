package commands

import (
	"context"
	"log/slog"
	"strings"

	application "ordercore/contexts/commerce-core/order-fulfillment-service/application"
	domainerrors "ordercore/contexts/commerce-core/order-fulfillment-service/domain/errors"
	"ordercore/contexts/commerce-core/order-fulfillment-service/ports"
)

type RequeueOutboxCommand struct {
	MessageID string
	ActorID   string
}

// RequeueOutboxUseCase hands a permanently failed message back to the
// processor with a fresh retry budget.
type RequeueOutboxUseCase struct {
	Outbox ports.OutboxStore
	Clock  ports.Clock
	Logger *slog.Logger
}

func (uc RequeueOutboxUseCase) Execute(ctx context.Context, cmd RequeueOutboxCommand) error {
	messageID := strings.TrimSpace(cmd.MessageID)
	if messageID == "" {
		return domainerrors.ErrOutboxMessageNotFound
	}
	if err := uc.Outbox.Requeue(ctx, messageID, application.ResolveNow(uc.Clock)); err != nil {
		return err
	}
	application.ResolveLogger(uc.Logger).Info("outbox message requeued",
		"event", "order_fulfillment_outbox_requeued",
		"module", application.ModuleName,
		"layer", "application",
		"message_id", messageID,
		"actor_id", strings.TrimSpace(cmd.ActorID),
	)
	return nil
}
