package handlers

import (
	"context"
	"encoding/json"

	"ordercore/contexts/commerce-core/order-fulfillment-service/application/dispatch"
	"ordercore/contexts/commerce-core/order-fulfillment-service/ports"
)

const (
	defaultEventsTopic   = "commerce.order-fulfillment.events"
	defaultSourceService = "order-fulfillment-service"
	envelopeVersion      = 1
)

type partitionProbe struct {
	OrderID   string `json:"order_id"`
	ProductID string `json:"product_id"`
}

// relayHandler forwards every event as a canonical envelope. Consumers
// dedupe on event_id, which is the outbox message id.
func (h EventHandlers) relayHandler() dispatch.Handler {
	if h.Publisher == nil {
		return nil
	}
	topic := h.EventsTopic
	if topic == "" {
		topic = defaultEventsTopic
	}
	return dispatch.NewHandler(handlerRelay, func(ctx context.Context, message dispatch.Message) error {
		envelope, err := BuildEnvelope(message, h.sourceService())
		if err != nil {
			return dispatch.Permanent(err)
		}
		return h.Publisher.Publish(ctx, topic, envelope)
	})
}

func (h EventHandlers) sourceService() string {
	if h.SourceService == "" {
		return defaultSourceService
	}
	return h.SourceService
}

// BuildEnvelope partitions order events by order id and stock events by
// product id.
func BuildEnvelope(message dispatch.Message, source string) (ports.EventEnvelope, error) {
	var probe partitionProbe
	if err := json.Unmarshal(message.Payload, &probe); err != nil {
		return ports.EventEnvelope{}, err
	}
	keyPath, key := "order_id", probe.OrderID
	if probe.ProductID != "" {
		keyPath, key = "product_id", probe.ProductID
	}
	return ports.EventEnvelope{
		EventID:          message.ID,
		EventType:        string(message.Type),
		OccurredAt:       message.CreatedAt.UTC(),
		SourceService:    source,
		TraceID:          message.CorrelationID,
		CorrelationID:    message.CorrelationID,
		CausationID:      message.CausationID,
		SchemaVersion:    envelopeVersion,
		PartitionKeyPath: keyPath,
		PartitionKey:     key,
		Data:             json.RawMessage(message.Payload),
	}, nil
}
