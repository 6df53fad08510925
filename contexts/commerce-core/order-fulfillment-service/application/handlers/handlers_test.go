package handlers

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"ordercore/contexts/commerce-core/order-fulfillment-service/application/dispatch"
	"ordercore/contexts/commerce-core/order-fulfillment-service/domain/entities"
	"ordercore/contexts/commerce-core/order-fulfillment-service/ports"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu            sync.Mutex
	invalidated   []string
	notifications []ports.Notification
	published     []ports.EventEnvelope
	topics        []string
	statsEvents   map[string]struct{}
	deltas        []ports.StatDelta
	markers       map[string]string
}

func newRecorder() *recorder {
	return &recorder{
		statsEvents: make(map[string]struct{}),
		markers:     make(map[string]string),
	}
}

func (r *recorder) Invalidate(_ context.Context, keys ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalidated = append(r.invalidated, keys...)
	return nil
}

func (r *recorder) Notify(_ context.Context, notification ports.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, notification)
	return nil
}

func (r *recorder) Publish(_ context.Context, topic string, event ports.EventEnvelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, topic)
	r.published = append(r.published, event)
	return nil
}

func (r *recorder) Apply(_ context.Context, eventID string, deltas []ports.StatDelta) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.statsEvents[eventID]; ok {
		return false, nil
	}
	r.statsEvents[eventID] = struct{}{}
	r.deltas = append(r.deltas, deltas...)
	return true, nil
}

func (r *recorder) ReserveEvent(_ context.Context, eventID string, payloadHash string, _ time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.markers[eventID]; ok {
		return true, nil
	}
	r.markers[eventID] = payloadHash
	return false, nil
}

func (r *recorder) CompleteEvent(context.Context, string, time.Time) error {
	return nil
}

func (r *recorder) ReleaseEvent(_ context.Context, eventID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.markers, eventID)
	return nil
}

func newRegistry(t *testing.T, rec *recorder) *dispatch.Registry {
	t.Helper()
	registry := dispatch.NewRegistry(nil)
	require.NoError(t, EventHandlers{
		Cache:             rec,
		Notifier:          rec,
		Statistics:        rec,
		Publisher:         rec,
		Dedup:             rec,
		EventsTopic:       "orders.events",
		LowStockThreshold: 5,
	}.Register(registry))
	return registry
}

func message(t *testing.T, id string, eventType entities.EventType, payload any) dispatch.Message {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return dispatch.Message{
		ID:            id,
		Type:          eventType,
		Payload:       raw,
		CorrelationID: "order-1",
		CreatedAt:     time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC),
		Attempt:       1,
	}
}

func TestRegisterCoversEveryEventType(t *testing.T) {
	registry := newRegistry(t, newRecorder())

	assert.Len(t, registry.EventTypes(), len(entities.AllEventTypes()))
	assert.Equal(t,
		[]string{handlerStatistics, handlerCache, handlerNotify, handlerRelay},
		registry.HandlerNames(entities.EventTypeOrderCreated),
	)
	assert.Equal(t,
		[]string{handlerCache, handlerLowStock, handlerRelay},
		registry.HandlerNames(entities.EventTypeInventoryUpdated),
	)
}

func TestRegisterRequiresDedupForNotifications(t *testing.T) {
	rec := newRecorder()
	err := EventHandlers{Notifier: rec}.Register(dispatch.NewRegistry(nil))
	assert.Error(t, err)

	registry := dispatch.NewRegistry(nil)
	require.NoError(t, EventHandlers{Cache: rec}.Register(registry))
	assert.Equal(t, []string{handlerCache}, registry.HandlerNames(entities.EventTypeStockReleased))
	assert.Equal(t, []string{handlerCache}, registry.HandlerNames(entities.EventTypeOrderPaid))
}

func TestOrderCreatedRedeliveryDoesNotRepeatEffects(t *testing.T) {
	rec := newRecorder()
	registry := newRegistry(t, rec)
	msg := message(t, "msg-1", entities.EventTypeOrderCreated, entities.OrderCreatedPayload{
		OrderID:     "order-1",
		UserID:      "user-1",
		Items:       []entities.OrderLine{{ProductID: "sku-a", Quantity: 2, UnitPrice: decimal.NewFromInt(10)}},
		TotalAmount: decimal.NewFromInt(20),
		ExpiresAt:   time.Date(2026, 2, 1, 10, 30, 0, 0, time.UTC),
	})

	require.NoError(t, registry.Dispatch(context.Background(), msg))
	require.NoError(t, registry.Dispatch(context.Background(), msg))

	require.Len(t, rec.notifications, 1)
	notification := rec.notifications[0]
	assert.Equal(t, ports.NotificationOrderConfirmation, notification.Kind)
	assert.Equal(t, "user-1", notification.UserID)
	assert.Equal(t, dispatch.MarkerKey("msg-1", handlerNotify), notification.NotificationID)
	assert.Contains(t, notification.Message, "20.00")

	require.Len(t, rec.deltas, 1)
	assert.Equal(t, StatOrdersCreated, rec.deltas[0].Counter)
	assert.True(t, decimal.NewFromInt(20).Equal(rec.deltas[0].Amount))

	assert.Contains(t, rec.invalidated, OrderCacheKey("order-1"))
	assert.Contains(t, rec.invalidated, ProductCacheKey("sku-a"))

	// The relay publishes on every delivery; consumers dedupe on event_id.
	require.Len(t, rec.published, 2)
	assert.Equal(t, "msg-1", rec.published[0].EventID)
	assert.Equal(t, "orders.events", rec.topics[0])
}

func TestExpiredCancellationNotificationWording(t *testing.T) {
	rec := newRecorder()
	registry := newRegistry(t, rec)
	msg := message(t, "msg-2", entities.EventTypeOrderCancelled, entities.OrderCancelledPayload{
		OrderID: "order-1",
		UserID:  "user-1",
		Reason:  entities.CancelReasonExpired,
	})

	require.NoError(t, registry.Dispatch(context.Background(), msg))
	require.Len(t, rec.notifications, 1)
	assert.Equal(t, ports.NotificationOrderCancelled, rec.notifications[0].Kind)
	assert.Contains(t, rec.notifications[0].Message, "payment was not received in time")
	assert.Equal(t, msg.CreatedAt, rec.notifications[0].OccurredAt)
}

func TestLowStockAlert(t *testing.T) {
	rec := newRecorder()
	registry := newRegistry(t, rec)

	healthy := message(t, "inv-1", entities.EventTypeInventoryUpdated, entities.InventoryUpdatedPayload{
		ProductID: "sku-a", AvailableStock: 6, OperationType: entities.StockOperationLock,
	})
	require.NoError(t, registry.Dispatch(context.Background(), healthy))
	assert.Empty(t, rec.notifications)

	restocked := message(t, "inv-2", entities.EventTypeInventoryUpdated, entities.InventoryUpdatedPayload{
		ProductID: "sku-a", AvailableStock: 2, OperationType: entities.StockOperationRestore,
	})
	require.NoError(t, registry.Dispatch(context.Background(), restocked))
	assert.Empty(t, rec.notifications)

	low := message(t, "inv-3", entities.EventTypeInventoryUpdated, entities.InventoryUpdatedPayload{
		ProductID: "sku-a", AvailableStock: 5, OperationType: entities.StockOperationDeduct,
	})
	require.NoError(t, registry.Dispatch(context.Background(), low))
	require.NoError(t, registry.Dispatch(context.Background(), low))
	require.Len(t, rec.notifications, 1)
	assert.Equal(t, ports.NotificationLowStockAlert, rec.notifications[0].Kind)
	assert.Equal(t, "sku-a", rec.notifications[0].ProductID)
}

func TestBuildEnvelopePartitionKey(t *testing.T) {
	orderMsg := message(t, "m1", entities.EventTypeOrderPaid, entities.OrderPaidPayload{OrderID: "order-9"})
	envelope, err := BuildEnvelope(orderMsg, "svc")
	require.NoError(t, err)
	assert.Equal(t, "order_id", envelope.PartitionKeyPath)
	assert.Equal(t, "order-9", envelope.PartitionKey)
	assert.Equal(t, "svc", envelope.SourceService)
	assert.Equal(t, "order-1", envelope.CorrelationID)

	stockMsg := message(t, "m2", entities.EventTypeStockLocked, entities.StockLockedPayload{ProductID: "sku-a", OrderID: "order-9"})
	envelope, err = BuildEnvelope(stockMsg, "svc")
	require.NoError(t, err)
	assert.Equal(t, "product_id", envelope.PartitionKeyPath)
	assert.Equal(t, "sku-a", envelope.PartitionKey)

	_, err = BuildEnvelope(dispatch.Message{ID: "m3", Payload: []byte("not json")}, "svc")
	assert.Error(t, err)
}
