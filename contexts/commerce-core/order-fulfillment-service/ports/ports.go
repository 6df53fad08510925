package ports

import (
	"context"
	"time"

	"ordercore/contexts/commerce-core/order-fulfillment-service/domain/entities"
	"ordercore/contexts/commerce-core/order-fulfillment-service/domain/services"
	contractsv1 "ordercore/contracts/gen/events/v1"

	"github.com/shopspring/decimal"
)

// Clock allows deterministic testing of expiry and retry timing.
type Clock interface {
	Now() time.Time
}

// IDGenerator abstracts order/message identifier generation.
type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}

// InventoryLedger serializes mutations per product and persists each change
// together with its outbox events.
type InventoryLedger interface {
	GetStock(ctx context.Context, productID string) (entities.StockLevel, error)
	ListStock(ctx context.Context) ([]entities.StockLevel, error)
	GetReservation(ctx context.Context, productID string, orderID string) (entities.Reservation, bool, error)
	// ApplyStockOperation returns business rejections as errors wrapping the
	// domain sentinels; the ledger is left untouched in that case.
	ApplyStockOperation(ctx context.Context, op entities.StockOperation) (services.StockChange, error)
	SetReservedStock(ctx context.Context, productID string, reserved int) (entities.StockLevel, error)
}

// StockTransactionLog reads the ledger history. Rows are written by the
// ledger in the same unit of work as the change they describe.
type StockTransactionLog interface {
	// ListStockTransactions returns matching rows, newest first.
	ListStockTransactions(ctx context.Context, filter entities.StockTransactionFilter) ([]entities.StockTransaction, error)
	GetStockTransaction(ctx context.Context, transactionID string) (entities.StockTransaction, error)
}

// OrderRepository owns order persistence and the transaction boundary that
// couples order status, ledger changes and outbox rows.
type OrderRepository interface {
	GetOrder(ctx context.Context, orderID string) (entities.Order, error)
	// PlaceOrder locks every line, stores the order and appends events in one
	// unit of work. No lock survives a failed placement.
	PlaceOrder(ctx context.Context, order entities.Order, events []entities.DomainEvent) error
	// TransitionOrder re-reads the order under its lock, plans the change and
	// applies status, ledger operations and events atomically.
	TransitionOrder(ctx context.Context, transition services.OrderTransition) (entities.Order, error)
	ListDueOrders(ctx context.Context, now time.Time, limit int) ([]entities.Order, error)
}

// ClaimScope narrows which rows ClaimBatch may flip to Processing.
type ClaimScope int

const (
	ClaimScopeAll ClaimScope = iota
	ClaimScopePending
	ClaimScopeRetryDue
)

// OutboxStore is the durable pending-effects table. The Pending/Failed →
// Processing flip in ClaimBatch is its only concurrency control.
type OutboxStore interface {
	Append(ctx context.Context, messages ...entities.OutboxMessage) error
	ClaimBatch(ctx context.Context, limit int, now time.Time, scope ClaimScope) ([]entities.OutboxMessage, error)
	Complete(ctx context.Context, messageID string, at time.Time) error
	// Fail records a failed attempt; a nil nextRetryAt parks it permanently.
	Fail(ctx context.Context, messageID string, reason string, nextRetryAt *time.Time, at time.Time) error
	RecoverStuck(ctx context.Context, claimedBefore time.Time) (int, error)
	PurgeCompleted(ctx context.Context, processedBefore time.Time) (int, error)
	ListFailed(ctx context.Context, limit int) ([]entities.OutboxMessage, error)
	Requeue(ctx context.Context, messageID string, at time.Time) error
	CountByStatus(ctx context.Context) (map[entities.OutboxStatus]int, error)
}

// EventDedupStore records processed markers for handlers whose effects are
// not naturally idempotent. A marker starts as a lease and only counts as
// processed once CompleteEvent promotes it.
type EventDedupStore interface {
	// ReserveEvent takes a lease until leaseUntil. It reports true for a
	// completed marker and fails with ErrEventInProgress while another lease
	// is live. Expired leases are taken over.
	ReserveEvent(ctx context.Context, eventID string, payloadHash string, leaseUntil time.Time) (bool, error)
	CompleteEvent(ctx context.Context, eventID string, expiresAt time.Time) error
	ReleaseEvent(ctx context.Context, eventID string) error
}

// CacheInvalidator drops read-model cache keys; deleting twice is harmless.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, keys ...string) error
}

type NotificationKind string

const (
	NotificationOrderConfirmation NotificationKind = "order_confirmation"
	NotificationPaymentReceipt    NotificationKind = "payment_receipt"
	NotificationOrderCancelled    NotificationKind = "order_cancelled"
	NotificationOrderShipped      NotificationKind = "order_shipped"
	NotificationOrderDelivered    NotificationKind = "order_delivered"
	NotificationLowStockAlert     NotificationKind = "low_stock_alert"
)

type Notification struct {
	NotificationID string
	Kind           NotificationKind
	UserID         string
	OrderID        string
	ProductID      string
	Message        string
	OccurredAt     time.Time
}

// Notifier dispatches notification requests to the delivery system.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// StatDelta is one statistics increment.
type StatDelta struct {
	Counter string
	Count   int64
	Amount  decimal.Decimal
}

// StatisticsRecorder applies deltas at most once per eventID.
type StatisticsRecorder interface {
	Apply(ctx context.Context, eventID string, deltas []StatDelta) (bool, error)
}

// EventEnvelope reuses the canonical cross-runtime envelope contract.
type EventEnvelope = contractsv1.Envelope

// EventPublisher publishes canonical envelopes to a topic.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, event EventEnvelope) error
}

// ExpirationScheduler arms a one-shot delayed signal. Armed tickets cannot be
// cancelled; consumers re-check order state instead.
type ExpirationScheduler interface {
	Schedule(ctx context.Context, ticket entities.ExpirationTicket) error
}

// ExpirationSource delivers expired tickets until ctx is done.
type ExpirationSource interface {
	Consume(ctx context.Context, handler func(context.Context, entities.ExpirationTicket) error) error
}

// SweepLocker grants a short-lived exclusive lease across worker instances.
type SweepLocker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(context.Context) error, acquired bool, err error)
}

// Metrics receives outcome counters from the workers and the ledger.
type Metrics interface {
	ObserveDispatch(eventType entities.EventType, outcome string, elapsed time.Duration)
	SetOutboxBacklog(status entities.OutboxStatus, count int)
	AddRecovered(count int)
	AddPurged(count int)
	ObserveStockOperation(kind entities.StockOperationKind, outcome string)
	ObserveExpiration(source string, outcome string)
}
