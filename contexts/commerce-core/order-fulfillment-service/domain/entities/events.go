package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType is the outbox tag used to route a message to its handlers.
type EventType string

const (
	EventTypeOrderCreated     EventType = "order.created"
	EventTypeOrderPaid        EventType = "order.paid"
	EventTypeOrderCancelled   EventType = "order.cancelled"
	EventTypeOrderShipped     EventType = "order.shipped"
	EventTypeOrderDelivered   EventType = "order.delivered"
	EventTypeInventoryUpdated EventType = "inventory.updated"
	EventTypeStockLocked      EventType = "stock.locked"
	EventTypeStockReleased    EventType = "stock.released"
)

func AllEventTypes() []EventType {
	return []EventType{
		EventTypeOrderCreated,
		EventTypeOrderPaid,
		EventTypeOrderCancelled,
		EventTypeOrderShipped,
		EventTypeOrderDelivered,
		EventTypeInventoryUpdated,
		EventTypeStockLocked,
		EventTypeStockReleased,
	}
}

// DomainEvent is an event that has not been assigned an outbox row yet.
type DomainEvent struct {
	Type          EventType
	Payload       any
	CorrelationID string
	CausationID   string
}

type OrderLine struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type OrderCreatedPayload struct {
	OrderID     string          `json:"order_id"`
	UserID      string          `json:"user_id"`
	Items       []OrderLine     `json:"items"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	CreatedAt   time.Time       `json:"created_at"`
	ExpiresAt   time.Time       `json:"expires_at"`
}

type OrderPaidPayload struct {
	OrderID       string          `json:"order_id"`
	UserID        string          `json:"user_id"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"payment_method"`
	Items         []OrderLine     `json:"items"`
	PaidAt        time.Time       `json:"paid_at"`
}

type OrderCancelledPayload struct {
	OrderID     string      `json:"order_id"`
	UserID      string      `json:"user_id"`
	Reason      string      `json:"reason"`
	Items       []OrderLine `json:"items"`
	CancelledAt time.Time   `json:"cancelled_at"`
}

type OrderShippedPayload struct {
	OrderID        string    `json:"order_id"`
	UserID         string    `json:"user_id"`
	TrackingNumber string    `json:"tracking_number"`
	ShippedAt      time.Time `json:"shipped_at"`
}

type OrderDeliveredPayload struct {
	OrderID     string    `json:"order_id"`
	UserID      string    `json:"user_id"`
	DeliveredAt time.Time `json:"delivered_at"`
}

type InventoryUpdatedPayload struct {
	ProductID      string             `json:"product_id"`
	OldStock       int                `json:"old_stock"`
	NewStock       int                `json:"new_stock"`
	LockedStock    int                `json:"locked_stock"`
	ReservedStock  int                `json:"reserved_stock"`
	AvailableStock int                `json:"available_stock"`
	OperationType  StockOperationKind `json:"operation_type"`
	Quantity       int                `json:"quantity"`
	OrderID        string             `json:"order_id,omitempty"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

type StockLockedPayload struct {
	ProductID string    `json:"product_id"`
	OrderID   string    `json:"order_id"`
	Quantity  int       `json:"quantity"`
	LockedAt  time.Time `json:"locked_at"`
}

type StockReleasedPayload struct {
	ProductID  string    `json:"product_id"`
	OrderID    string    `json:"order_id"`
	Quantity   int       `json:"quantity"`
	Reason     string    `json:"reason"`
	ReleasedAt time.Time `json:"released_at"`
}
