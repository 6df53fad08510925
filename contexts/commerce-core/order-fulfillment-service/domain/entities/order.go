package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusCreated   OrderStatus = "created"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusDelivered OrderStatus = "delivered"
)

const (
	CancelReasonExpired  = "expired"
	CancelReasonCustomer = "customer_request"
)

type OrderItem struct {
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
}

func (i OrderItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Order struct {
	OrderID        string
	UserID         string
	Status         OrderStatus
	Items          []OrderItem
	TotalAmount    decimal.Decimal
	PaymentMethod  string
	CancelReason   string
	TrackingNumber string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	PaidAt         *time.Time
	CancelledAt    *time.Time
	ShippedAt      *time.Time
	DeliveredAt    *time.Time
	UpdatedAt      time.Time
}

// Due reports whether an unpaid order passed its payment window.
func (o Order) Due(now time.Time) bool {
	return o.Status == OrderStatusCreated && !o.ExpiresAt.After(now)
}

func (o Order) Lines() []OrderLine {
	lines := make([]OrderLine, 0, len(o.Items))
	for _, item := range o.Items {
		lines = append(lines, OrderLine{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	return lines
}

// ExpirationTicket is the broker-held signal to re-check an unpaid order.
type ExpirationTicket struct {
	OrderID     string
	UserID      string
	RequestedAt time.Time
	Delay       time.Duration
}
