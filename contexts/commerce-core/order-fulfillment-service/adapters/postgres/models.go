package postgresadapter

import (
	"time"

	"ordercore/contexts/commerce-core/order-fulfillment-service/domain/entities"

	"github.com/shopspring/decimal"
)

type stockLevelModel struct {
	ProductID     string    `gorm:"column:product_id;primaryKey"`
	TotalStock    int       `gorm:"column:total_stock"`
	LockedStock   int       `gorm:"column:locked_stock"`
	ReservedStock int       `gorm:"column:reserved_stock"`
	UpdatedAt     time.Time `gorm:"column:updated_at"`
}

func (stockLevelModel) TableName() string {
	return "stock_levels"
}

func (m stockLevelModel) toEntity() entities.StockLevel {
	return entities.StockLevel{
		ProductID:     m.ProductID,
		TotalStock:    m.TotalStock,
		LockedStock:   m.LockedStock,
		ReservedStock: m.ReservedStock,
		UpdatedAt:     m.UpdatedAt.UTC(),
	}
}

type reservationModel struct {
	ProductID string    `gorm:"column:product_id;primaryKey"`
	OrderID   string    `gorm:"column:order_id;primaryKey"`
	Quantity  int       `gorm:"column:quantity"`
	Status    string    `gorm:"column:status"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (reservationModel) TableName() string {
	return "stock_reservations"
}

func reservationModelFromEntity(reservation entities.Reservation) reservationModel {
	return reservationModel{
		ProductID: reservation.ProductID,
		OrderID:   reservation.OrderID,
		Quantity:  reservation.Quantity,
		Status:    string(reservation.Status),
		CreatedAt: reservation.CreatedAt.UTC(),
		UpdatedAt: reservation.UpdatedAt.UTC(),
	}
}

func (m reservationModel) toEntity() entities.Reservation {
	return entities.Reservation{
		ProductID: m.ProductID,
		OrderID:   m.OrderID,
		Quantity:  m.Quantity,
		Status:    entities.ReservationStatus(m.Status),
		CreatedAt: m.CreatedAt.UTC(),
		UpdatedAt: m.UpdatedAt.UTC(),
	}
}

type stockTransactionModel struct {
	ID            string    `gorm:"column:id;primaryKey"`
	ProductID     string    `gorm:"column:product_id"`
	OrderID       *string   `gorm:"column:order_id"`
	OperationType string    `gorm:"column:operation_type"`
	Quantity      int       `gorm:"column:quantity"`
	OldStock      int       `gorm:"column:old_stock"`
	NewStock      int       `gorm:"column:new_stock"`
	LockedStock   int       `gorm:"column:locked_stock"`
	ReservedStock int       `gorm:"column:reserved_stock"`
	Reason        *string   `gorm:"column:reason"`
	CorrelationID *string   `gorm:"column:correlation_id"`
	CreatedAt     time.Time `gorm:"column:created_at"`
}

func (stockTransactionModel) TableName() string {
	return "stock_transactions"
}

func stockTransactionModelFromEntity(record entities.StockTransaction) stockTransactionModel {
	return stockTransactionModel{
		ID:            record.ID,
		ProductID:     record.ProductID,
		OrderID:       nullableString(record.OrderID),
		OperationType: string(record.Kind),
		Quantity:      record.Quantity,
		OldStock:      record.OldStock,
		NewStock:      record.NewStock,
		LockedStock:   record.LockedStock,
		ReservedStock: record.ReservedStock,
		Reason:        nullableString(record.Reason),
		CorrelationID: nullableString(record.CorrelationID),
		CreatedAt:     record.CreatedAt.UTC(),
	}
}

func (m stockTransactionModel) toEntity() entities.StockTransaction {
	return entities.StockTransaction{
		ID:            m.ID,
		ProductID:     m.ProductID,
		OrderID:       stringValue(m.OrderID),
		Kind:          entities.StockOperationKind(m.OperationType),
		Quantity:      m.Quantity,
		OldStock:      m.OldStock,
		NewStock:      m.NewStock,
		LockedStock:   m.LockedStock,
		ReservedStock: m.ReservedStock,
		Reason:        stringValue(m.Reason),
		CorrelationID: stringValue(m.CorrelationID),
		CreatedAt:     m.CreatedAt.UTC(),
	}
}

type orderModel struct {
	OrderID        string          `gorm:"column:order_id;primaryKey"`
	UserID         string          `gorm:"column:user_id"`
	Status         string          `gorm:"column:status"`
	TotalAmount    decimal.Decimal `gorm:"column:total_amount;type:numeric(14,2)"`
	PaymentMethod  string          `gorm:"column:payment_method"`
	CancelReason   string          `gorm:"column:cancel_reason"`
	TrackingNumber string          `gorm:"column:tracking_number"`
	CreatedAt      time.Time       `gorm:"column:created_at"`
	ExpiresAt      time.Time       `gorm:"column:expires_at"`
	PaidAt         *time.Time      `gorm:"column:paid_at"`
	CancelledAt    *time.Time      `gorm:"column:cancelled_at"`
	ShippedAt      *time.Time      `gorm:"column:shipped_at"`
	DeliveredAt    *time.Time      `gorm:"column:delivered_at"`
	UpdatedAt      time.Time       `gorm:"column:updated_at"`
}

func (orderModel) TableName() string {
	return "orders"
}

func orderModelFromEntity(order entities.Order) orderModel {
	return orderModel{
		OrderID:        order.OrderID,
		UserID:         order.UserID,
		Status:         string(order.Status),
		TotalAmount:    order.TotalAmount,
		PaymentMethod:  order.PaymentMethod,
		CancelReason:   order.CancelReason,
		TrackingNumber: order.TrackingNumber,
		CreatedAt:      order.CreatedAt.UTC(),
		ExpiresAt:      order.ExpiresAt.UTC(),
		PaidAt:         utcPtr(order.PaidAt),
		CancelledAt:    utcPtr(order.CancelledAt),
		ShippedAt:      utcPtr(order.ShippedAt),
		DeliveredAt:    utcPtr(order.DeliveredAt),
		UpdatedAt:      order.UpdatedAt.UTC(),
	}
}

func (m orderModel) toEntity(items []orderItemModel) entities.Order {
	order := entities.Order{
		OrderID:        m.OrderID,
		UserID:         m.UserID,
		Status:         entities.OrderStatus(m.Status),
		Items:          make([]entities.OrderItem, 0, len(items)),
		TotalAmount:    m.TotalAmount,
		PaymentMethod:  m.PaymentMethod,
		CancelReason:   m.CancelReason,
		TrackingNumber: m.TrackingNumber,
		CreatedAt:      m.CreatedAt.UTC(),
		ExpiresAt:      m.ExpiresAt.UTC(),
		PaidAt:         utcPtr(m.PaidAt),
		CancelledAt:    utcPtr(m.CancelledAt),
		ShippedAt:      utcPtr(m.ShippedAt),
		DeliveredAt:    utcPtr(m.DeliveredAt),
		UpdatedAt:      m.UpdatedAt.UTC(),
	}
	for _, item := range items {
		order.Items = append(order.Items, entities.OrderItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	return order
}

type orderItemModel struct {
	OrderID   string          `gorm:"column:order_id;primaryKey"`
	ProductID string          `gorm:"column:product_id;primaryKey"`
	Quantity  int             `gorm:"column:quantity"`
	UnitPrice decimal.Decimal `gorm:"column:unit_price;type:numeric(14,2)"`
}

func (orderItemModel) TableName() string {
	return "order_items"
}

type outboxModel struct {
	ID            string     `gorm:"column:id;primaryKey"`
	Type          string     `gorm:"column:type"`
	Data          []byte     `gorm:"column:data"`
	CreatedAt     time.Time  `gorm:"column:created_at"`
	ProcessedAt   *time.Time `gorm:"column:processed_at"`
	Error         *string    `gorm:"column:error"`
	RetryCount    int        `gorm:"column:retry_count"`
	NextRetryAt   *time.Time `gorm:"column:next_retry_at"`
	Status        int16      `gorm:"column:status"`
	CorrelationID *string    `gorm:"column:correlation_id"`
	CausationID   *string    `gorm:"column:causation_id"`
	ClaimedAt     *time.Time `gorm:"column:claimed_at"`
}

func (outboxModel) TableName() string {
	return "outbox_messages"
}

func outboxModelFromEntity(message entities.OutboxMessage) outboxModel {
	return outboxModel{
		ID:            message.MessageID,
		Type:          string(message.EventType),
		Data:          append([]byte(nil), message.Payload...),
		CreatedAt:     message.CreatedAt.UTC(),
		ProcessedAt:   utcPtr(message.ProcessedAt),
		Error:         nullableString(message.LastError),
		RetryCount:    message.RetryCount,
		NextRetryAt:   utcPtr(message.NextRetryAt),
		Status:        int16(message.Status),
		CorrelationID: nullableString(message.CorrelationID),
		CausationID:   nullableString(message.CausationID),
		ClaimedAt:     utcPtr(message.ClaimedAt),
	}
}

func (m outboxModel) toEntity() entities.OutboxMessage {
	return entities.OutboxMessage{
		MessageID:     m.ID,
		EventType:     entities.EventType(m.Type),
		Payload:       append([]byte(nil), m.Data...),
		Status:        entities.OutboxStatus(m.Status),
		CreatedAt:     m.CreatedAt.UTC(),
		ClaimedAt:     utcPtr(m.ClaimedAt),
		ProcessedAt:   utcPtr(m.ProcessedAt),
		LastError:     stringValue(m.Error),
		RetryCount:    m.RetryCount,
		NextRetryAt:   utcPtr(m.NextRetryAt),
		CorrelationID: stringValue(m.CorrelationID),
		CausationID:   stringValue(m.CausationID),
	}
}

type eventDedupModel struct {
	EventID     string     `gorm:"column:event_id;primaryKey"`
	PayloadHash string     `gorm:"column:payload_hash"`
	ExpiresAt   time.Time  `gorm:"column:expires_at"`
	ProcessedAt time.Time  `gorm:"column:processed_at"`
	CompletedAt *time.Time `gorm:"column:completed_at"`
}

func (eventDedupModel) TableName() string {
	return "event_dedup"
}

func utcPtr(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	utc := value.UTC()
	return &utc
}

func nullableString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func stringValue(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
