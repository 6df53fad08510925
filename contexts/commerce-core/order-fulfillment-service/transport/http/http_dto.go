package http

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type OrderItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}

type PlaceOrderRequest struct {
	OrderID string             `json:"order_id"`
	Items   []OrderItemRequest `json:"items"`
}

type PayOrderRequest struct {
	PaymentMethod string `json:"payment_method"`
}

type CancelOrderRequest struct {
	Reason string `json:"reason"`
}

type ShipOrderRequest struct {
	TrackingNumber string `json:"tracking_number"`
}

type OrderItemDTO struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	Subtotal  string `json:"subtotal"`
}

type OrderDTO struct {
	OrderID        string         `json:"order_id"`
	UserID         string         `json:"user_id"`
	Status         string         `json:"status"`
	Items          []OrderItemDTO `json:"items"`
	TotalAmount    string         `json:"total_amount"`
	PaymentMethod  string         `json:"payment_method,omitempty"`
	CancelReason   string         `json:"cancel_reason,omitempty"`
	TrackingNumber string         `json:"tracking_number,omitempty"`
	CreatedAt      string         `json:"created_at"`
	ExpiresAt      string         `json:"expires_at"`
	PaidAt         string         `json:"paid_at,omitempty"`
	CancelledAt    string         `json:"cancelled_at,omitempty"`
	ShippedAt      string         `json:"shipped_at,omitempty"`
	DeliveredAt    string         `json:"delivered_at,omitempty"`
	UpdatedAt      string         `json:"updated_at"`
}

type PlaceOrderResponse struct {
	Order           OrderDTO `json:"order"`
	ExpirationArmed bool     `json:"expiration_armed"`
}

type OrderResponse struct {
	Order    OrderDTO `json:"order"`
	Replayed bool     `json:"replayed"`
}

type StockCheckResponse struct {
	ProductID   string `json:"product_id"`
	Requested   int    `json:"requested"`
	Available   int    `json:"available"`
	Satisfiable bool   `json:"satisfiable"`
}

type StockLevelDTO struct {
	ProductID         string `json:"product_id"`
	TotalStock        int    `json:"total_stock"`
	LockedStock       int    `json:"locked_stock"`
	ReservedStock     int    `json:"reserved_stock"`
	AvailableStock    int    `json:"available_stock"`
	LowStockThreshold int    `json:"low_stock_threshold"`
	IsLowStock        bool   `json:"is_low_stock"`
	UpdatedAt         string `json:"updated_at,omitempty"`
}

type ListInventoryResponse struct {
	Items         []StockLevelDTO `json:"items"`
	TotalStock    int             `json:"total_stock"`
	LockedStock   int             `json:"locked_stock"`
	ReservedStock int             `json:"reserved_stock"`
	LowStockCount int             `json:"low_stock_count"`
}

type StockOperationRequest struct {
	Kind      string `json:"kind"`
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	OrderID   string `json:"order_id"`
	Reason    string `json:"reason"`
}

type BatchUpdateRequest struct {
	Operations []StockOperationRequest `json:"operations"`
}

type StockOperationResultDTO struct {
	Kind      string        `json:"kind"`
	ProductID string        `json:"product_id"`
	OrderID   string        `json:"order_id,omitempty"`
	Quantity  int           `json:"quantity"`
	Success   bool          `json:"success"`
	Noop      bool          `json:"noop"`
	Error     string        `json:"error,omitempty"`
	Level     StockLevelDTO `json:"level"`
}

type BatchUpdateResponse struct {
	Success     bool                      `json:"success"`
	FailedCount int                       `json:"failed_count"`
	Results     []StockOperationResultDTO `json:"results"`
}

type SetReservedStockRequest struct {
	ReservedStock int `json:"reserved_stock"`
}

type OutboxMessageDTO struct {
	MessageID     string `json:"message_id"`
	EventType     string `json:"event_type"`
	Status        string `json:"status"`
	RetryCount    int    `json:"retry_count"`
	LastError     string `json:"last_error,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	CreatedAt     string `json:"created_at"`
}

type ListFailedOutboxResponse struct {
	Items []OutboxMessageDTO `json:"items"`
}

type OutboxBacklogResponse struct {
	Counts map[string]int `json:"counts"`
}

type StockTransactionDTO struct {
	TransactionID string `json:"transaction_id"`
	ProductID     string `json:"product_id"`
	OrderID       string `json:"order_id,omitempty"`
	OperationType string `json:"operation_type"`
	Quantity      int    `json:"quantity"`
	OldStock      int    `json:"old_stock"`
	NewStock      int    `json:"new_stock"`
	LockedStock   int    `json:"locked_stock"`
	ReservedStock int    `json:"reserved_stock"`
	Reason        string `json:"reason,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	CreatedAt     string `json:"created_at"`
}

type ListStockTransactionsResponse struct {
	Items []StockTransactionDTO `json:"items"`
}
