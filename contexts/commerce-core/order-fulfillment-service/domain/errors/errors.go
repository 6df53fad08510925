package errors

import "errors"

var (
	ErrOrderNotFound            = errors.New("order not found")
	ErrInvalidOrderRequest      = errors.New("invalid order request")
	ErrInvalidOrderTransition   = errors.New("invalid order status transition")
	ErrOrderAlreadyInState      = errors.New("order already in requested status")
	ErrOrderNotDue              = errors.New("order has not reached its expiry")
	ErrInvalidStockOperation    = errors.New("invalid stock operation")
	ErrUnknownStockOperation    = errors.New("unknown stock operation kind")
	ErrInsufficientStock        = errors.New("insufficient stock")
	ErrReservationConflict      = errors.New("order already holds a different lock on this product")
	ErrReservationNotFound      = errors.New("no active lock for product and order")
	ErrReleaseExceedsLock       = errors.New("release quantity exceeds locked quantity")
	ErrLedgerInvariantBroken    = errors.New("ledger invariant violated: available stock would be negative")
	ErrOutboxMessageNotFound    = errors.New("outbox message not found")
	ErrOutboxMessageNotFailed   = errors.New("outbox message is not in failed state")
	ErrOutboxClaimLost          = errors.New("outbox message is no longer claimed by this processor")
	ErrIdempotencyKeyConflict   = errors.New("event marker reused with different payload")
	ErrEventInProgress          = errors.New("event handler run still holds its lease")
	ErrEventMarkerNotFound      = errors.New("event marker not found")
	ErrStockTransactionNotFound = errors.New("stock transaction not found")
	ErrInvalidQueryLimit        = errors.New("limit must be between 1 and 1000")
	ErrRepositoryInvariantBroke = errors.New("repository invariant violated")
)
