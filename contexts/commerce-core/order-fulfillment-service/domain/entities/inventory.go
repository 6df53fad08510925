package entities

import (
	"fmt"
	"time"
)

// StockLevel is the per-product ledger entry.
type StockLevel struct {
	ProductID     string
	TotalStock    int
	LockedStock   int
	ReservedStock int
	UpdatedAt     time.Time
}

// Available is the sellable quantity: total minus locked and reserved holds.
func (s StockLevel) Available() int {
	return s.TotalStock - s.LockedStock - s.ReservedStock
}

type ReservationStatus string

const (
	ReservationStatusActive   ReservationStatus = "active"
	ReservationStatusDeducted ReservationStatus = "deducted"
	ReservationStatusReleased ReservationStatus = "released"
)

// Reservation is the lock held by one order on one product.
type Reservation struct {
	ProductID string
	OrderID   string
	Quantity  int
	Status    ReservationStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r Reservation) Active() bool {
	return r.Status == ReservationStatusActive && r.Quantity > 0
}

// StockOperationKind is a closed set; ApplyStockOperation switches over every
// member and AllStockOperationKinds must list each one.
type StockOperationKind string

const (
	StockOperationLock    StockOperationKind = "lock"
	StockOperationRelease StockOperationKind = "release"
	StockOperationDeduct  StockOperationKind = "deduct"
	StockOperationRestore StockOperationKind = "restore"
)

// InventoryReservedOverride labels inventory.updated events written by an
// operator reserved-stock change. It is not a ledger operation and never
// reaches ApplyStockOperation.
const InventoryReservedOverride StockOperationKind = "reserved_override"

func AllStockOperationKinds() []StockOperationKind {
	return []StockOperationKind{
		StockOperationLock,
		StockOperationRelease,
		StockOperationDeduct,
		StockOperationRestore,
	}
}

func ParseStockOperationKind(raw string) (StockOperationKind, error) {
	for _, kind := range AllStockOperationKinds() {
		if string(kind) == raw {
			return kind, nil
		}
	}
	return "", fmt.Errorf("unknown stock operation kind %q", raw)
}

// RequiresOrder reports whether the kind is keyed by (product, order).
func (k StockOperationKind) RequiresOrder() bool {
	return k == StockOperationLock || k == StockOperationRelease
}

type StockOperation struct {
	Kind      StockOperationKind
	ProductID string
	Quantity  int
	OrderID   string
	Reason    string
	// Remainder turns a release into "free whatever the order still holds,
	// at most Quantity". A pair without an active lock is then a no-op.
	Remainder bool
}

// StockOperationResult is the typed outcome of one ledger operation.
// Business rejections are carried in Err with Success=false.
type StockOperationResult struct {
	Operation StockOperation
	Success   bool
	Noop      bool
	Level     StockLevel
	Err       error
}

type BatchUpdateResult struct {
	Results []StockOperationResult
	Success bool
}

func (r BatchUpdateResult) FailedCount() int {
	failed := 0
	for _, item := range r.Results {
		if !item.Success {
			failed++
		}
	}
	return failed
}

// ProductInventory is the read view of one ledger entry.
type ProductInventory struct {
	Level             StockLevel
	AvailableStock    int
	LowStockThreshold int
	IsLowStock        bool
}

// StockTransaction is one row of the append-only ledger history. Every
// committed lock, release, deduct and restore writes exactly one; no-ops
// and rejected operations write none.
type StockTransaction struct {
	ID            string
	ProductID     string
	OrderID       string
	Kind          StockOperationKind
	Quantity      int
	OldStock      int
	NewStock      int
	LockedStock   int
	ReservedStock int
	Reason        string
	CorrelationID string
	CreatedAt     time.Time
}

// StockTransactionFilter narrows a history listing. Empty fields match all.
type StockTransactionFilter struct {
	ProductID string
	Kind      StockOperationKind
	Limit     int
}

func (f StockTransactionFilter) Matches(tx StockTransaction) bool {
	if f.ProductID != "" && tx.ProductID != f.ProductID {
		return false
	}
	if f.Kind != "" && tx.Kind != f.Kind {
		return false
	}
	return true
}
