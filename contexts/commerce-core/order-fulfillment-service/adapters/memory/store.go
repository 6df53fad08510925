package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"ordercore/contexts/commerce-core/order-fulfillment-service/domain/entities"
	domainerrors "ordercore/contexts/commerce-core/order-fulfillment-service/domain/errors"
	"ordercore/contexts/commerce-core/order-fulfillment-service/ports"

	"github.com/google/uuid"
)

type reservationKey struct {
	productID string
	orderID   string
}

type marker struct {
	payloadHash string
	expiresAt   time.Time
	done        bool
}

// Store keeps ledger, orders, outbox and markers in process. Ledger writes
// are serialized per product and order writes per order, the same way the
// Postgres adapter serializes on row locks.
type Store struct {
	mu sync.RWMutex

	levels       map[string]entities.StockLevel
	reservations map[reservationKey]entities.Reservation
	orders       map[string]entities.Order
	outbox       map[string]entities.OutboxMessage
	outboxOrder  []string
	markers      map[string]marker
	transactions []entities.StockTransaction

	locksMu      sync.Mutex
	productLocks map[string]*sync.Mutex
	orderLocks   map[string]*sync.Mutex

	clock func() time.Time
}

func NewStore(seed []entities.StockLevel) *Store {
	levels := make(map[string]entities.StockLevel, len(seed))
	for _, level := range seed {
		levels[level.ProductID] = level
	}
	return &Store{
		levels:       levels,
		reservations: make(map[reservationKey]entities.Reservation),
		orders:       make(map[string]entities.Order),
		outbox:       make(map[string]entities.OutboxMessage),
		markers:      make(map[string]marker),
		productLocks: make(map[string]*sync.Mutex),
		orderLocks:   make(map[string]*sync.Mutex),
	}
}

// SetClock pins the store's notion of now; tests use it to age messages
// and orders.
func (s *Store) SetClock(clock func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
}

func (s *Store) Now() time.Time {
	s.mu.RLock()
	clock := s.clock
	s.mu.RUnlock()
	if clock != nil {
		return clock().UTC()
	}
	return time.Now().UTC()
}

func (s *Store) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}

// lockProducts acquires product mutexes in sorted order and returns the
// matching unlock.
func (s *Store) lockProducts(productIDs ...string) func() {
	ids := uniqueSorted(productIDs)
	mutexes := make([]*sync.Mutex, 0, len(ids))
	s.locksMu.Lock()
	for _, id := range ids {
		mutex, ok := s.productLocks[id]
		if !ok {
			mutex = &sync.Mutex{}
			s.productLocks[id] = mutex
		}
		mutexes = append(mutexes, mutex)
	}
	s.locksMu.Unlock()

	for _, mutex := range mutexes {
		mutex.Lock()
	}
	return func() {
		for i := len(mutexes) - 1; i >= 0; i-- {
			mutexes[i].Unlock()
		}
	}
}

func (s *Store) lockOrder(orderID string) func() {
	s.locksMu.Lock()
	mutex, ok := s.orderLocks[orderID]
	if !ok {
		mutex = &sync.Mutex{}
		s.orderLocks[orderID] = mutex
	}
	s.locksMu.Unlock()
	mutex.Lock()
	return mutex.Unlock
}

// appendEventsLocked turns domain events into Pending outbox rows. Callers
// hold s.mu for writing.
func (s *Store) appendEventsLocked(events []entities.DomainEvent, now time.Time) error {
	for _, event := range events {
		message, err := entities.NewOutboxMessage(uuid.NewString(), event, now)
		if err != nil {
			return err
		}
		s.outbox[message.MessageID] = message
		s.outboxOrder = append(s.outboxOrder, message.MessageID)
	}
	return nil
}

func (s *Store) Append(_ context.Context, messages ...entities.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, message := range messages {
		if strings.TrimSpace(message.MessageID) == "" {
			return domainerrors.ErrRepositoryInvariantBroke
		}
		if _, exists := s.outbox[message.MessageID]; exists {
			continue
		}
		s.outbox[message.MessageID] = message
		s.outboxOrder = append(s.outboxOrder, message.MessageID)
	}
	return nil
}

func (s *Store) ClaimBatch(_ context.Context, limit int, now time.Time, scope ports.ClaimScope) ([]entities.OutboxMessage, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	claimed := make([]entities.OutboxMessage, 0, limit)
	claimedAt := now.UTC()
	for _, id := range s.outboxOrder {
		if len(claimed) >= limit {
			break
		}
		message := s.outbox[id]
		if !claimable(message, now, scope) {
			continue
		}
		message.Status = entities.OutboxStatusProcessing
		message.ClaimedAt = &claimedAt
		s.outbox[id] = message
		claimed = append(claimed, message)
	}
	return claimed, nil
}

func claimable(message entities.OutboxMessage, now time.Time, scope ports.ClaimScope) bool {
	pending := message.Status == entities.OutboxStatusPending
	switch scope {
	case ports.ClaimScopePending:
		return pending
	case ports.ClaimScopeRetryDue:
		return message.RetryDue(now)
	default:
		return pending || message.RetryDue(now)
	}
}

func (s *Store) Complete(_ context.Context, messageID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	message, ok := s.outbox[messageID]
	if !ok {
		return domainerrors.ErrOutboxMessageNotFound
	}
	if message.Status != entities.OutboxStatusProcessing {
		return domainerrors.ErrOutboxClaimLost
	}
	processedAt := at.UTC()
	message.Status = entities.OutboxStatusCompleted
	message.ProcessedAt = &processedAt
	message.ClaimedAt = nil
	message.NextRetryAt = nil
	message.LastError = ""
	s.outbox[messageID] = message
	return nil
}

func (s *Store) Fail(_ context.Context, messageID string, reason string, nextRetryAt *time.Time, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	message, ok := s.outbox[messageID]
	if !ok {
		return domainerrors.ErrOutboxMessageNotFound
	}
	if message.Status != entities.OutboxStatusProcessing {
		return domainerrors.ErrOutboxClaimLost
	}
	message.Status = entities.OutboxStatusFailed
	message.RetryCount++
	message.LastError = reason
	message.ClaimedAt = nil
	message.NextRetryAt = nil
	if nextRetryAt != nil {
		next := nextRetryAt.UTC()
		message.NextRetryAt = &next
	}
	s.outbox[messageID] = message
	return nil
}

func (s *Store) RecoverStuck(_ context.Context, claimedBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recovered := 0
	for id, message := range s.outbox {
		if message.Status != entities.OutboxStatusProcessing {
			continue
		}
		if message.ClaimedAt != nil && !message.ClaimedAt.Before(claimedBefore) {
			continue
		}
		message.Status = entities.OutboxStatusPending
		message.ClaimedAt = nil
		s.outbox[id] = message
		recovered++
	}
	return recovered, nil
}

func (s *Store) PurgeCompleted(_ context.Context, processedBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.outboxOrder[:0]
	purged := 0
	for _, id := range s.outboxOrder {
		message := s.outbox[id]
		if message.Status == entities.OutboxStatusCompleted &&
			message.ProcessedAt != nil && message.ProcessedAt.Before(processedBefore) {
			delete(s.outbox, id)
			purged++
			continue
		}
		kept = append(kept, id)
	}
	s.outboxOrder = kept
	return purged, nil
}

func (s *Store) ListFailed(_ context.Context, limit int) ([]entities.OutboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]entities.OutboxMessage, 0)
	for _, id := range s.outboxOrder {
		message := s.outbox[id]
		if message.PermanentlyFailed() {
			items = append(items, message)
		}
		if limit > 0 && len(items) >= limit {
			break
		}
	}
	return items, nil
}

func (s *Store) Requeue(_ context.Context, messageID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	message, ok := s.outbox[messageID]
	if !ok {
		return domainerrors.ErrOutboxMessageNotFound
	}
	if !message.PermanentlyFailed() {
		return domainerrors.ErrOutboxMessageNotFailed
	}
	next := at.UTC()
	message.Status = entities.OutboxStatusRetry
	message.RetryCount = 0
	message.NextRetryAt = &next
	s.outbox[messageID] = message
	return nil
}

func (s *Store) CountByStatus(_ context.Context) (map[entities.OutboxStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[entities.OutboxStatus]int, len(entities.AllOutboxStatuses()))
	for _, message := range s.outbox {
		counts[message.Status]++
	}
	return counts, nil
}

// Messages returns outbox rows in append order.
func (s *Store) Messages() []entities.OutboxMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]entities.OutboxMessage, 0, len(s.outboxOrder))
	for _, id := range s.outboxOrder {
		items = append(items, s.outbox[id])
	}
	return items
}

func (s *Store) GetMessage(messageID string) (entities.OutboxMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	message, ok := s.outbox[messageID]
	return message, ok
}

func (s *Store) ReserveEvent(_ context.Context, eventID string, payloadHash string, leaseUntil time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.markers[eventID]; ok && existing.expiresAt.After(s.nowLocked()) {
		if existing.payloadHash != payloadHash {
			return false, domainerrors.ErrIdempotencyKeyConflict
		}
		if !existing.done {
			return false, domainerrors.ErrEventInProgress
		}
		return true, nil
	}
	s.markers[eventID] = marker{payloadHash: payloadHash, expiresAt: leaseUntil.UTC()}
	return false, nil
}

func (s *Store) CompleteEvent(_ context.Context, eventID string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.markers[eventID]
	if !ok {
		return domainerrors.ErrEventMarkerNotFound
	}
	existing.done = true
	existing.expiresAt = expiresAt.UTC()
	s.markers[eventID] = existing
	return nil
}

func (s *Store) nowLocked() time.Time {
	if s.clock != nil {
		return s.clock().UTC()
	}
	return time.Now().UTC()
}

func (s *Store) ReleaseEvent(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.markers, eventID)
	return nil
}

func uniqueSorted(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	sort.Strings(out)
	return out
}
