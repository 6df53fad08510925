package entities

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// OutboxStatus values are persisted as smallint and must keep their numbers.
type OutboxStatus int

const (
	OutboxStatusPending    OutboxStatus = 0
	OutboxStatusProcessing OutboxStatus = 1
	OutboxStatusCompleted  OutboxStatus = 2
	OutboxStatusFailed     OutboxStatus = 3
	OutboxStatusRetry      OutboxStatus = 4
)

func AllOutboxStatuses() []OutboxStatus {
	return []OutboxStatus{
		OutboxStatusPending,
		OutboxStatusProcessing,
		OutboxStatusCompleted,
		OutboxStatusFailed,
		OutboxStatusRetry,
	}
}

func (s OutboxStatus) String() string {
	switch s {
	case OutboxStatusPending:
		return "pending"
	case OutboxStatusProcessing:
		return "processing"
	case OutboxStatusCompleted:
		return "completed"
	case OutboxStatusFailed:
		return "failed"
	case OutboxStatusRetry:
		return "retry"
	default:
		return fmt.Sprintf("outbox_status(%d)", int(s))
	}
}

// OutboxMessage is one durable pending effect. It is written in the same
// unit of work as the state change that produced it.
type OutboxMessage struct {
	MessageID     string
	EventType     EventType
	Payload       []byte
	Status        OutboxStatus
	CreatedAt     time.Time
	ClaimedAt     *time.Time
	ProcessedAt   *time.Time
	LastError     string
	RetryCount    int
	NextRetryAt   *time.Time
	CorrelationID string
	CausationID   string
}

// PermanentlyFailed reports a Failed message that will not be claimed again.
func (m OutboxMessage) PermanentlyFailed() bool {
	return m.Status == OutboxStatusFailed && m.NextRetryAt == nil
}

// RetryDue reports whether a Failed or Retry message may be claimed at now.
func (m OutboxMessage) RetryDue(now time.Time) bool {
	if m.Status != OutboxStatusFailed && m.Status != OutboxStatusRetry {
		return false
	}
	return m.NextRetryAt != nil && !m.NextRetryAt.After(now)
}

// NewOutboxMessage serializes a domain event into a Pending outbox row.
func NewOutboxMessage(messageID string, event DomainEvent, now time.Time) (OutboxMessage, error) {
	if strings.TrimSpace(messageID) == "" {
		return OutboxMessage{}, fmt.Errorf("outbox message id is required")
	}
	if event.Type == "" {
		return OutboxMessage{}, fmt.Errorf("outbox event type is required")
	}
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return OutboxMessage{}, fmt.Errorf("encode %s payload: %w", event.Type, err)
	}
	return OutboxMessage{
		MessageID:     messageID,
		EventType:     event.Type,
		Payload:       payload,
		Status:        OutboxStatusPending,
		CreatedAt:     now.UTC(),
		CorrelationID: event.CorrelationID,
		CausationID:   event.CausationID,
	}, nil
}
