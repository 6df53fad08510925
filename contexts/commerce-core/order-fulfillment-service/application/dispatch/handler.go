package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ordercore/contexts/commerce-core/order-fulfillment-service/domain/entities"
)

// ErrPermanent marks failures that no amount of retrying can fix.
var ErrPermanent = errors.New("permanent dispatch failure")

var ErrUnknownEventType = errors.New("no handler registered for event type")

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }
func (e *permanentError) Is(target error) bool {
	return target == ErrPermanent
}

// Permanent wraps err so the publisher parks the message instead of retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Message is the handler-facing view of an outbox row.
type Message struct {
	ID            string
	Type          entities.EventType
	Payload       []byte
	CorrelationID string
	CausationID   string
	CreatedAt     time.Time
	Attempt       int
}

func MessageFromOutbox(message entities.OutboxMessage) Message {
	return Message{
		ID:            message.MessageID,
		Type:          message.EventType,
		Payload:       message.Payload,
		CorrelationID: message.CorrelationID,
		CausationID:   message.CausationID,
		CreatedAt:     message.CreatedAt,
		Attempt:       message.RetryCount + 1,
	}
}

// Handler applies one side effect of an event. Handlers return errors; they
// must not panic past Handle.
type Handler interface {
	Name() string
	Handle(ctx context.Context, message Message) error
}

type handlerFunc struct {
	name string
	fn   func(context.Context, Message) error
}

func (h handlerFunc) Name() string { return h.name }

func (h handlerFunc) Handle(ctx context.Context, message Message) error {
	return h.fn(ctx, message)
}

func NewHandler(name string, fn func(context.Context, Message) error) Handler {
	return handlerFunc{name: name, fn: fn}
}

// Event carries a decoded payload of a statically known type.
type Event[T any] struct {
	Message Message
	Data    T
}

// Typed binds a handler to the payload type of its event. Payloads that do not
// decode are permanent failures.
func Typed[T any](name string, fn func(context.Context, Event[T]) error) Handler {
	return handlerFunc{
		name: name,
		fn: func(ctx context.Context, message Message) error {
			var data T
			if err := json.Unmarshal(message.Payload, &data); err != nil {
				return Permanent(fmt.Errorf("decode %s payload for %s: %w", message.Type, name, err))
			}
			return fn(ctx, Event[T]{Message: message, Data: data})
		},
	}
}
