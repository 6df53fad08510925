package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	application "ordercore/contexts/commerce-core/order-fulfillment-service/application"
	"ordercore/contexts/commerce-core/order-fulfillment-service/domain/entities"
)

// Registry is the typed dispatch table from event tag to handlers. It is
// filled once during module construction and only read afterwards.
type Registry struct {
	handlers map[entities.EventType][]Handler
	logger   *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		handlers: make(map[entities.EventType][]Handler),
		logger:   application.ResolveLogger(logger),
	}
}

func (r *Registry) Register(eventType entities.EventType, handlers ...Handler) error {
	if strings.TrimSpace(string(eventType)) == "" {
		return errors.New("event type is required")
	}
	for _, handler := range handlers {
		if handler == nil {
			return fmt.Errorf("nil handler for %s", eventType)
		}
		name := strings.TrimSpace(handler.Name())
		if name == "" {
			return fmt.Errorf("handler for %s has no name", eventType)
		}
		for _, existing := range r.handlers[eventType] {
			if existing.Name() == name {
				return fmt.Errorf("handler %s already registered for %s", name, eventType)
			}
		}
		r.handlers[eventType] = append(r.handlers[eventType], handler)
	}
	return nil
}

func (r *Registry) EventTypes() []entities.EventType {
	types := make([]entities.EventType, 0, len(r.handlers))
	for eventType := range r.handlers {
		types = append(types, eventType)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

func (r *Registry) HandlerNames(eventType entities.EventType) []string {
	names := make([]string, 0, len(r.handlers[eventType]))
	for _, handler := range r.handlers[eventType] {
		names = append(names, handler.Name())
	}
	return names
}

// HandlerFailure is one handler's error inside a DispatchError.
type HandlerFailure struct {
	Handler string
	Err     error
}

// DispatchError reports every failed handler of one message. The message is
// permanent only if every failure is.
type DispatchError struct {
	EventType entities.EventType
	Failures  []HandlerFailure
}

func (e *DispatchError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, failure := range e.Failures {
		parts = append(parts, failure.Handler+": "+failure.Err.Error())
	}
	return fmt.Sprintf("%s: %d handler(s) failed: %s", e.EventType, len(e.Failures), strings.Join(parts, "; "))
}

func (e *DispatchError) Permanent() bool {
	for _, failure := range e.Failures {
		if !errors.Is(failure.Err, ErrPermanent) {
			return false
		}
	}
	return len(e.Failures) > 0
}

// IsPermanent classifies an error returned by Dispatch.
func IsPermanent(err error) bool {
	var dispatchErr *DispatchError
	if errors.As(err, &dispatchErr) {
		return dispatchErr.Permanent()
	}
	return errors.Is(err, ErrPermanent)
}

// Dispatch runs every handler registered for the message type. All handlers
// run even after one fails; any failure fails the message as a whole.
func (r *Registry) Dispatch(ctx context.Context, message Message) error {
	handlers := r.handlers[message.Type]
	if len(handlers) == 0 {
		return Permanent(fmt.Errorf("%w: %s", ErrUnknownEventType, message.Type))
	}

	var failures []HandlerFailure
	for _, handler := range handlers {
		if err := r.invoke(ctx, handler, message); err != nil {
			r.logger.Warn("event handler failed",
				"event", "order_fulfillment_handler_failed",
				"module", application.ModuleName,
				"layer", "application",
				"message_id", message.ID,
				"event_type", string(message.Type),
				"handler", handler.Name(),
				"attempt", message.Attempt,
				"error", err.Error(),
			)
			failures = append(failures, HandlerFailure{Handler: handler.Name(), Err: err})
		}
	}
	if len(failures) > 0 {
		return &DispatchError{EventType: message.Type, Failures: failures}
	}
	return nil
}

func (r *Registry) invoke(ctx context.Context, handler Handler, message Message) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("handler %s panicked: %v", handler.Name(), recovered)
		}
	}()
	if err := ctx.Err(); err != nil {
		return err
	}
	return handler.Handle(ctx, message)
}
