package notifyadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ordercore/contexts/commerce-core/order-fulfillment-service/ports"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
)

const defaultNotificationTopic = "commerce.notifications"

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type notificationMessage struct {
	NotificationID string    `json:"notification_id"`
	Kind           string    `json:"kind"`
	UserID         string    `json:"user_id,omitempty"`
	OrderID        string    `json:"order_id,omitempty"`
	ProductID      string    `json:"product_id,omitempty"`
	Message        string    `json:"message"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// KafkaNotifier hands notification requests to the delivery system's topic.
// A tripped breaker fails fast so the outbox schedules a retry instead of
// piling up handler timeouts.
type KafkaNotifier struct {
	writer  MessageWriter
	topic   string
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

func NewKafkaNotifier(writer MessageWriter, topic string, logger *slog.Logger) *KafkaNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(topic) == "" {
		topic = defaultNotificationTopic
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "notification-writer",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				"event", "order_fulfillment_breaker_state_changed",
				"module", "commerce-core/order-fulfillment-service",
				"layer", "adapter",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return &KafkaNotifier{writer: writer, topic: topic, breaker: breaker, logger: logger}
}

func (n *KafkaNotifier) Notify(ctx context.Context, notification ports.Notification) error {
	body, err := json.Marshal(notificationMessage{
		NotificationID: notification.NotificationID,
		Kind:           string(notification.Kind),
		UserID:         notification.UserID,
		OrderID:        notification.OrderID,
		ProductID:      notification.ProductID,
		Message:        notification.Message,
		OccurredAt:     notification.OccurredAt.UTC(),
	})
	if err != nil {
		return err
	}

	key := notification.UserID
	if key == "" {
		key = notification.ProductID
	}
	_, err = n.breaker.Execute(func() (any, error) {
		return nil, n.writer.WriteMessages(ctx, kafka.Message{
			Topic: n.topic,
			Key:   []byte(key),
			Value: body,
			Headers: []kafka.Header{
				{Key: "notification_id", Value: []byte(notification.NotificationID)},
				{Key: "kind", Value: []byte(notification.Kind)},
			},
		})
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("notification writer unavailable: %w", err)
	}
	if err != nil {
		return err
	}

	n.logger.Debug("notification dispatched",
		"event", "order_fulfillment_notification_dispatched",
		"module", "commerce-core/order-fulfillment-service",
		"layer", "adapter",
		"notification_id", notification.NotificationID,
		"kind", string(notification.Kind),
	)
	return nil
}
