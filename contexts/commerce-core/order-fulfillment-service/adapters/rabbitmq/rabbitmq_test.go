package rabbitmqadapter

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"ordercore/contexts/commerce-core/order-fulfillment-service/domain/entities"
	contractsv1 "ordercore/contracts/gen/events/v1"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type declaredQueue struct {
	name string
	args amqp.Table
}

type fakeChannel struct {
	mu         sync.Mutex
	exchanges  []string
	queues     []declaredQueue
	bindings   [][3]string
	prefetch   int
	published  []amqp.Publishing
	routingKey []string
	deliveries chan amqp.Delivery
	publishErr error
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{deliveries: make(chan amqp.Delivery, 8)}
}

func (c *fakeChannel) ExchangeDeclare(name, kind string, _, _, _, _ bool, _ amqp.Table) error {
	c.exchanges = append(c.exchanges, name+":"+kind)
	return nil
}

func (c *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, args amqp.Table) (amqp.Queue, error) {
	c.queues = append(c.queues, declaredQueue{name: name, args: args})
	return amqp.Queue{Name: name}, nil
}

func (c *fakeChannel) QueueBind(name, key, exchange string, _ bool, _ amqp.Table) error {
	c.bindings = append(c.bindings, [3]string{name, key, exchange})
	return nil
}

func (c *fakeChannel) Qos(prefetchCount, _ int, _ bool) error {
	c.prefetch = prefetchCount
	return nil
}

func (c *fakeChannel) PublishWithContext(_ context.Context, _ string, key string, _, _ bool, msg amqp.Publishing) error {
	if c.publishErr != nil {
		return c.publishErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.routingKey = append(c.routingKey, key)
	c.published = append(c.published, msg)
	return nil
}

func (c *fakeChannel) Consume(string, string, bool, bool, bool, bool, amqp.Table) (<-chan amqp.Delivery, error) {
	return c.deliveries, nil
}

type settlement struct {
	tag     uint64
	action  string
	requeue bool
}

type fakeAcknowledger struct {
	mu      sync.Mutex
	settled []settlement
}

func (a *fakeAcknowledger) Ack(tag uint64, _ bool) error {
	a.record(settlement{tag: tag, action: "ack"})
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, _ bool, requeue bool) error {
	a.record(settlement{tag: tag, action: "nack", requeue: requeue})
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	a.record(settlement{tag: tag, action: "reject", requeue: requeue})
	return nil
}

func (a *fakeAcknowledger) record(s settlement) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.settled = append(a.settled, s)
}

func (a *fakeAcknowledger) snapshot() []settlement {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]settlement(nil), a.settled...)
}

func ticketBody(t *testing.T, orderID string) []byte {
	t.Helper()
	body, err := json.Marshal(contractsv1.ExpirationTicket{
		OrderID:     orderID,
		UserID:      "user-1",
		RequestedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return body
}

func TestDeclareTopologyDeadLettersDelayQueue(t *testing.T) {
	channel := newFakeChannel()
	require.NoError(t, DeclareTopology(channel))

	assert.Equal(t, []string{DelayExchange + ":" + amqp.ExchangeDirect}, channel.exchanges)
	assert.Equal(t, [][3]string{{ExpiredQueue, ExpiredRouting, DelayExchange}}, channel.bindings)
	require.Len(t, channel.queues, 2)

	delay := channel.queues[1]
	assert.Equal(t, DelayQueue, delay.name)
	assert.Equal(t, DelayExchange, delay.args["x-dead-letter-exchange"])
	assert.Equal(t, ExpiredRouting, delay.args["x-dead-letter-routing-key"])
	assert.NotContains(t, delay.args, "x-message-ttl")

	assert.ErrorIs(t, DeclareTopology(nil), ErrChannelRequired)
}

func TestSchedulePublishesPerMessageTTL(t *testing.T) {
	channel := newFakeChannel()
	scheduler := NewScheduler(channel, nil)
	requested := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, scheduler.Schedule(context.Background(), entities.ExpirationTicket{
		OrderID:     "order-1",
		UserID:      "user-1",
		RequestedAt: requested,
		Delay:       30 * time.Minute,
	}))

	require.Len(t, channel.published, 1)
	msg := channel.published[0]
	assert.Equal(t, DelayQueue, channel.routingKey[0])
	assert.Equal(t, "1800000", msg.Expiration)
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, "order-1", msg.MessageId)

	var body contractsv1.ExpirationTicket
	require.NoError(t, json.Unmarshal(msg.Body, &body))
	assert.Equal(t, "order-1", body.OrderID)
	assert.True(t, requested.Equal(body.RequestedAt))
}

func TestScheduleRejectsIncompleteTicket(t *testing.T) {
	scheduler := NewScheduler(newFakeChannel(), nil)
	assert.Error(t, scheduler.Schedule(context.Background(), entities.ExpirationTicket{OrderID: "order-1"}))
	assert.Error(t, scheduler.Schedule(context.Background(), entities.ExpirationTicket{Delay: time.Minute}))
	assert.ErrorIs(t,
		NewScheduler(nil, nil).Schedule(context.Background(), entities.ExpirationTicket{OrderID: "o", Delay: time.Minute}),
		ErrChannelRequired,
	)

	failing := newFakeChannel()
	failing.publishErr = errors.New("connection reset")
	err := NewScheduler(failing, nil).Schedule(context.Background(), entities.ExpirationTicket{OrderID: "o", Delay: time.Minute})
	assert.ErrorContains(t, err, "connection reset")
}

func TestConsumerSettlesEachDelivery(t *testing.T) {
	channel := newFakeChannel()
	acker := &fakeAcknowledger{}
	channel.deliveries <- amqp.Delivery{Acknowledger: acker, DeliveryTag: 1, Body: ticketBody(t, "ok")}
	channel.deliveries <- amqp.Delivery{Acknowledger: acker, DeliveryTag: 2, Body: ticketBody(t, "flaky")}
	channel.deliveries <- amqp.Delivery{Acknowledger: acker, DeliveryTag: 3, Body: []byte("not json")}
	channel.deliveries <- amqp.Delivery{Acknowledger: acker, DeliveryTag: 4, Body: []byte(`{"orderId":" "}`)}
	close(channel.deliveries)

	var handled []string
	consumer := NewConsumer(channel, nil, WithPrefetch(3), WithRequeueDelay(0))
	err := consumer.Consume(context.Background(), func(_ context.Context, ticket entities.ExpirationTicket) error {
		handled = append(handled, ticket.OrderID)
		if ticket.OrderID == "flaky" {
			return errors.New("database unavailable")
		}
		return nil
	})

	require.ErrorIs(t, err, ErrDeliveriesClosed)
	assert.Equal(t, 3, channel.prefetch)
	assert.Equal(t, []string{"ok", "flaky"}, handled)
	assert.Equal(t, []settlement{
		{tag: 1, action: "ack"},
		{tag: 2, action: "nack", requeue: true},
		{tag: 3, action: "reject"},
		{tag: 4, action: "reject"},
	}, acker.snapshot())
}

func TestConsumerStopsOnContextCancel(t *testing.T) {
	channel := newFakeChannel()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewConsumer(channel, nil).Consume(ctx, func(context.Context, entities.ExpirationTicket) error { return nil })
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop after cancel")
	}
	assert.ErrorIs(t, NewConsumer(nil, nil).Consume(context.Background(), nil), ErrChannelRequired)
}
