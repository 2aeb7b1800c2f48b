// Package notify publishes order outcome events and turns paid events into
// confirmation emails.
package notify

import (
	"context"
	"fmt"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-qr-orders/internal/kafka"
	"github.com/ariefcatur/go-qr-orders/internal/orders"
)

type Publisher interface {
	Publish(topic string, key, value []byte, headers ...kafkago.Header) error
}

// KafkaDispatcher hands events to the async producer; it never waits on the
// broker, so a webhook reply is not held up by delivery.
type KafkaDispatcher struct {
	Pub      Publisher
	Producer string
}

func NewKafkaDispatcher(pub Publisher, producer string) *KafkaDispatcher {
	return &KafkaDispatcher{Pub: pub, Producer: producer}
}

func (d *KafkaDispatcher) OrderPaid(_ context.Context, p orders.OrderPaidPayload) error {
	return d.publish(orders.TopicOrderPaid, orders.EventOrderPaid, p.OrderID, p)
}

func (d *KafkaDispatcher) OrderCancelled(_ context.Context, p orders.OrderCancelledPayload) error {
	return d.publish(orders.TopicOrderCancelled, orders.EventOrderCancelled, p.OrderID, p)
}

func (d *KafkaDispatcher) publish(topic, eventType, orderID string, payload any) error {
	env, err := kafka.NewEnvelope(eventType, d.Producer, orderID, payload)
	if err != nil {
		return err
	}
	if err := d.Pub.Publish(topic, orders.PartitionKey(orderID), kafka.MustMarshal(env),
		kafkago.Header{Key: "event_type", Value: []byte(eventType)}); err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	return nil
}
