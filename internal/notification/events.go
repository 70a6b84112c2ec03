package notification

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// EventsExchange is the topic exchange notification events are published to.
const EventsExchange = "notifications"

type publisher interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// EventNotifier publishes every message as JSON on a RabbitMQ topic exchange
// with routing key notification.<channel>.<kind>.
type EventNotifier struct {
	channel publisher
	now     func() time.Time
}

type event struct {
	Message
	PublishedAt time.Time `json:"published_at"`
}

// NewEventNotifier declares the exchange on ch and returns a publisher.
func NewEventNotifier(ch *amqp091.Channel) (*EventNotifier, error) {
	return newEventNotifier(ch)
}

func newEventNotifier(ch publisher) (*EventNotifier, error) {
	if err := ch.ExchangeDeclare(EventsExchange, "topic", true, false, false, false, nil); err != nil {
		return nil, err
	}
	return &EventNotifier{channel: ch, now: time.Now}, nil
}

// Send publishes message.
func (n *EventNotifier) Send(ctx context.Context, message Message) error {
	body, err := json.Marshal(event{Message: message, PublishedAt: n.now().UTC()})
	if err != nil {
		return err
	}
	return n.channel.PublishWithContext(ctx, EventsExchange, "notification."+message.Channel+"."+message.Kind, false, false,
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    n.now().UTC(),
			Body:         body,
		})
}
