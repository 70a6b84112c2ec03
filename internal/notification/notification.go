package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Delivery channels.
const (
	ChannelSMS   = "sms"
	ChannelEmail = "email"
)

// Event kinds carried on the bus.
const (
	KindTransfer     = "transfer_receipt"
	KindVerification = "verification_code"
	KindAgentCode    = "agent_code"
	KindCrypto       = "crypto_receipt"
	KindCommandReply = "sms_reply"
	KindCustom       = "custom"
)

// ErrUnsupportedChannel is returned when no notifier handles a channel.
var ErrUnsupportedChannel = errors.New("unsupported notification channel")

// Message describes a notification payload.
type Message struct {
	Channel     string         `json:"channel"`
	Kind        string         `json:"kind"`
	Destination string         `json:"destination"`
	Subject     string         `json:"subject,omitempty"`
	Body        string         `json:"body"`
	Data        map[string]any `json:"data,omitempty"`
}

// SMS builds a text message.
func SMS(kind, to, body string) Message {
	return Message{Channel: ChannelSMS, Kind: kind, Destination: to, Body: body}
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the logger. It backs every channel
// when no provider is configured.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification",
		"channel", message.Channel,
		"kind", message.Kind,
		"destination", message.Destination,
		"subject", message.Subject,
		"body", message.Body)
	return nil
}

// Dispatcher routes a message to the notifier for its channel and then
// publishes it to the optional event bus.
type Dispatcher struct {
	channels map[string]Notifier
	events   Notifier
	logger   *slog.Logger
}

// NewDispatcher builds a dispatcher. events may be nil.
func NewDispatcher(sms, email, events Notifier, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		channels: map[string]Notifier{ChannelSMS: sms, ChannelEmail: email},
		events:   events,
		logger:   logger,
	}
}

// Send delivers message. Event bus failures are logged and do not fail the
// delivery.
func (d *Dispatcher) Send(ctx context.Context, message Message) error {
	n, ok := d.channels[message.Channel]
	if !ok || n == nil {
		return fmt.Errorf("%w: %q", ErrUnsupportedChannel, message.Channel)
	}
	if err := n.Send(ctx, message); err != nil {
		return fmt.Errorf("deliver %s: %w", message.Channel, err)
	}
	if d.events != nil {
		if err := d.events.Send(ctx, message); err != nil && d.logger != nil {
			d.logger.Warn("publish notification event", "kind", message.Kind, "error", err)
		}
	}
	return nil
}
