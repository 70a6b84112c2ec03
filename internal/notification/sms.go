package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/segmentio/ksuid"
)

// SMSConfig holds Africa's Talking credentials.
type SMSConfig struct {
	Username string
	APIKey   string
	SenderID string
	URL      string
}

// SMSNotifier sends text messages through the Africa's Talking messaging API.
// Without an API key it runs in demo mode and only logs.
type SMSNotifier struct {
	cfg      SMSConfig
	client   *http.Client
	logger   *slog.Logger
	attempts uint
	delay    time.Duration
}

// NewSMSNotifier builds an SMS notifier.
func NewSMSNotifier(cfg SMSConfig, client *http.Client, logger *slog.Logger) *SMSNotifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &SMSNotifier{cfg: cfg, client: client, logger: logger, attempts: 3, delay: 500 * time.Millisecond}
}

type atResponse struct {
	SMSMessageData struct {
		Message    string `json:"Message"`
		Recipients []struct {
			Number    string `json:"number"`
			Status    string `json:"status"`
			MessageID string `json:"messageId"`
		} `json:"Recipients"`
	} `json:"SMSMessageData"`
}

// Send delivers message.Body to message.Destination.
func (n *SMSNotifier) Send(ctx context.Context, message Message) error {
	_, err := n.Deliver(ctx, message.Destination, message.Body)
	return err
}

// Deliver sends one SMS and returns the provider message id.
func (n *SMSNotifier) Deliver(ctx context.Context, to, body string) (string, error) {
	if n.cfg.APIKey == "" {
		id := "demo_" + ksuid.New().String()
		n.logger.Info("sms demo mode", "to", to, "message_id", id, "body", body)
		return id, nil
	}

	form := url.Values{}
	form.Set("username", n.cfg.Username)
	form.Set("to", to)
	form.Set("message", body)
	if n.cfg.SenderID != "" {
		form.Set("from", n.cfg.SenderID)
	}

	return retry.DoWithData(func() (string, error) {
		return n.post(ctx, form)
	},
		retry.Context(ctx),
		retry.Attempts(n.attempts),
		retry.Delay(n.delay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			n.logger.Warn("sms delivery retry", "to", to, "attempt", attempt+1, "error", err)
		}),
	)
}

func (n *SMSNotifier) post(ctx context.Context, form url.Values) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", retry.Unrecoverable(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("apiKey", n.cfg.APIKey)

	resp, err := n.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("sms provider status %d", resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		return "", retry.Unrecoverable(fmt.Errorf("sms provider status %d", resp.StatusCode))
	}

	var decoded atResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", retry.Unrecoverable(fmt.Errorf("decode sms response: %w", err))
	}
	recipients := decoded.SMSMessageData.Recipients
	if len(recipients) == 0 {
		return "", retry.Unrecoverable(fmt.Errorf("sms rejected: %s", decoded.SMSMessageData.Message))
	}
	if recipients[0].Status != "Success" {
		return "", retry.Unrecoverable(fmt.Errorf("sms rejected: %s", recipients[0].Status))
	}
	return recipients[0].MessageID, nil
}
