package infra

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rabbitmq/amqp091-go"
)

// NewRabbitMQConnection dials the broker after normalizing the URL.
func NewRabbitMQConnection(raw string) (*amqp091.Connection, error) {
	clean, err := sanitizeAMQPURL(raw)
	if err != nil {
		return nil, fmt.Errorf("parse rabbitmq url: %w", err)
	}
	conn, err := amqp091.Dial(clean)
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}
	return conn, nil
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	if clean == "" {
		return "", errors.New("rabbitmq url is required")
	}
	if !strings.HasSuffix(clean, "/") {
		clean += "/"
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}
