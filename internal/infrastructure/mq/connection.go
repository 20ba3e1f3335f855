package mq

import (
	"fmt"

	"github.com/liftops-portal/internal/domain"
	"github.com/rabbitmq/amqp091-go"
)

const (
	ExchangeName = "notifications"
)

// NewConnection creates a new RabbitMQ connection.
func NewConnection(url string) (*amqp091.Connection, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

// DeclareExchange declares the notifications topic exchange.
func DeclareExchange(ch *amqp091.Channel) error {
	return ch.ExchangeDeclare(
		ExchangeName,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	)
}

// RoutingKey is the key a change for ownerID is published under.
func RoutingKey(ownerID string, op domain.EventOp) string {
	return "notification." + ownerID + "." + string(op)
}

// BindingKey matches every change for ownerID.
func BindingKey(ownerID string) string {
	return "notification." + ownerID + ".*"
}
