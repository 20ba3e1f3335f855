package mq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/liftops-portal/internal/domain"
	"github.com/rabbitmq/amqp091-go"
)

// Publisher writes notification changes to the topic exchange.
type Publisher struct {
	conn    *amqp091.Connection
	mu      sync.Mutex // amqp channels are not safe for concurrent publishes
	channel *amqp091.Channel
}

func NewPublisher(url string) (*Publisher, error) {
	conn, err := NewConnection(url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := DeclareExchange(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &Publisher{conn: conn, channel: ch}, nil
}

func (p *Publisher) Close() {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}

// IsConnected reports whether the underlying connection is still open.
func (p *Publisher) IsConnected() bool {
	return p.conn != nil && p.channel != nil && !p.conn.IsClosed()
}

// PublishChange publishes ev under the owner's routing key.
func (p *Publisher) PublishChange(ctx context.Context, ev domain.Event) error {
	body, err := domain.EncodeEvent(ev)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel.PublishWithContext(ctx,
		ExchangeName,
		RoutingKey(ev.OwnerID(), ev.Op),
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         body,
			MessageId:    uuid.NewString(),
			Timestamp:    time.Now().UTC(),
			DeliveryMode: amqp091.Transient,
		},
	)
}
