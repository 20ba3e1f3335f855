package mq

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/liftops-portal/internal/application/notification"
	"github.com/liftops-portal/internal/domain"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

var errChannelClosed = errors.New("amqp channel closed")

// Feed opens one exclusive, auto-deleted queue per subscription, bound to
// the owner's routing keys. It redials when the shared connection drops.
type Feed struct {
	url    string
	logger *zap.Logger

	mu   sync.Mutex
	conn *amqp091.Connection
}

func NewFeed(url string, logger *zap.Logger) *Feed {
	return &Feed{url: url, logger: logger}
}

func (f *Feed) connection() (*amqp091.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil && !f.conn.IsClosed() {
		return f.conn, nil
	}
	conn, err := NewConnection(f.url)
	if err != nil {
		return nil, err
	}
	f.conn = conn
	return conn, nil
}

// Close drops the shared connection; open subscriptions end with an error.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		_ = f.conn.Close()
		f.conn = nil
	}
}

func (f *Feed) Subscribe(ctx context.Context, ownerID string) (notification.Subscription, error) {
	conn, err := f.connection()
	if err != nil {
		return nil, domain.Transport("subscribe", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, domain.Transport("subscribe", fmt.Errorf("failed to open channel: %w", err))
	}
	fail := func(err error) (notification.Subscription, error) {
		_ = ch.Close()
		return nil, domain.Transport("subscribe", err)
	}

	if err := DeclareExchange(ch); err != nil {
		return fail(fmt.Errorf("failed to declare exchange: %w", err))
	}
	q, err := ch.QueueDeclare(
		"",
		false,
		true, // auto-delete
		true, // exclusive
		false,
		nil,
	)
	if err != nil {
		return fail(fmt.Errorf("failed to declare queue: %w", err))
	}
	if err := ch.QueueBind(q.Name, BindingKey(ownerID), ExchangeName, false, nil); err != nil {
		return fail(fmt.Errorf("failed to bind queue: %w", err))
	}

	tag := "portal-" + uuid.NewString()
	deliveries, err := ch.Consume(q.Name, tag, true, true, false, false, nil)
	if err != nil {
		return fail(fmt.Errorf("failed to register consumer: %w", err))
	}

	f.logger.Info("notification feed subscribed",
		zap.String("owner_id", ownerID),
		zap.String("queue", q.Name),
		zap.String("consumer_tag", tag),
	)

	sub := newSubscription(f.logger, func() error {
		_ = ch.Cancel(tag, false)
		return ch.Close()
	})
	go sub.pump(ctx, deliveries, ch.NotifyClose(make(chan *amqp091.Error, 1)))
	return sub, nil
}

type subscription struct {
	logger *zap.Logger
	closer func() error
	events chan domain.Event
	done   chan struct{}
	once   sync.Once

	mu  sync.Mutex
	err error
}

func newSubscription(logger *zap.Logger, closer func() error) *subscription {
	return &subscription{
		logger: logger,
		closer: closer,
		events: make(chan domain.Event, 64),
		done:   make(chan struct{}),
	}
}

func (s *subscription) Events() <-chan domain.Event { return s.events }

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		if s.closer != nil {
			err = s.closer()
		}
	})
	return err
}

func (s *subscription) fail(err error) {
	select {
	case <-s.done:
		return
	default:
	}
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// pump decodes deliveries into events until the channel closes or the
// subscription is closed. Undecodable messages are dropped.
func (s *subscription) pump(ctx context.Context, deliveries <-chan amqp091.Delivery, closed <-chan *amqp091.Error) {
	defer close(s.events)
	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			s.fail(ctx.Err())
			return
		case aerr, ok := <-closed:
			if ok && aerr != nil {
				s.fail(aerr)
			} else {
				s.fail(errChannelClosed)
			}
			return
		case d, ok := <-deliveries:
			if !ok {
				s.fail(errChannelClosed)
				return
			}
			ev, err := domain.DecodeEvent(d.Body)
			if err != nil {
				s.logger.Warn("dropping malformed notification event",
					zap.String("routing_key", d.RoutingKey), zap.Error(err))
				continue
			}
			select {
			case s.events <- ev:
			case <-s.done:
				return
			case <-ctx.Done():
				s.fail(ctx.Err())
				return
			}
		}
	}
}
