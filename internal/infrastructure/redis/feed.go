package redis

import (
	"context"
	"errors"
	"sync"

	"github.com/liftops-portal/internal/application/notification"
	"github.com/liftops-portal/internal/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var errPubSubClosed = errors.New("redis pubsub closed")

// Publisher fans notification changes out over Redis Pub/Sub.
type Publisher struct {
	rdb *redis.Client
}

func NewPublisher(rdb *redis.Client) *Publisher {
	return &Publisher{rdb: rdb}
}

func (p *Publisher) PublishChange(ctx context.Context, ev domain.Event) error {
	body, err := domain.EncodeEvent(ev)
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, Channel(ev.OwnerID()), body).Err()
}

// Feed subscribes to one owner's channel per subscription. go-redis
// reconnects the underlying connection on its own.
type Feed struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewFeed(rdb *redis.Client, logger *zap.Logger) *Feed {
	return &Feed{rdb: rdb, logger: logger}
}

func (f *Feed) Subscribe(ctx context.Context, ownerID string) (notification.Subscription, error) {
	ps := f.rdb.Subscribe(ctx, Channel(ownerID))
	// Receive blocks until the server confirms the subscription.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, domain.Transport("subscribe", err)
	}
	f.logger.Info("notification feed subscribed", zap.String("owner_id", ownerID), zap.String("channel", Channel(ownerID)))

	sub := &subscription{
		logger: f.logger,
		closer: ps.Close,
		events: make(chan domain.Event, 64),
		done:   make(chan struct{}),
	}
	go sub.pump(ctx, ps.Channel())
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

func (s *subscription) pump(ctx context.Context, msgs <-chan *redis.Message) {
	defer close(s.events)
	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			s.fail(ctx.Err())
			return
		case msg, ok := <-msgs:
			if !ok {
				s.fail(errPubSubClosed)
				return
			}
			ev, err := domain.DecodeEvent([]byte(msg.Payload))
			if err != nil {
				s.logger.Warn("dropping malformed notification event",
					zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			select {
			case s.events <- ev:
			case <-s.done:
				return
			}
		}
	}
}
