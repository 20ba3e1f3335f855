package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/liftops-portal/internal/application/notification"
	"github.com/liftops-portal/internal/domain"
	"go.uber.org/zap"
)

// Feed turns the table trigger's NOTIFY messages into an EventStream. Each
// subscription holds one dedicated connection taken out of the pool.
type Feed struct {
	pool   *pgxpool.Pool
	rows   rowLoader
	logger *zap.Logger
}

func NewFeed(pool *pgxpool.Pool, logger *zap.Logger) *Feed {
	return &Feed{pool: pool, rows: NewNotificationRepo(pool, logger), logger: logger}
}

// rowLoader re-reads rows announced by id only.
type rowLoader interface {
	Get(ctx context.Context, ownerID, notificationID string) (domain.Notification, error)
}

func (f *Feed) Subscribe(ctx context.Context, ownerID string) (notification.Subscription, error) {
	pc, err := f.pool.Acquire(ctx)
	if err != nil {
		return nil, domain.Transport("subscribe", err)
	}
	conn := pc.Hijack()

	channel := Channel(ownerID)
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		_ = conn.Close(context.Background())
		return nil, domain.Transport("subscribe", fmt.Errorf("listen %s: %w", channel, err))
	}
	f.logger.Info("notification feed subscribed", zap.String("owner_id", ownerID), zap.String("channel", channel))

	waitCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		events: make(chan domain.Event, 64),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(sub.done)
		defer conn.Close(context.Background())
		sub.pump(waitCtx, conn, f.rows, f.logger)
	}()
	return sub, nil
}

type notificationWaiter interface {
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
}

type subscription struct {
	events chan domain.Event
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	mu     sync.Mutex
	err    error
	closed bool
}

func (s *subscription) Events() <-chan domain.Event { return s.events }

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops listening and releases the connection.
func (s *subscription) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.cancel()
		<-s.done
	})
	return nil
}

func (s *subscription) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.err = err
	}
}

func (s *subscription) pump(ctx context.Context, conn notificationWaiter, rows rowLoader, logger *zap.Logger) {
	defer close(s.events)
	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				s.fail(ctxErr)
			} else {
				s.fail(domain.Transport("listen", err))
			}
			return
		}
		ev, err := decodePayload(ctx, n.Payload, rows)
		if err != nil {
			logger.Warn("dropping notification event", zap.String("channel", n.Channel), zap.Error(err))
			continue
		}
		select {
		case s.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// decodePayload parses a trigger payload. Rows too large for NOTIFY arrive as
// id only; inserts and updates are then re-read so the event carries the
// full row.
func decodePayload(ctx context.Context, payload string, rows rowLoader) (domain.Event, error) {
	ev, err := domain.DecodeEvent([]byte(payload))
	if err != nil {
		return domain.Event{}, err
	}
	var flags struct {
		Truncated bool `json:"truncated"`
	}
	if err := json.Unmarshal([]byte(payload), &flags); err != nil {
		return domain.Event{}, fmt.Errorf("decode event flags: %w", err)
	}
	if !flags.Truncated || ev.Op == domain.OpDelete {
		return ev, nil
	}
	full, err := rows.Get(ctx, ev.OwnerID(), ev.Record.ID)
	if err != nil {
		return domain.Event{}, fmt.Errorf("reload %s: %w", ev.Record.ID, err)
	}
	ev.Record = full
	ev.Patch = nil
	return ev, nil
}
