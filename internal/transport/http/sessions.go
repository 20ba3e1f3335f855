package http

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/liftops-portal/internal/application/notification"
	"github.com/liftops-portal/internal/pkg/metrics"
	"go.uber.org/zap"
)

var errRegistryClosed = errors.New("session registry closed")

// ServiceFactory builds an uninitialized notification session for ownerID.
type ServiceFactory func(ownerID string) notification.Service

type sessionEntry struct {
	svc      notification.Service
	ready    chan struct{}
	err      error
	refs     int
	lastSeen time.Time
}

// SessionRegistry keeps one notification.Service per principal. Sessions are
// created and initialized on first use and disposed after idle inactivity.
// A session held by an open request (an SSE stream, for one) is never evicted.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*sessionEntry
	factory  ServiceFactory
	idle     time.Duration
	logger   *zap.Logger
	now      func() time.Time
	closed   bool
}

func NewSessionRegistry(factory ServiceFactory, idle time.Duration, logger *zap.Logger) *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]*sessionEntry),
		factory:  factory,
		idle:     idle,
		logger:   logger,
		now:      time.Now,
	}
}

// Acquire returns the initialized session for ownerID. The caller must call
// release when done with it.
func (r *SessionRegistry) Acquire(ctx context.Context, ownerID string) (notification.Service, func(), error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, nil, errRegistryClosed
	}
	e, ok := r.sessions[ownerID]
	if !ok {
		e = &sessionEntry{svc: r.factory(ownerID), ready: make(chan struct{})}
		r.sessions[ownerID] = e
	}
	e.refs++
	e.lastSeen = r.now()
	r.mu.Unlock()

	if !ok {
		// Init must outlive the first request's context.
		e.err = e.svc.Init(context.WithoutCancel(ctx), ownerID)
		if e.err != nil {
			r.mu.Lock()
			delete(r.sessions, ownerID)
			r.mu.Unlock()
			e.svc.Dispose()
		} else {
			metrics.ActiveSessions.Inc()
			r.logger.Info("notification session started", zap.String("owner_id", ownerID))
		}
		close(e.ready)
	}

	select {
	case <-e.ready:
	case <-ctx.Done():
		r.release(e)
		return nil, nil, ctx.Err()
	}
	if e.err != nil {
		r.release(e)
		return nil, nil, e.err
	}
	var once sync.Once
	return e.svc, func() { once.Do(func() { r.release(e) }) }, nil
}

func (r *SessionRegistry) release(e *sessionEntry) {
	r.mu.Lock()
	e.refs--
	e.lastSeen = r.now()
	r.mu.Unlock()
}

// Len is the number of live sessions.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Run evicts idle sessions until ctx is cancelled.
func (r *SessionRegistry) Run(ctx context.Context) {
	interval := min(max(r.idle/2, time.Second), time.Minute)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.evictIdle()
		}
	}
}

func (r *SessionRegistry) evictIdle() int {
	now := r.now()
	var stale []notification.Service
	r.mu.Lock()
	for owner, e := range r.sessions {
		if e.refs > 0 || now.Sub(e.lastSeen) < r.idle {
			continue
		}
		select {
		case <-e.ready:
		default:
			continue
		}
		delete(r.sessions, owner)
		stale = append(stale, e.svc)
	}
	r.mu.Unlock()

	for _, svc := range stale {
		r.logger.Info("notification session evicted", zap.String("owner_id", svc.OwnerID()))
		svc.Dispose()
		metrics.ActiveSessions.Dec()
	}
	return len(stale)
}

// Close disposes every session. Later Acquire calls fail.
func (r *SessionRegistry) Close() {
	r.mu.Lock()
	r.closed = true
	all := r.sessions
	r.sessions = make(map[string]*sessionEntry)
	r.mu.Unlock()

	for _, e := range all {
		<-e.ready
		if e.err == nil {
			e.svc.Dispose()
			metrics.ActiveSessions.Dec()
		}
	}
}
