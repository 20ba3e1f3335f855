package notification

import (
	"context"
	"sync"
	"time"

	"github.com/liftops-portal/internal/domain"
	"github.com/liftops-portal/internal/pkg/metrics"
	"go.uber.org/zap"
)

// Listener keeps the Store in sync with the remote: it applies push events,
// polls while the page is visible, and resyncs when the page regains
// visibility or focus.
type Listener struct {
	store  *Store
	stream EventStream
	alerts AlertSink
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	owner    string
	ctx      context.Context
	cancel   context.CancelFunc
	visible  bool
	debounce *time.Timer
	wg       sync.WaitGroup
}

// NewListener creates a stopped listener. stream may be nil, in which case
// only polling and resync keep the cache fresh.
func NewListener(store *Store, stream EventStream, alerts AlertSink, cfg Config, logger *zap.Logger) *Listener {
	return &Listener{
		store:   store,
		stream:  stream,
		alerts:  alerts,
		cfg:     cfg.withDefaults(),
		logger:  logger,
		visible: true,
	}
}

// Start subscribes to ownerID's stream and starts the fallback poll. A
// running listener is stopped first, so at most one subscription exists.
func (l *Listener) Start(ownerID string) error {
	if ownerID == "" {
		return domain.ErrNotInitialized
	}
	l.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	l.mu.Lock()
	l.owner = ownerID
	l.ctx = ctx
	l.cancel = cancel
	l.mu.Unlock()

	if l.stream != nil {
		l.wg.Add(1)
		go l.consume(ctx, ownerID)
	}
	if l.cfg.FallbackPollInterval > 0 {
		l.wg.Add(1)
		go l.poll(ctx)
	}
	l.logger.Info("notification listener started", zap.String("owner_id", ownerID))
	return nil
}

// Stop cancels the subscription, the poll loop and any pending resync, and
// waits for the goroutines to exit.
func (l *Listener) Stop() {
	l.mu.Lock()
	cancel := l.cancel
	timer := l.debounce
	owner := l.owner
	l.cancel = nil
	l.debounce = nil
	l.ctx = nil
	l.owner = ""
	l.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if cancel == nil {
		return
	}
	cancel()
	l.wg.Wait()
	l.logger.Info("notification listener stopped", zap.String("owner_id", owner))
}

// VisibilityChanged records page visibility. Becoming visible schedules a
// resync; while hidden the fallback poll pauses.
func (l *Listener) VisibilityChanged(visible bool) {
	l.mu.Lock()
	l.visible = visible
	l.mu.Unlock()
	if visible {
		l.scheduleResync()
	}
}

// Focused schedules a resync.
func (l *Listener) Focused() {
	l.scheduleResync()
}

// Visible reports the last known page visibility.
func (l *Listener) Visible() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.visible
}

func (l *Listener) scheduleResync() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx == nil {
		return
	}
	if l.debounce != nil {
		l.debounce.Stop()
	}
	ctx := l.ctx
	l.debounce = time.AfterFunc(l.cfg.ResyncDebounce, func() {
		l.refresh(ctx, "resync")
	})
}

func (l *Listener) refresh(ctx context.Context, reason string) {
	if ctx.Err() != nil {
		return
	}
	if _, err := l.store.Load(ctx, 0, l.cfg.PageSize, true); err != nil && ctx.Err() == nil {
		l.logger.Warn("notification refresh failed", zap.String("reason", reason), zap.Error(err))
	}
}

func (l *Listener) poll(ctx context.Context) {
	defer l.wg.Done()
	ticker := time.NewTicker(l.cfg.FallbackPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if l.Visible() {
				l.refresh(ctx, "fallback_poll")
			}
		}
	}
}

func (l *Listener) consume(ctx context.Context, ownerID string) {
	defer l.wg.Done()
	delay := l.cfg.ResubscribeBackoff
	first := true
	for {
		sub, err := l.stream.Subscribe(ctx, ownerID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.logger.Warn("notification stream subscribe failed", zap.Duration("retry_in", delay), zap.Error(err))
		} else {
			if !first {
				// Events may have been missed while disconnected.
				l.refresh(ctx, "resubscribe")
			}
			first = false
			delay = l.cfg.ResubscribeBackoff
			l.drain(ctx, ownerID, sub)
			if cerr := sub.Close(); cerr != nil {
				l.logger.Debug("closing notification subscription", zap.Error(cerr))
			}
			if ctx.Err() != nil {
				return
			}
			l.logger.Warn("notification stream ended", zap.Duration("retry_in", delay), zap.Error(sub.Err()))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay = min(delay*2, l.cfg.MaxResubscribeDelay)
	}
}

func (l *Listener) drain(ctx context.Context, ownerID string, sub Subscription) {
	events := sub.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			l.HandleEvent(ownerID, ev)
		}
	}
}

// HandleEvent applies one push event for ownerID to the Store. Events for
// other owners are dropped. A newly inserted important notification raises
// an info alert.
func (l *Listener) HandleEvent(ownerID string, ev domain.Event) {
	if o := ev.OwnerID(); o != "" && o != ownerID {
		metrics.RecordStreamEvent(string(ev.Op), "foreign")
		return
	}

	applied := false
	switch ev.Op {
	case domain.OpInsert:
		applied = l.store.Insert(ev.Record)
		if applied && ev.Record.Important && l.alerts != nil {
			l.alerts.Emit(domain.AlertInfo, summary(ev.Record))
		}
	case domain.OpUpdate:
		patch := domain.PatchFromRecord(ev.Record)
		if ev.Patch != nil {
			patch = *ev.Patch
		}
		applied = l.store.ApplyUpdate(ev.Record.ID, patch)
	case domain.OpDelete:
		_, applied = l.store.Remove(ev.Record.ID)
	}

	result := "ignored"
	if applied {
		result = "applied"
	}
	metrics.RecordStreamEvent(string(ev.Op), result)
}

func summary(n domain.Notification) string {
	if n.Title != "" {
		return n.Title
	}
	return n.Body
}
