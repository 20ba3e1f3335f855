package alert

import (
	"sync"
	"time"

	"github.com/liftops-portal/internal/domain"
	"github.com/liftops-portal/internal/pkg/id"
	"github.com/liftops-portal/internal/pkg/metrics"
	"go.uber.org/zap"
)

// EventType describes a change in the set of visible alerts.
type EventType string

const (
	EventShown     EventType = "shown"
	EventDismissed EventType = "dismissed"
	EventExpired   EventType = "expired"
)

// Event is delivered to subscribers whenever an alert appears or goes away.
type Event struct {
	Type  EventType    `json:"type"`
	Alert domain.Alert `json:"alert"`
}

// Config controls alert lifetimes.
type Config struct {
	TTL        map[domain.AlertKind]time.Duration
	MaxVisible int // oldest alert is dismissed when exceeded; 0 means unbounded
}

// DefaultConfig mirrors the portal's toast defaults.
func DefaultConfig() Config {
	return Config{
		TTL: map[domain.AlertKind]time.Duration{
			domain.AlertSuccess: 2 * time.Second,
			domain.AlertError:   4 * time.Second,
			domain.AlertInfo:    4 * time.Second,
			domain.AlertWarning: 4 * time.Second,
		},
		MaxVisible: 5,
	}
}

// Service is the ephemeral alert channel: fire-and-forget, client-only
// messages that dismiss themselves after their TTL.
type Service interface {
	Emit(kind domain.AlertKind, content string) string
	EmitWithTTL(kind domain.AlertKind, content string, ttl time.Duration) string
	Dismiss(alertID string) bool
	Active() []domain.Alert
	Subscribe(fn func(Event)) (cancel func())
	Close()
}

type entry struct {
	alert domain.Alert
	timer *time.Timer
}

type service struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	alerts  []*entry // arrival order
	subs    map[int]func(Event)
	nextSub int
	closed  bool
}

// NewService creates an alert channel. Alerts live only as long as the
// returned service; Close drops all of them.
func NewService(cfg Config, logger *zap.Logger) Service {
	if cfg.TTL == nil {
		cfg.TTL = DefaultConfig().TTL
	}
	return &service{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		subs:   make(map[int]func(Event)),
	}
}

func (s *service) Emit(kind domain.AlertKind, content string) string {
	return s.EmitWithTTL(kind, content, s.cfg.TTL[kind])
}

func (s *service) EmitWithTTL(kind domain.AlertKind, content string, ttl time.Duration) string {
	created := s.now()
	a := domain.Alert{
		ID:        id.NewAt(created),
		Kind:      kind,
		Content:   content,
		TTL:       ttl,
		CreatedAt: created,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ""
	}
	e := &entry{alert: a}
	if ttl > 0 {
		e.timer = time.AfterFunc(ttl, func() { s.remove(a.ID, EventExpired) })
	}
	s.alerts = append(s.alerts, e)

	events := []Event{{Type: EventShown, Alert: a}}
	if s.cfg.MaxVisible > 0 {
		for len(s.alerts) > s.cfg.MaxVisible {
			oldest := s.alerts[0]
			s.alerts = s.alerts[1:]
			stopTimer(oldest)
			events = append(events, Event{Type: EventDismissed, Alert: oldest.alert})
		}
	}
	subs := s.subscribers()
	s.mu.Unlock()

	metrics.RecordAlert(string(kind))
	s.logger.Debug("alert emitted",
		zap.String("alert_id", a.ID),
		zap.String("kind", string(kind)),
		zap.Duration("ttl", ttl),
	)
	publish(subs, events...)
	return a.ID
}

func (s *service) Dismiss(alertID string) bool {
	return s.remove(alertID, EventDismissed)
}

func (s *service) remove(alertID string, typ EventType) bool {
	s.mu.Lock()
	idx := -1
	for i, e := range s.alerts {
		if e.alert.ID == alertID {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	e := s.alerts[idx]
	s.alerts = append(s.alerts[:idx], s.alerts[idx+1:]...)
	stopTimer(e)
	subs := s.subscribers()
	s.mu.Unlock()

	publish(subs, Event{Type: typ, Alert: e.alert})
	return true
}

func (s *service) Active() []domain.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Alert, 0, len(s.alerts))
	for _, e := range s.alerts {
		out = append(out, e.alert)
	}
	return out
}

func (s *service) Subscribe(fn func(Event)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := s.nextSub
	s.nextSub++
	s.subs[key] = fn
	return func() {
		s.mu.Lock()
		delete(s.subs, key)
		s.mu.Unlock()
	}
}

// Close ends the session: pending timers stop and every alert is dropped
// without notifying subscribers.
func (s *service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for _, e := range s.alerts {
		stopTimer(e)
	}
	s.alerts = nil
	s.subs = make(map[int]func(Event))
}

// subscribers must be called with s.mu held.
func (s *service) subscribers() []func(Event) {
	out := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		out = append(out, fn)
	}
	return out
}

func publish(subs []func(Event), events ...Event) {
	for _, ev := range events {
		for _, fn := range subs {
			fn(ev)
		}
	}
}

func stopTimer(e *entry) {
	if e.timer != nil {
		e.timer.Stop()
	}
}
