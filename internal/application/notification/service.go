package notification

import (
	"context"
	"fmt"
	"sync"

	"github.com/liftops-portal/internal/application/alert"
	"github.com/liftops-portal/internal/domain"
	"github.com/liftops-portal/internal/pkg/validate"
	"go.uber.org/zap"
)

// NotifyRequest asks the remote to create a notification if the owner has the
// category enabled.
type NotifyRequest struct {
	OwnerID       string                `json:"user_id,omitempty"`
	Category      domain.Category       `json:"type" validate:"required,category"`
	Title         string                `json:"title" validate:"required,max=200"`
	Body          string                `json:"message" validate:"max=2000"`
	Link          *string               `json:"link,omitempty" validate:"omitempty,uri"`
	Important     bool                  `json:"important"`
	RelatedEntity *domain.RelatedEntity `json:"related_entity,omitempty"`
	Metadata      map[string]any        `json:"metadata,omitempty"`
}

// NotifyResult reports what Notify did. AlertID is set when a disabled
// important notification was surfaced as an ephemeral alert instead.
type NotifyResult struct {
	Created      bool                 `json:"created"`
	TypeDisabled bool                 `json:"type_disabled"`
	Notification *domain.Notification `json:"notification,omitempty"`
	AlertID      string               `json:"alert_id,omitempty"`
}

// Service is the per-principal notification session: one cache, one
// listener, one alert channel.
type Service interface {
	Init(ctx context.Context, ownerID string) error
	Dispose()
	OwnerID() string

	Emit(kind domain.AlertKind, content string) string
	Dismiss(alertID string) bool
	Alerts() []domain.Alert
	SubscribeAlerts(fn func(alert.Event)) (cancel func())

	Notify(ctx context.Context, req NotifyRequest) (NotifyResult, error)
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) error
	Delete(ctx context.Context, id string) error

	List(tab Tab) View
	Load(ctx context.Context, offset, limit int, force bool) (LoadOutcome, error)
	LoadMore(ctx context.Context) (LoadOutcome, error)
	Refresh(ctx context.Context) error
	State() State
	Subscribe(fn func(State)) (cancel func())

	VisibilityChanged(visible bool)
	Focused()
}

// ServiceDeps groups the collaborators of a Service.
type ServiceDeps struct {
	Remote Remote
	Stream EventStream
	Alerts alert.Service
	Config Config
	Logger *zap.Logger
}

type service struct {
	remote   Remote
	alerts   alert.Service
	cfg      Config
	logger   *zap.Logger
	store    *Store
	coord    *Coordinator
	listener *Listener

	mu    sync.Mutex
	owner string
}

// NewService builds an uninitialized session. Call Init before use.
func NewService(deps ServiceDeps) Service {
	cfg := deps.Config.withDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	alerts := deps.Alerts
	if alerts == nil {
		alerts = alert.NewService(alert.DefaultConfig(), logger)
	}
	store := NewStore(deps.Remote, cfg, logger)
	return &service{
		remote:   deps.Remote,
		alerts:   alerts,
		cfg:      cfg,
		logger:   logger,
		store:    store,
		coord:    NewCoordinator(store, deps.Remote, alerts, cfg, logger),
		listener: NewListener(store, deps.Stream, alerts, cfg, logger),
	}
}

// Init binds the session to ownerID, subscribes to its stream and loads the
// first page. Re-initializing with the same owner is a no-op; a different
// owner discards the previous cache. A failed first load is reported through
// State, not as an error.
func (s *service) Init(ctx context.Context, ownerID string) error {
	if ownerID == "" {
		return fmt.Errorf("owner id: %w", domain.ErrBadRequest)
	}
	s.mu.Lock()
	if s.owner == ownerID {
		s.mu.Unlock()
		return nil
	}
	s.owner = ownerID
	s.mu.Unlock()

	s.listener.Stop()
	s.store.Reset(ownerID)
	if err := s.listener.Start(ownerID); err != nil {
		return err
	}
	if _, err := s.store.Load(ctx, 0, s.cfg.PageSize, true); err != nil {
		s.logger.Warn("initial notification load failed", zap.String("owner_id", ownerID), zap.Error(err))
	}
	return nil
}

// Dispose tears down the listener, clears the cache and drops all alerts.
func (s *service) Dispose() {
	s.mu.Lock()
	s.owner = ""
	s.mu.Unlock()
	s.listener.Stop()
	s.store.Reset("")
	s.alerts.Close()
}

func (s *service) OwnerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner
}

func (s *service) initialized() error {
	if s.OwnerID() == "" {
		return domain.ErrNotInitialized
	}
	return nil
}

func (s *service) Emit(kind domain.AlertKind, content string) string {
	return s.alerts.Emit(kind, content)
}

func (s *service) Dismiss(alertID string) bool {
	return s.alerts.Dismiss(alertID)
}

func (s *service) Alerts() []domain.Alert {
	return s.alerts.Active()
}

func (s *service) SubscribeAlerts(fn func(alert.Event)) func() {
	return s.alerts.Subscribe(fn)
}

// Notify creates a notification through the remote. When the category is
// disabled for the owner, nothing is stored; important ones are still shown
// to the current principal as an info alert.
func (s *service) Notify(ctx context.Context, req NotifyRequest) (NotifyResult, error) {
	if err := s.initialized(); err != nil {
		return NotifyResult{}, err
	}
	if err := validate.Struct(req); err != nil {
		return NotifyResult{}, fmt.Errorf("%w: %s", domain.ErrBadRequest, err.Error())
	}
	owner := req.OwnerID
	if owner == "" {
		owner = s.OwnerID()
	}

	res, err := s.remote.CreateIfEnabled(ctx, owner, req.Category, domain.NotificationPayload{
		Title:         req.Title,
		Body:          req.Body,
		Link:          req.Link,
		Important:     req.Important,
		RelatedEntity: req.RelatedEntity,
		Metadata:      req.Metadata,
	})
	if err != nil {
		s.logger.Warn("create notification failed",
			zap.String("owner_id", owner), zap.String("type", string(req.Category)), zap.Error(err))
		return NotifyResult{}, err
	}

	out := NotifyResult{Created: res.Created, TypeDisabled: res.TypeDisabled, Notification: res.Notification}
	if res.TypeDisabled && req.Important {
		out.AlertID = s.alerts.Emit(domain.AlertInfo, req.Title)
	}
	return out, nil
}

func (s *service) MarkRead(ctx context.Context, id string) error {
	if err := s.initialized(); err != nil {
		return err
	}
	return s.coord.MarkRead(ctx, id).Err
}

func (s *service) MarkAllRead(ctx context.Context) error {
	if err := s.initialized(); err != nil {
		return err
	}
	return s.coord.MarkAllRead(ctx).Err
}

func (s *service) Delete(ctx context.Context, id string) error {
	if err := s.initialized(); err != nil {
		return err
	}
	return s.coord.Delete(ctx, id).Err
}

func (s *service) List(tab Tab) View {
	st := s.store.Snapshot()
	return Project(st.Items, st.UnreadCount, tab, s.cfg.Clock())
}

func (s *service) Load(ctx context.Context, offset, limit int, force bool) (LoadOutcome, error) {
	return s.store.Load(ctx, offset, limit, force)
}

// LoadMore fetches the page after the cached entries.
func (s *service) LoadMore(ctx context.Context) (LoadOutcome, error) {
	st := s.store.Snapshot()
	if st.OwnerID == "" {
		return LoadFailed, domain.ErrNotInitialized
	}
	if !st.HasMore {
		return LoadExhausted, nil
	}
	return s.store.Load(ctx, len(st.Items), s.cfg.PageSize, false)
}

func (s *service) Refresh(ctx context.Context) error {
	_, err := s.store.Load(ctx, 0, s.cfg.PageSize, true)
	return err
}

func (s *service) State() State {
	return s.store.Snapshot()
}

func (s *service) Subscribe(fn func(State)) func() {
	return s.store.Watch(fn)
}

func (s *service) VisibilityChanged(visible bool) {
	s.listener.VisibilityChanged(visible)
}

func (s *service) Focused() {
	s.listener.Focused()
}
