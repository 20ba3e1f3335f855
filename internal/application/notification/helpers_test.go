package notification

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/liftops-portal/internal/domain"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

// --- mocks ---

type mockRemote struct {
	mock.Mock
	fetches atomic.Int32
}

func (m *mockRemote) FetchPage(ctx context.Context, ownerID string, pageSize, pageNumber int) (*domain.Page, error) {
	m.fetches.Add(1)
	args := m.Called(ctx, ownerID, pageSize, pageNumber)
	if p, _ := args.Get(0).(*domain.Page); p != nil {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockRemote) MarkRead(ctx context.Context, ownerID string, ids []string) error {
	return m.Called(ctx, ownerID, ids).Error(0)
}
func (m *mockRemote) Delete(ctx context.Context, ownerID, notificationID string) error {
	return m.Called(ctx, ownerID, notificationID).Error(0)
}
func (m *mockRemote) CreateIfEnabled(ctx context.Context, ownerID string, category domain.Category, payload domain.NotificationPayload) (domain.CreateResult, error) {
	args := m.Called(ctx, ownerID, category, payload)
	res, _ := args.Get(0).(domain.CreateResult)
	return res, args.Error(1)
}

// --- fakes ---

type sentAlert struct {
	Kind    domain.AlertKind
	Content string
}

type alertSink struct {
	mu     sync.Mutex
	alerts []sentAlert
}

func (a *alertSink) Emit(kind domain.AlertKind, content string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, sentAlert{Kind: kind, Content: content})
	return "alert"
}

func (a *alertSink) sent() []sentAlert {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]sentAlert(nil), a.alerts...)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeSub struct {
	ch     chan domain.Event
	once   sync.Once
	closed chan struct{}
}

func newFakeSub() *fakeSub {
	return &fakeSub{ch: make(chan domain.Event, 16), closed: make(chan struct{})}
}

func (s *fakeSub) Events() <-chan domain.Event { return s.ch }
func (s *fakeSub) Err() error                  { return errors.New("stream dropped") }
func (s *fakeSub) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

// end simulates the server dropping the feed.
func (s *fakeSub) end() { close(s.ch) }

type fakeStream struct {
	mu    sync.Mutex
	subs  []*fakeSub
	owner []string
	fail  int // first n Subscribe calls fail
}

func (f *fakeStream) Subscribe(ctx context.Context, ownerID string) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail > 0 {
		f.fail--
		return nil, domain.Transport("subscribe", errors.New("connection refused"))
	}
	s := newFakeSub()
	f.subs = append(f.subs, s)
	f.owner = append(f.owner, ownerID)
	return s, nil
}

func (f *fakeStream) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeStream) sub(i int) *fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[i]
}

// --- builders ---

const owner = "owner-1"

var t0 = time.Date(2024, 5, 15, 9, 0, 0, 0, time.UTC)

func note(id string, read bool) domain.Notification {
	n := domain.Notification{
		ID:        id,
		OwnerID:   owner,
		Category:  domain.CategoryElevator,
		Title:     "Elevator " + id,
		Body:      "Status changed",
		Read:      read,
		CreatedAt: t0,
	}
	if read {
		at := t0.Add(time.Minute)
		n.ReadAt = &at
	}
	return n
}

func pageOf(items ...domain.Notification) *domain.Page {
	unread := 0
	for _, n := range items {
		if !n.Read {
			unread++
		}
	}
	return &domain.Page{Items: items, UnreadCount: unread}
}

func testConfig(clock *fakeClock) Config {
	cfg := DefaultConfig()
	cfg.PageSize = 2
	cfg.FallbackPollInterval = 0
	cfg.ResyncDebounce = 10 * time.Millisecond
	cfg.ResubscribeBackoff = 5 * time.Millisecond
	cfg.MaxResubscribeDelay = 20 * time.Millisecond
	if clock != nil {
		cfg.Clock = clock.Now
	}
	return cfg
}

func newTestStore(remote *mockRemote, clock *fakeClock) *Store {
	s := NewStore(remote, testConfig(clock), zap.NewNop())
	s.Reset(owner)
	return s
}

// seed loads items as the first page.
func seed(s *Store, remote *mockRemote, items ...domain.Notification) {
	remote.On("FetchPage", mock.Anything, owner, 2, 0).Return(pageOf(items...), nil).Once()
	if _, err := s.Load(context.Background(), 0, 2, true); err != nil {
		panic(err)
	}
}

func ids(items []domain.Notification) []string {
	out := make([]string, 0, len(items))
	for _, n := range items {
		out = append(out, n.ID)
	}
	return out
}
