package notification

import (
	"context"
	"sync"
	"time"

	"github.com/liftops-portal/internal/domain"
	"github.com/liftops-portal/internal/pkg/metrics"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Status is the load status of the cache.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusError   Status = "error"
)

// LoadOutcome says what a Load call did with the cache.
type LoadOutcome string

const (
	LoadReplaced  LoadOutcome = "replaced"  // first page or forced refresh
	LoadMerged    LoadOutcome = "merged"    // later page appended
	LoadThrottled LoadOutcome = "throttled" // inside the minimum load interval
	LoadInFlight  LoadOutcome = "in_flight" // another load is running
	LoadDiscarded LoadOutcome = "discarded" // superseded by a newer forced load
	LoadFailed    LoadOutcome = "failed"
	LoadExhausted LoadOutcome = "exhausted" // no more pages
)

// State is an immutable snapshot of the cache.
type State struct {
	OwnerID      string                       `json:"owner_id"`
	Items        []domain.Notification        `json:"items"`
	UnreadCount  int                          `json:"unread_count"`
	Settings     *domain.NotificationSettings `json:"settings,omitempty"`
	Status       Status                       `json:"status"`
	Err          error                        `json:"-"`
	HasMore      bool                         `json:"has_more"`
	LastLoadedAt time.Time                    `json:"last_loaded_at"`
	Version      uint64                       `json:"version"`
}

// Store is the single source of truth for one principal's notifications.
// Every mutation is serialized by mu; remote fetches run outside it.
type Store struct {
	remote pageFetcher
	cfg    Config
	logger *zap.Logger

	mu         sync.Mutex
	owner      string
	items      []domain.Notification // newest first, unique by ID
	unread     int
	settings   *domain.NotificationSettings
	status     Status
	err        error
	hasMore    bool
	lastLoaded time.Time
	inFlight   bool
	generation uint64
	version    uint64
	limiter    *rate.Limiter

	// seq counts local writes. journal keeps the writes a page fetched
	// before them has not seen, so the page can be brought forward.
	seq     uint64
	journal []change

	watchMu  sync.Mutex
	watchers map[int]func(State)
	nextW    int
}

// NewStore creates an empty, uninitialized store.
func NewStore(remote pageFetcher, cfg Config, logger *zap.Logger) *Store {
	cfg = cfg.withDefaults()
	return &Store{
		remote:   remote,
		cfg:      cfg,
		logger:   logger,
		status:   StatusIdle,
		limiter:  newLoadLimiter(cfg.MinLoadInterval),
		watchers: make(map[int]func(State)),
	}
}

func newLoadLimiter(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

// Reset clears the cache and binds it to ownerID. Responses of loads started
// before the reset are discarded.
func (s *Store) Reset(ownerID string) {
	s.mu.Lock()
	s.owner = ownerID
	s.items = nil
	s.unread = 0
	s.settings = nil
	s.status = StatusIdle
	s.err = nil
	s.hasMore = false
	s.lastLoaded = time.Time{}
	s.inFlight = false
	s.generation++
	s.limiter = newLoadLimiter(s.cfg.MinLoadInterval)
	clear(s.journal)
	s.journal = s.journal[:0]
	s.version++
	s.mu.Unlock()
	s.notify()
}

// Owner returns the principal the cache is bound to.
func (s *Store) Owner() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner
}

// Load fetches a page and writes it into the cache. offset 0 (or force)
// replaces the cache; any other offset merges after existing entries.
// Non-forced loads are dropped while another load runs or when the previous
// one started less than MinLoadInterval ago. A forced load bypasses both
// checks and invalidates any response still in flight. Writes the page
// cannot reflect, made after its fetch started or still awaiting the remote,
// are replayed over it before it lands.
func (s *Store) Load(ctx context.Context, offset, limit int, force bool) (LoadOutcome, error) {
	if limit <= 0 {
		limit = s.cfg.PageSize
	}
	if offset < 0 {
		offset = 0
	}

	s.mu.Lock()
	owner := s.owner
	if owner == "" {
		s.mu.Unlock()
		return LoadFailed, domain.ErrNotInitialized
	}
	now := s.cfg.Clock()
	if !force {
		if s.inFlight {
			s.mu.Unlock()
			metrics.RecordLoad(string(LoadInFlight), 0)
			return LoadInFlight, nil
		}
		if !s.limiter.AllowN(now, 1) {
			s.mu.Unlock()
			metrics.RecordLoad(string(LoadThrottled), 0)
			return LoadThrottled, nil
		}
	} else {
		s.limiter.AllowN(now, 1)
		s.generation++
	}
	gen := s.generation
	since := s.seq
	s.inFlight = true
	s.status = StatusLoading
	s.version++
	s.mu.Unlock()
	s.notify()

	start := time.Now()
	page, err := s.remote.FetchPage(ctx, owner, limit, offset/limit)
	elapsed := time.Since(start)

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		metrics.RecordLoad(string(LoadDiscarded), elapsed)
		s.logger.Debug("discarding superseded page", zap.String("owner_id", owner), zap.Int("offset", offset))
		return LoadDiscarded, nil
	}
	s.inFlight = false
	s.version++
	if err != nil {
		s.trimLocked()
		s.status = StatusError
		s.err = err
		s.mu.Unlock()
		s.notify()
		metrics.RecordLoad(string(LoadFailed), elapsed)
		s.logger.Warn("notification page load failed",
			zap.String("owner_id", owner), zap.Int("offset", offset), zap.Error(err))
		return LoadFailed, err
	}
	if page == nil {
		page = &domain.Page{}
	}

	outcome := LoadMerged
	if offset == 0 || force {
		outcome = LoadReplaced
		s.items = s.items[:0:0]
	}
	for _, n := range page.Items {
		if s.indexOf(n.ID) >= 0 {
			continue
		}
		s.items = append(s.items, s.normalize(n.Clone()))
	}
	unread := max(page.UnreadCount, 0)
	for _, c := range s.journal {
		if !c.unseenSince(since) {
			continue
		}
		// The server count cannot include an unconfirmed optimistic write,
		// so its own adjustment applies whether or not the entry is loaded.
		if d := s.replayLocked(c); c.hold != nil {
			unread += c.delta
		} else {
			unread += d
		}
	}
	s.trimLocked()
	s.unread = max(unread, 0)
	if page.Settings != nil {
		cp := *page.Settings
		s.settings = &cp
	}
	s.hasMore = len(page.Items) >= limit
	s.status = StatusReady
	s.err = nil
	s.lastLoaded = now
	s.mu.Unlock()
	s.notify()

	metrics.RecordLoad(string(outcome), elapsed)
	return outcome, nil
}

// Insert prepends n unless an entry with the same ID exists. It reports
// whether the cache changed.
func (s *Store) Insert(n domain.Notification) bool {
	return s.write(change{kind: changeInsert, entry: n}, nil)
}

// ApplyUpdate merges patch into the entry with the given ID. Unknown IDs are
// ignored. The unread counter follows the read-flag transition.
func (s *Store) ApplyUpdate(id string, patch domain.NotificationPatch) bool {
	return s.applyUpdate(id, patch, nil)
}

func (s *Store) applyUpdate(id string, patch domain.NotificationPatch, h *hold) bool {
	return s.write(change{kind: changeUpdate, id: id, patch: patch}, h)
}

// MarkRead flags every listed entry read at the given instant. The counter
// drops by the number of entries that changed and reaches zero once no
// cached entry is unread. It returns the IDs that actually changed.
func (s *Store) MarkRead(ids []string, at time.Time) []string {
	return s.markRead(ids, at, nil)
}

func (s *Store) markRead(ids []string, at time.Time, h *hold) []string {
	c := change{kind: changeRead, ids: ids, at: at}
	s.mu.Lock()
	d, ok := s.applyLocked(&c)
	if !ok {
		s.mu.Unlock()
		return nil
	}
	s.unread = max(s.unread+d, 0)
	if s.unreadCachedLocked() == 0 {
		s.unread = 0
	}
	s.recordLocked(c, h)
	s.version++
	s.mu.Unlock()
	s.notify()
	return c.ids
}

// Remove deletes the entry with the given ID and returns it.
func (s *Store) Remove(id string) (domain.Notification, bool) {
	return s.remove(id, nil)
}

func (s *Store) remove(id string, h *hold) (domain.Notification, bool) {
	c := change{kind: changeRemove, id: id}
	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return domain.Notification{}, false
	}
	n := s.items[i].Clone()
	d, _ := s.applyLocked(&c)
	s.unread = max(s.unread+d, 0)
	s.recordLocked(c, h)
	s.version++
	s.mu.Unlock()
	s.notify()
	return n, true
}

// Restore re-appends a previously removed entry. It is a no-op when the ID
// is already present.
func (s *Store) Restore(n domain.Notification) bool {
	return s.restore(n, nil)
}

func (s *Store) restore(n domain.Notification, h *hold) bool {
	return s.write(change{kind: changeRestore, entry: n}, h)
}

func (s *Store) write(c change, h *hold) bool {
	s.mu.Lock()
	d, ok := s.applyLocked(&c)
	if !ok {
		s.mu.Unlock()
		return false
	}
	s.unread = max(s.unread+d, 0)
	s.recordLocked(c, h)
	s.version++
	s.mu.Unlock()
	s.notify()
	return true
}

// Get returns a copy of the entry with the given ID.
func (s *Store) Get(id string) (domain.Notification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return domain.Notification{}, false
	}
	return s.items[i].Clone(), true
}

// UnreadIDs lists the IDs of cached unread entries.
func (s *Store) UnreadIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, n := range s.items {
		if !n.Read {
			ids = append(ids, n.ID)
		}
	}
	return ids
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() State {
	items := make([]domain.Notification, len(s.items))
	for i, n := range s.items {
		items[i] = n.Clone()
	}
	st := State{
		OwnerID:      s.owner,
		Items:        items,
		UnreadCount:  s.unread,
		Status:       s.status,
		Err:          s.err,
		HasMore:      s.hasMore,
		LastLoadedAt: s.lastLoaded,
		Version:      s.version,
	}
	if s.settings != nil {
		cp := *s.settings
		st.Settings = &cp
	}
	return st
}

// Watch registers fn to receive a snapshot after every change. Snapshots may
// arrive out of order under concurrency; compare Version to drop stale ones.
func (s *Store) Watch(fn func(State)) (cancel func()) {
	s.watchMu.Lock()
	id := s.nextW
	s.nextW++
	s.watchers[id] = fn
	s.watchMu.Unlock()
	return func() {
		s.watchMu.Lock()
		delete(s.watchers, id)
		s.watchMu.Unlock()
	}
}

func (s *Store) notify() {
	s.watchMu.Lock()
	if len(s.watchers) == 0 {
		s.watchMu.Unlock()
		return
	}
	fns := make([]func(State), 0, len(s.watchers))
	for _, fn := range s.watchers {
		fns = append(fns, fn)
	}
	s.watchMu.Unlock()

	st := s.Snapshot()
	for _, fn := range fns {
		fn(st)
	}
}

func (s *Store) indexOf(id string) int {
	for i := range s.items {
		if s.items[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) unreadCachedLocked() int {
	n := 0
	for i := range s.items {
		if !s.items[i].Read {
			n++
		}
	}
	return n
}

// normalize keeps ReadAt consistent with Read.
func (s *Store) normalize(n domain.Notification) domain.Notification {
	if !n.Read {
		n.ReadAt = nil
	} else if n.ReadAt == nil {
		t := s.cfg.Clock()
		n.ReadAt = &t
	}
	return n
}
