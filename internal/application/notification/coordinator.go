package notification

import (
	"context"
	"sort"
	"sync"

	"github.com/liftops-portal/internal/domain"
	"github.com/liftops-portal/internal/pkg/metrics"
	"go.uber.org/zap"
)

// Phase is the lifecycle stage of an optimistic mutation.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseApplied    Phase = "applied"
	PhaseConfirmed  Phase = "confirmed"
	PhaseRolledBack Phase = "rolled_back"
	PhaseSkipped    Phase = "skipped" // target missing or already in the requested state
)

var transitions = map[Phase][]Phase{
	PhaseIdle:    {PhaseApplied, PhaseSkipped},
	PhaseApplied: {PhaseConfirmed, PhaseRolledBack},
}

// MutationKind names the user action being applied.
type MutationKind string

const (
	KindMarkRead    MutationKind = "mark_read"
	KindMarkAllRead MutationKind = "mark_all_read"
	KindDelete      MutationKind = "delete"
)

// Snapshot is the pre-mutation state needed to undo a mutation.
type Snapshot struct {
	Entry     *domain.Notification
	UnreadIDs []string
}

// Mutation records one optimistic mutation from apply to settle.
type Mutation struct {
	Kind     MutationKind
	TargetID string
	Phase    Phase
	Snapshot Snapshot
	Err      error // remote failure behind a rollback
	Reason   error // why a skipped mutation did nothing; ErrStaleState when the target is gone
}

func (m *Mutation) advance(to Phase) bool {
	for _, p := range transitions[m.Phase] {
		if p == to {
			m.Phase = to
			return true
		}
	}
	return false
}

// Coordinator applies user mutations to the Store before the remote confirms
// them, and undoes them if the remote refuses.
type Coordinator struct {
	store  *Store
	remote mutationRemote
	alerts AlertSink
	cfg    Config
	logger *zap.Logger
	locks  *keyedMutex
}

// NewCoordinator wires a coordinator over store.
func NewCoordinator(store *Store, remote mutationRemote, alerts AlertSink, cfg Config, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		store:  store,
		remote: remote,
		alerts: alerts,
		cfg:    cfg.withDefaults(),
		logger: logger,
		locks:  newKeyedMutex(),
	}
}

// MarkRead marks one notification read. Already-read or unknown IDs are
// skipped without a remote call; an unknown ID is reported as stale.
func (c *Coordinator) MarkRead(ctx context.Context, id string) Mutation {
	m := Mutation{Kind: KindMarkRead, TargetID: id, Phase: PhaseIdle}
	unlock := c.locks.Lock(id)
	defer unlock()

	entry, ok := c.store.Get(id)
	if !ok {
		m.Reason = domain.ErrStaleState
		return c.finish(m, PhaseSkipped)
	}
	if entry.Read {
		return c.finish(m, PhaseSkipped)
	}
	m.Snapshot.Entry = &entry

	h := &hold{}
	defer c.store.release(h)
	at := c.cfg.Clock()
	read := true
	if !c.store.applyUpdate(id, domain.NotificationPatch{Read: &read, ReadAt: &at}, h) {
		m.Reason = domain.ErrStaleState
		return c.finish(m, PhaseSkipped)
	}
	m.advance(PhaseApplied)

	if err := c.remote.MarkRead(ctx, c.store.Owner(), []string{id}); err != nil {
		unread := false
		if !c.store.applyUpdate(id, domain.NotificationPatch{Read: &unread}, h) {
			c.logger.Debug("mark read rollback target gone", zap.String("notification_id", id))
		}
		m.Err = err
		c.fail(err, "Could not mark the notification as read")
		return c.finish(m, PhaseRolledBack)
	}
	return c.finish(m, PhaseConfirmed)
}

// MarkAllRead marks every cached unread notification read. On failure the
// cache is resynchronized with a forced refresh instead of per-entry undo.
func (c *Coordinator) MarkAllRead(ctx context.Context) Mutation {
	m := Mutation{Kind: KindMarkAllRead, Phase: PhaseIdle}

	ids := c.store.UnreadIDs()
	if len(ids) == 0 {
		return c.finish(m, PhaseSkipped)
	}
	unlock := c.locks.LockAll(ids)
	defer unlock()

	h := &hold{}
	ids = c.store.markRead(ids, c.cfg.Clock(), h)
	if len(ids) == 0 {
		c.store.release(h)
		m.Reason = domain.ErrStaleState
		return c.finish(m, PhaseSkipped)
	}
	m.Snapshot.UnreadIDs = ids
	m.advance(PhaseApplied)

	err := c.remote.MarkRead(ctx, c.store.Owner(), ids)
	// Released before the refresh below so the refresh is not overlaid with
	// the failed optimistic flags.
	c.store.release(h)
	if err != nil {
		m.Err = err
		c.fail(err, "Could not mark all notifications as read")
		if _, rerr := c.store.Load(ctx, 0, c.cfg.PageSize, true); rerr != nil {
			c.logger.Warn("refresh after failed mark all read", zap.Error(rerr))
		}
		return c.finish(m, PhaseRolledBack)
	}
	return c.finish(m, PhaseConfirmed)
}

// Delete removes one notification. A failed remote delete puts the entry
// back at the end of the cache.
func (c *Coordinator) Delete(ctx context.Context, id string) Mutation {
	m := Mutation{Kind: KindDelete, TargetID: id, Phase: PhaseIdle}
	unlock := c.locks.Lock(id)
	defer unlock()

	h := &hold{}
	defer c.store.release(h)
	removed, ok := c.store.remove(id, h)
	if !ok {
		m.Reason = domain.ErrStaleState
		return c.finish(m, PhaseSkipped)
	}
	m.Snapshot.Entry = &removed
	m.advance(PhaseApplied)

	if err := c.remote.Delete(ctx, c.store.Owner(), id); err != nil {
		c.store.restore(removed, h)
		m.Err = err
		c.fail(err, "Could not delete the notification")
		return c.finish(m, PhaseRolledBack)
	}
	return c.finish(m, PhaseConfirmed)
}

func (c *Coordinator) fail(err error, fallback string) {
	c.logger.Warn("notification mutation failed", zap.Error(err), zap.Bool("retryable", domain.IsRetryable(err)))
	if c.alerts != nil {
		c.alerts.Emit(domain.AlertError, domain.UserMessage(err, fallback))
	}
}

func (c *Coordinator) finish(m Mutation, to Phase) Mutation {
	if !m.advance(to) {
		c.logger.Error("invalid mutation transition",
			zap.String("kind", string(m.Kind)), zap.String("from", string(m.Phase)), zap.String("to", string(to)))
	}
	metrics.RecordMutation(string(m.Kind), string(m.Phase))
	return m
}

// keyedMutex serializes work per notification ID.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refMutex{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// LockAll takes every key in sorted order so concurrent bulk calls cannot
// deadlock each other.
func (k *keyedMutex) LockAll(keys []string) (unlock func()) {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	unlocks := make([]func(), 0, len(sorted))
	for i, key := range sorted {
		if i > 0 && key == sorted[i-1] {
			continue
		}
		unlocks = append(unlocks, k.Lock(key))
	}
	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}
