package notification

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/liftops-portal/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newCoord(remote *mockRemote, items ...domain.Notification) (*Coordinator, *Store, *alertSink) {
	clock := newFakeClock()
	s := newTestStore(remote, clock)
	if len(items) > 0 {
		seed(s, remote, items...)
	}
	sink := &alertSink{}
	return NewCoordinator(s, remote, sink, testConfig(clock), zap.NewNop()), s, sink
}

func TestCoordinatorMarkRead_Confirmed(t *testing.T) {
	remote := &mockRemote{}
	c, s, sink := newCoord(remote, note("n1", false), note("n2", false))
	remote.On("MarkRead", mock.Anything, owner, []string{"n1"}).Return(nil)

	m := c.MarkRead(context.Background(), "n1")

	assert.Equal(t, PhaseConfirmed, m.Phase)
	assert.NoError(t, m.Err)
	n, _ := s.Get("n1")
	assert.True(t, n.Read)
	assert.NotNil(t, n.ReadAt)
	assert.Equal(t, 1, s.Snapshot().UnreadCount)
	assert.Empty(t, sink.sent())
}

func TestCoordinatorMarkRead_AlreadyReadIsSkipped(t *testing.T) {
	remote := &mockRemote{}
	c, s, _ := newCoord(remote, note("n1", true))

	m := c.MarkRead(context.Background(), "n1")

	assert.Equal(t, PhaseSkipped, m.Phase)
	assert.NoError(t, m.Reason)
	remote.AssertNotCalled(t, "MarkRead", mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, 0, s.Snapshot().UnreadCount)
}

func TestCoordinatorMarkRead_UnknownIsSkipped(t *testing.T) {
	remote := &mockRemote{}
	c, _, _ := newCoord(remote, note("n1", false))

	m := c.MarkRead(context.Background(), "missing")

	assert.Equal(t, PhaseSkipped, m.Phase)
	assert.NoError(t, m.Err)
	assert.ErrorIs(t, m.Reason, domain.ErrStaleState)
	remote.AssertNotCalled(t, "MarkRead", mock.Anything, mock.Anything, mock.Anything)
}

func TestCoordinatorMarkRead_RejectionRollsBack(t *testing.T) {
	remote := &mockRemote{}
	c, s, sink := newCoord(remote, note("n1", false), note("n2", false))
	before := s.Snapshot()
	remote.On("MarkRead", mock.Anything, owner, []string{"n1"}).
		Return(domain.Rejected("markRead", "Notification not found"))

	m := c.MarkRead(context.Background(), "n1")

	assert.Equal(t, PhaseRolledBack, m.Phase)
	assert.True(t, domain.IsRejection(m.Err))
	after := s.Snapshot()
	assert.Equal(t, before.Items, after.Items)
	assert.Equal(t, before.UnreadCount, after.UnreadCount)
	require.Len(t, sink.sent(), 1)
	assert.Equal(t, sentAlert{Kind: domain.AlertError, Content: "Notification not found"}, sink.sent()[0])
}

func TestCoordinatorMarkAllRead_EmptyIsSkipped(t *testing.T) {
	remote := &mockRemote{}
	c, _, _ := newCoord(remote, note("n1", true))

	m := c.MarkAllRead(context.Background())

	assert.Equal(t, PhaseSkipped, m.Phase)
	remote.AssertNotCalled(t, "MarkRead", mock.Anything, mock.Anything, mock.Anything)
}

func TestCoordinatorMarkAllRead_Confirmed(t *testing.T) {
	remote := &mockRemote{}
	c, s, _ := newCoord(remote, note("n1", false), note("n2", true), note("n3", false))
	remote.On("MarkRead", mock.Anything, owner, mock.MatchedBy(func(ids []string) bool {
		return assert.ObjectsAreEqual([]string{"n1", "n3"}, ids)
	})).Return(nil)

	m := c.MarkAllRead(context.Background())

	assert.Equal(t, PhaseConfirmed, m.Phase)
	assert.Equal(t, []string{"n1", "n3"}, m.Snapshot.UnreadIDs)
	assert.Equal(t, 0, s.Snapshot().UnreadCount)
}

func TestCoordinatorMarkAllRead_FailureForcesRefresh(t *testing.T) {
	remote := &mockRemote{}
	c, s, sink := newCoord(remote, note("n1", false), note("n2", false))
	remote.On("MarkRead", mock.Anything, owner, mock.Anything).
		Return(domain.Transport("markRead", errors.New("503")))
	// Server state after the failed bulk call: n2 got read elsewhere.
	remote.On("FetchPage", mock.Anything, owner, 2, 0).
		Return(pageOf(note("n1", false), note("n2", true)), nil).Once()

	m := c.MarkAllRead(context.Background())

	assert.Equal(t, PhaseRolledBack, m.Phase)
	assert.True(t, domain.IsTransport(m.Err))
	remote.AssertNumberOfCalls(t, "FetchPage", 2)
	st := s.Snapshot()
	assert.Equal(t, 1, st.UnreadCount)
	n1, _ := s.Get("n1")
	assert.False(t, n1.Read)
	require.Len(t, sink.sent(), 1)
	assert.Equal(t, "Could not mark all notifications as read", sink.sent()[0].Content)
}

func TestCoordinatorDelete_Confirmed(t *testing.T) {
	remote := &mockRemote{}
	c, s, _ := newCoord(remote, note("n1", false), note("n2", false))
	remote.On("Delete", mock.Anything, owner, "n1").Return(nil)

	m := c.Delete(context.Background(), "n1")

	assert.Equal(t, PhaseConfirmed, m.Phase)
	st := s.Snapshot()
	assert.Equal(t, []string{"n2"}, ids(st.Items))
	assert.Equal(t, 1, st.UnreadCount)
}

func TestCoordinatorDelete_FailureRestoresAtEnd(t *testing.T) {
	remote := &mockRemote{}
	c, s, sink := newCoord(remote, note("n1", false), note("n2", false))
	remote.On("Delete", mock.Anything, owner, "n1").
		Return(domain.Transport("deleteNotification", errors.New("connection reset")))

	m := c.Delete(context.Background(), "n1")

	assert.Equal(t, PhaseRolledBack, m.Phase)
	st := s.Snapshot()
	assert.Equal(t, []string{"n2", "n1"}, ids(st.Items))
	assert.Equal(t, 2, st.UnreadCount)
	require.Len(t, sink.sent(), 1)
	assert.Equal(t, sentAlert{Kind: domain.AlertError, Content: "Could not delete the notification"}, sink.sent()[0])
}

func TestCoordinatorDelete_UnknownIsSkipped(t *testing.T) {
	remote := &mockRemote{}
	c, _, _ := newCoord(remote, note("n1", false))

	m := c.Delete(context.Background(), "missing")

	assert.Equal(t, PhaseSkipped, m.Phase)
	assert.ErrorIs(t, m.Reason, domain.ErrStaleState)
	remote.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything, mock.Anything)
}

func TestCoordinator_EchoedUpdateDoesNotDoubleCount(t *testing.T) {
	remote := &mockRemote{}
	c, s, _ := newCoord(remote, note("x", false), note("y", false), note("z", false))
	l := NewListener(s, nil, nil, testConfig(nil), zap.NewNop())

	started := make(chan struct{})
	release := make(chan struct{})
	remote.On("MarkRead", mock.Anything, owner, []string{"x"}).
		Run(func(mock.Arguments) { close(started); <-release }).
		Return(nil)

	done := make(chan Mutation)
	go func() { done <- c.MarkRead(context.Background(), "x") }()
	<-started

	echo := note("x", true)
	l.HandleEvent(owner, domain.Event{Op: domain.OpUpdate, Record: echo})
	assert.Equal(t, 2, s.Snapshot().UnreadCount)

	close(release)
	assert.Equal(t, PhaseConfirmed, (<-done).Phase)
	assert.Equal(t, 2, s.Snapshot().UnreadCount)
}

func TestCoordinator_SameIDMutationsAreSerialized(t *testing.T) {
	remote := &mockRemote{}
	c, s, _ := newCoord(remote, note("n1", false))

	var active, maxActive int32
	track := func(mock.Arguments) {
		cur := atomic.AddInt32(&active, 1)
		for {
			prev := atomic.LoadInt32(&maxActive)
			if cur <= prev || atomic.CompareAndSwapInt32(&maxActive, prev, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&active, -1)
	}
	remote.On("MarkRead", mock.Anything, owner, []string{"n1"}).Run(track).Return(nil)
	remote.On("Delete", mock.Anything, owner, "n1").Run(track).Return(nil)

	results := make(chan Mutation, 2)
	go func() { results <- c.MarkRead(context.Background(), "n1") }()
	go func() { results <- c.Delete(context.Background(), "n1") }()
	<-results
	<-results

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxActive))
	_, ok := s.Get("n1")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Snapshot().UnreadCount)
}

func TestKeyedMutex_ReleasesKeys(t *testing.T) {
	k := newKeyedMutex()

	unlock := k.LockAll([]string{"b", "a", "b"})
	assert.Len(t, k.locks, 2)
	unlock()

	assert.Empty(t, k.locks)
}

func TestCoordinatorDelete_LatePageDoesNotBringEntryBack(t *testing.T) {
	remote := &mockRemote{}
	c, s, _ := newCoord(remote, note("a", false), note("b", true))
	remote.On("Delete", mock.Anything, owner, "a").Return(nil)

	release, done := blockedLoad(s, remote, pageOf(note("a", false), note("b", true)))
	m := c.Delete(context.Background(), "a")
	require.Equal(t, PhaseConfirmed, m.Phase)
	close(release)

	assert.Equal(t, LoadReplaced, <-done)
	st := s.Snapshot()
	assert.Equal(t, []string{"b"}, ids(st.Items))
	assert.Equal(t, 0, st.UnreadCount)
}

func TestCoordinatorDelete_RolledBackDeleteSurvivesLatePage(t *testing.T) {
	remote := &mockRemote{}
	c, s, _ := newCoord(remote, note("a", false), note("b", false))
	remote.On("Delete", mock.Anything, owner, "a").Return(domain.Transport("deleteNotification", errors.New("reset")))

	release, done := blockedLoad(s, remote, pageOf(note("a", false), note("b", false)))
	m := c.Delete(context.Background(), "a")
	require.Equal(t, PhaseRolledBack, m.Phase)
	close(release)

	<-done
	st := s.Snapshot()
	assert.ElementsMatch(t, []string{"a", "b"}, ids(st.Items))
	assert.Equal(t, 2, st.UnreadCount)
}

func TestCoordinatorMarkRead_PageFetchedWhileRemotePendingKeepsReadFlag(t *testing.T) {
	remote := &mockRemote{}
	c, s, _ := newCoord(remote, note("a", false), note("b", false))

	called := make(chan struct{})
	confirm := make(chan struct{})
	remote.On("MarkRead", mock.Anything, owner, []string{"a"}).
		Run(func(mock.Arguments) { close(called); <-confirm }).
		Return(nil)

	result := make(chan Mutation, 1)
	go func() { result <- c.MarkRead(context.Background(), "a") }()
	<-called

	// The server has not committed the read yet.
	remote.On("FetchPage", mock.Anything, owner, 2, 0).Return(pageOf(note("a", false), note("b", false)), nil).Once()
	_, err := s.Load(context.Background(), 0, 2, true)
	require.NoError(t, err)

	a, _ := s.Get("a")
	assert.True(t, a.Read)
	assert.Equal(t, 1, s.Snapshot().UnreadCount)

	close(confirm)
	assert.Equal(t, PhaseConfirmed, (<-result).Phase)
	assert.Empty(t, s.journal)
}
