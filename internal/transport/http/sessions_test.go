package http

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/liftops-portal/internal/application/notification"
	"github.com/liftops-portal/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubService records lifecycle calls; everything else is inherited from the
// embedded interface and must not be called.
type stubService struct {
	notification.Service
	mu       sync.Mutex
	owner    string
	inits    int
	disposed bool
	initErr  error
}

func (s *stubService) Init(_ context.Context, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inits++
	if s.initErr != nil {
		return s.initErr
	}
	s.owner = ownerID
	return nil
}

func (s *stubService) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disposed = true
}

func (s *stubService) OwnerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner
}

func (s *stubService) isDisposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

type stubFactory struct {
	mu    sync.Mutex
	made  map[string]*stubService
	calls atomic.Int32
	fail  error
}

func (f *stubFactory) build(ownerID string) notification.Service {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.made == nil {
		f.made = map[string]*stubService{}
	}
	s := &stubService{initErr: f.fail}
	f.made[ownerID] = s
	return s
}

func (f *stubFactory) get(ownerID string) *stubService {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.made[ownerID]
}

func TestSessionRegistry_ConcurrentAcquireInitsOnce(t *testing.T) {
	f := &stubFactory{}
	reg := NewSessionRegistry(f.build, time.Minute, zap.NewNop())
	defer reg.Close()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc, release, err := reg.Acquire(context.Background(), "owner-1")
			if assert.NoError(t, err) {
				assert.Equal(t, "owner-1", svc.OwnerID())
				release()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), f.calls.Load())
	assert.Equal(t, 1, f.get("owner-1").inits)
	assert.Equal(t, 1, reg.Len())
}

func TestSessionRegistry_InitFailureIsNotCached(t *testing.T) {
	f := &stubFactory{fail: domain.ErrBadRequest}
	reg := NewSessionRegistry(f.build, time.Minute, zap.NewNop())
	defer reg.Close()

	_, _, err := reg.Acquire(context.Background(), "owner-1")

	assert.ErrorIs(t, err, domain.ErrBadRequest)
	assert.Equal(t, 0, reg.Len())
	assert.True(t, f.get("owner-1").isDisposed())
}

func TestSessionRegistry_EvictsIdleButNotHeld(t *testing.T) {
	f := &stubFactory{}
	reg := NewSessionRegistry(f.build, time.Minute, zap.NewNop())
	defer reg.Close()
	now := time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return now }

	_, releaseA, err := reg.Acquire(context.Background(), "a")
	require.NoError(t, err)
	releaseA()
	_, releaseB, err := reg.Acquire(context.Background(), "b")
	require.NoError(t, err)
	defer releaseB()

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, reg.evictIdle())

	assert.True(t, f.get("a").isDisposed())
	assert.False(t, f.get("b").isDisposed())
	assert.Equal(t, 1, reg.Len())
}

func TestSessionRegistry_ReleaseIsIdempotent(t *testing.T) {
	f := &stubFactory{}
	reg := NewSessionRegistry(f.build, time.Minute, zap.NewNop())
	defer reg.Close()
	now := time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return now }

	_, release, err := reg.Acquire(context.Background(), "a")
	require.NoError(t, err)
	_, hold, err := reg.Acquire(context.Background(), "a")
	require.NoError(t, err)
	release()
	release()

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 0, reg.evictIdle())
	hold()
}

func TestSessionRegistry_CloseDisposesAll(t *testing.T) {
	f := &stubFactory{}
	reg := NewSessionRegistry(f.build, time.Minute, zap.NewNop())
	_, release, err := reg.Acquire(context.Background(), "a")
	require.NoError(t, err)
	release()

	reg.Close()

	assert.True(t, f.get("a").isDisposed())
	_, _, err = reg.Acquire(context.Background(), "a")
	assert.ErrorIs(t, err, errRegistryClosed)
}
