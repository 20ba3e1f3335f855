package notification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/liftops-portal/internal/application/alert"
	"github.com/liftops-portal/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newSvc(remote *mockRemote, stream EventStream) (Service, alert.Service) {
	alerts := alert.NewService(alert.DefaultConfig(), zap.NewNop())
	return NewService(ServiceDeps{
		Remote: remote,
		Stream: stream,
		Alerts: alerts,
		Config: testConfig(newFakeClock()),
		Logger: zap.NewNop(),
	}), alerts
}

func initSvc(t *testing.T, remote *mockRemote, items ...domain.Notification) (Service, alert.Service) {
	t.Helper()
	svc, alerts := newSvc(remote, nil)
	remote.On("FetchPage", mock.Anything, owner, 2, 0).Return(pageOf(items...), nil).Once()
	require.NoError(t, svc.Init(context.Background(), owner))
	t.Cleanup(svc.Dispose)
	return svc, alerts
}

func TestServiceInit_LoadsFirstPage(t *testing.T) {
	remote := &mockRemote{}
	svc, _ := initSvc(t, remote, note("n1", false), note("n2", true))

	st := svc.State()
	assert.Equal(t, owner, svc.OwnerID())
	assert.Equal(t, StatusReady, st.Status)
	assert.Equal(t, []string{"n1", "n2"}, ids(st.Items))
	assert.Equal(t, 1, st.UnreadCount)
}

func TestServiceInit_SameOwnerIsNoop(t *testing.T) {
	remote := &mockRemote{}
	svc, _ := initSvc(t, remote, note("n1", false))

	require.NoError(t, svc.Init(context.Background(), owner))

	remote.AssertNumberOfCalls(t, "FetchPage", 1)
}

func TestServiceInit_EmptyOwner(t *testing.T) {
	svc, _ := newSvc(&mockRemote{}, nil)

	assert.ErrorIs(t, svc.Init(context.Background(), ""), domain.ErrBadRequest)
}

func TestServiceInit_FailedLoadIsReportedInState(t *testing.T) {
	remote := &mockRemote{}
	svc, _ := newSvc(remote, nil)
	defer svc.Dispose()
	remote.On("FetchPage", mock.Anything, owner, 2, 0).
		Return(nil, domain.Transport("fetchPage", errors.New("dial tcp: refused")))

	require.NoError(t, svc.Init(context.Background(), owner))

	st := svc.State()
	assert.Equal(t, StatusError, st.Status)
	assert.True(t, domain.IsRetryable(st.Err))
}

func TestServiceInit_SwitchingOwnerClearsCache(t *testing.T) {
	remote := &mockRemote{}
	svc, _ := initSvc(t, remote, note("n1", false))
	remote.On("FetchPage", mock.Anything, "owner-2", 2, 0).Return(pageOf(), nil)

	require.NoError(t, svc.Init(context.Background(), "owner-2"))

	st := svc.State()
	assert.Equal(t, "owner-2", st.OwnerID)
	assert.Empty(t, st.Items)
}

func TestServiceMutations_RequireInit(t *testing.T) {
	svc, _ := newSvc(&mockRemote{}, nil)
	ctx := context.Background()

	assert.ErrorIs(t, svc.MarkRead(ctx, "n1"), domain.ErrNotInitialized)
	assert.ErrorIs(t, svc.MarkAllRead(ctx), domain.ErrNotInitialized)
	assert.ErrorIs(t, svc.Delete(ctx, "n1"), domain.ErrNotInitialized)
	_, err := svc.Notify(ctx, NotifyRequest{Category: domain.CategorySystem, Title: "x"})
	assert.ErrorIs(t, err, domain.ErrNotInitialized)
	_, err = svc.LoadMore(ctx)
	assert.ErrorIs(t, err, domain.ErrNotInitialized)
}

func TestServiceDelete_FailureRaisesAlert(t *testing.T) {
	remote := &mockRemote{}
	svc, alerts := initSvc(t, remote, note("n1", false), note("n2", false))
	remote.On("Delete", mock.Anything, owner, "n1").Return(domain.Transport("deleteNotification", errors.New("timeout")))

	err := svc.Delete(context.Background(), "n1")

	assert.True(t, domain.IsTransport(err))
	assert.Equal(t, []string{"n2", "n1"}, ids(svc.State().Items))
	active := alerts.Active()
	require.Len(t, active, 1)
	assert.Equal(t, domain.AlertError, active[0].Kind)
}

func TestServiceNotify_InvalidRequest(t *testing.T) {
	remote := &mockRemote{}
	svc, _ := initSvc(t, remote)

	_, err := svc.Notify(context.Background(), NotifyRequest{Category: "billing", Title: "Invoice"})

	assert.ErrorIs(t, err, domain.ErrBadRequest)
	remote.AssertNotCalled(t, "CreateIfEnabled", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestServiceNotify_Created(t *testing.T) {
	remote := &mockRemote{}
	svc, alerts := initSvc(t, remote)
	created := note("n9", false)
	remote.On("CreateIfEnabled", mock.Anything, "tech-7", domain.CategoryMaintenance, mock.MatchedBy(func(p domain.NotificationPayload) bool {
		return p.Title == "Inspection due" && p.Important
	})).Return(domain.CreateResult{Created: true, Notification: &created}, nil)

	res, err := svc.Notify(context.Background(), NotifyRequest{
		OwnerID:   "tech-7",
		Category:  domain.CategoryMaintenance,
		Title:     "Inspection due",
		Important: true,
	})

	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, "n9", res.Notification.ID)
	assert.Empty(t, res.AlertID)
	assert.Empty(t, alerts.Active())
}

func TestServiceNotify_DisabledImportantBecomesAlert(t *testing.T) {
	remote := &mockRemote{}
	svc, alerts := initSvc(t, remote)
	remote.On("CreateIfEnabled", mock.Anything, owner, domain.CategoryProfile, mock.Anything).
		Return(domain.CreateResult{TypeDisabled: true}, nil)

	res, err := svc.Notify(context.Background(), NotifyRequest{
		Category:  domain.CategoryProfile,
		Title:     "Password changed",
		Important: true,
	})

	require.NoError(t, err)
	assert.True(t, res.TypeDisabled)
	assert.False(t, res.Created)
	require.NotEmpty(t, res.AlertID)
	active := alerts.Active()
	require.Len(t, active, 1)
	assert.Equal(t, domain.AlertInfo, active[0].Kind)
	assert.Equal(t, "Password changed", active[0].Content)
	assert.Empty(t, svc.State().Items)
}

func TestServiceNotify_DisabledRegularIsSilent(t *testing.T) {
	remote := &mockRemote{}
	svc, alerts := initSvc(t, remote)
	remote.On("CreateIfEnabled", mock.Anything, owner, domain.CategoryProfile, mock.Anything).
		Return(domain.CreateResult{TypeDisabled: true}, nil)

	res, err := svc.Notify(context.Background(), NotifyRequest{Category: domain.CategoryProfile, Title: "Avatar updated"})

	require.NoError(t, err)
	assert.Empty(t, res.AlertID)
	assert.Empty(t, alerts.Active())
}

func TestServiceNotify_RemoteError(t *testing.T) {
	remote := &mockRemote{}
	svc, _ := initSvc(t, remote)
	remote.On("CreateIfEnabled", mock.Anything, owner, domain.CategorySystem, mock.Anything).
		Return(domain.CreateResult{}, domain.Rejected("createNotification", "Settings unavailable"))

	_, err := svc.Notify(context.Background(), NotifyRequest{Category: domain.CategorySystem, Title: "Maintenance window"})

	assert.True(t, domain.IsRejection(err))
}

func TestServiceLoadMore(t *testing.T) {
	remote := &mockRemote{}
	clock := newFakeClock()
	svc := NewService(ServiceDeps{Remote: remote, Config: testConfig(clock), Logger: zap.NewNop()})
	defer svc.Dispose()
	remote.On("FetchPage", mock.Anything, owner, 2, 0).Return(pageOf(note("n1", false), note("n2", false)), nil).Once()
	remote.On("FetchPage", mock.Anything, owner, 2, 1).Return(pageOf(note("n3", true)), nil).Once()
	require.NoError(t, svc.Init(context.Background(), owner))

	clock.Advance(2 * time.Second)
	outcome, err := svc.LoadMore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, LoadMerged, outcome)
	assert.Equal(t, []string{"n1", "n2", "n3"}, ids(svc.State().Items))

	// A short page means the end was reached.
	outcome, err = svc.LoadMore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, LoadExhausted, outcome)
	remote.AssertNumberOfCalls(t, "FetchPage", 2)
}

func TestServiceList_GroupsCurrentCache(t *testing.T) {
	remote := &mockRemote{}
	svc, _ := initSvc(t, remote, note("n1", false), note("n2", true))

	v := svc.List(TabUnread)

	assert.Equal(t, TabUnread, v.Tab)
	assert.Equal(t, 1, v.Total)
	require.Len(t, v.Groups, 1)
	assert.Equal(t, BucketToday, v.Groups[0].Label)
}

func TestServiceDispose_ClearsEverything(t *testing.T) {
	remote := &mockRemote{}
	svc, _ := newSvc(remote, &fakeStream{})
	remote.On("FetchPage", mock.Anything, owner, 2, 0).Return(pageOf(note("n1", false)), nil)
	require.NoError(t, svc.Init(context.Background(), owner))
	svc.Emit(domain.AlertSuccess, "Saved")

	svc.Dispose()

	assert.Empty(t, svc.OwnerID())
	assert.Empty(t, svc.State().Items)
	assert.Empty(t, svc.Alerts())
}
