package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/liftops-portal/internal/application/notification"
	"github.com/liftops-portal/internal/domain"
	jwtinfra "github.com/liftops-portal/internal/infrastructure/jwt"
	"github.com/liftops-portal/internal/transport/http/middleware"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// --- mocks ---

type mockRemote struct{ mock.Mock }

func (m *mockRemote) FetchPage(ctx context.Context, ownerID string, pageSize, pageNumber int) (*domain.Page, error) {
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

type fakeSessions struct {
	svc notification.Service
	err error
}

func (f *fakeSessions) Acquire(context.Context, string) (notification.Service, func(), error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.svc, func() {}, nil
}

// --- helpers ---

const principal = "tech-7"

func item(id string, read, important bool) domain.Notification {
	return domain.Notification{
		ID:        id,
		OwnerID:   principal,
		Category:  domain.CategoryMaintenance,
		Title:     "Work order " + id,
		Read:      read,
		Important: important,
		CreatedAt: time.Now(),
	}
}

// newSession returns an initialized session whose first page is items.
func newSession(t *testing.T, remote *mockRemote, items ...domain.Notification) *fakeSessions {
	t.Helper()
	unread := 0
	for _, n := range items {
		if !n.Read {
			unread++
		}
	}
	remote.On("FetchPage", mock.Anything, principal, 20, 0).
		Return(&domain.Page{Items: items, UnreadCount: unread}, nil).Once()
	svc := notification.NewService(notification.ServiceDeps{Remote: remote, Logger: zap.NewNop()})
	require.NoError(t, svc.Init(context.Background(), principal))
	t.Cleanup(svc.Dispose)
	return &fakeSessions{svc: svc}
}

// authed builds a request carrying claims for principal with role.
func authed(method, target, role string, body []byte) *http.Request {
	var r *http.Request
	if body != nil {
		r = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	claims := &jwtinfra.Claims{UserID: principal, Role: role}
	return r.WithContext(context.WithValue(r.Context(), middleware.ClaimsKey, claims))
}

// withChiID injects a chi URL param "id" into the request context.
func withChiID(r *http.Request, id string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}
