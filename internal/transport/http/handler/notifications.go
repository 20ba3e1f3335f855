package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/liftops-portal/internal/application/notification"
	"github.com/liftops-portal/internal/domain"
	"github.com/liftops-portal/internal/transport/http/middleware"
	"go.uber.org/zap"
)

// Roles allowed to notify a principal other than themselves.
var notifyOthersRoles = []string{"admin", "dispatcher"}

// NotificationHandler exposes the caller's notification session.
type NotificationHandler struct {
	sessions Sessions
	logger   *zap.Logger
}

func NewNotificationHandler(sessions Sessions, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{sessions: sessions, logger: logger}
}

type loadRequest struct {
	Offset int  `json:"offset"`
	Limit  int  `json:"limit"`
	Force  bool `json:"force"`
}

func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	tab, err := notification.ParseTab(r.URL.Query().Get("tab"))
	if err != nil {
		httpError(w, err)
		return
	}
	svc, release, ok := session(w, r, h.sessions)
	if !ok {
		return
	}
	defer release()

	writeJSON(w, http.StatusOK, ListEnvelope{View: svc.List(tab), State: toStateEnvelope(svc.State())})
}

func (h *NotificationHandler) Load(w http.ResponseWriter, r *http.Request) {
	var req loadRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	svc, release, ok := session(w, r, h.sessions)
	if !ok {
		return
	}
	defer release()

	outcome, err := svc.Load(r.Context(), req.Offset, req.Limit, req.Force)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, LoadEnvelope{Outcome: outcome, State: toStateEnvelope(svc.State())})
}

func (h *NotificationHandler) More(w http.ResponseWriter, r *http.Request) {
	svc, release, ok := session(w, r, h.sessions)
	if !ok {
		return
	}
	defer release()

	outcome, err := svc.LoadMore(r.Context())
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, LoadEnvelope{Outcome: outcome, State: toStateEnvelope(svc.State())})
}

func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	svc, release, ok := session(w, r, h.sessions)
	if !ok {
		return
	}
	defer release()

	if err := svc.MarkRead(r.Context(), chi.URLParam(r, "id")); err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStateEnvelope(svc.State()))
}

func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	svc, release, ok := session(w, r, h.sessions)
	if !ok {
		return
	}
	defer release()

	if err := svc.MarkAllRead(r.Context()); err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStateEnvelope(svc.State()))
}

func (h *NotificationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	svc, release, ok := session(w, r, h.sessions)
	if !ok {
		return
	}
	defer release()

	if err := svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStateEnvelope(svc.State()))
}

// Notify creates a notification for the caller, or for another principal
// when the caller is allowed to.
func (h *NotificationHandler) Notify(w http.ResponseWriter, r *http.Request) {
	var req notification.NotifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	claims, found := middleware.ClaimsFromContext(r.Context())
	if !found {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if req.OwnerID != "" && req.OwnerID != claims.UserID && !middleware.HasRole(r.Context(), notifyOthersRoles...) {
		h.logger.Warn("notify for another owner denied",
			zap.String("owner_id", claims.UserID), zap.String("target_id", req.OwnerID), zap.String("role", claims.Role))
		httpError(w, domain.ErrForbidden)
		return
	}
	svc, release, ok := session(w, r, h.sessions)
	if !ok {
		return
	}
	defer release()

	res, err := svc.Notify(r.Context(), req)
	if err != nil {
		httpError(w, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}
