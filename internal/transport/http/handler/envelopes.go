package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/liftops-portal/internal/application/notification"
	"github.com/liftops-portal/internal/domain"
	"github.com/liftops-portal/internal/transport/http/middleware"
)

// Sessions hands out the per-principal notification session.
type Sessions interface {
	Acquire(ctx context.Context, ownerID string) (notification.Service, func(), error)
}

// MessageEnvelope is the generic response wrapper.
type MessageEnvelope struct {
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// StateEnvelope summarizes the cache without its entries.
type StateEnvelope struct {
	Status       notification.Status `json:"status"`
	UnreadCount  int                 `json:"unread_count"`
	Total        int                 `json:"total"`
	HasMore      bool                `json:"has_more"`
	Version      uint64              `json:"version"`
	LastLoadedAt *time.Time          `json:"last_loaded_at,omitempty"`
	Error        string              `json:"error,omitempty"`
}

// ListEnvelope is the grouped notification list for one tab.
type ListEnvelope struct {
	notification.View
	State StateEnvelope `json:"state"`
}

// LoadEnvelope reports a page load.
type LoadEnvelope struct {
	Outcome notification.LoadOutcome `json:"outcome"`
	State   StateEnvelope            `json:"state"`
}

func toStateEnvelope(st notification.State) StateEnvelope {
	env := StateEnvelope{
		Status:      st.Status,
		UnreadCount: st.UnreadCount,
		Total:       len(st.Items),
		HasMore:     st.HasMore,
		Version:     st.Version,
	}
	if !st.LastLoadedAt.IsZero() {
		at := st.LastLoadedAt
		env.LastLoadedAt = &at
	}
	if st.Err != nil {
		env.Error = domain.UserMessage(st.Err, "Could not load notifications")
	}
	return env
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, MessageEnvelope{Error: msg})
}

// httpError maps domain errors to status codes. Rejection messages come from
// the remote store and are shown verbatim; transport details are not.
func httpError(w http.ResponseWriter, err error) {
	var re *domain.RejectionError
	switch {
	case errors.As(err, &re):
		writeError(w, http.StatusUnprocessableEntity, domain.UserMessage(err, "Request rejected"))
	case domain.IsTransport(err):
		writeJSON(w, http.StatusBadGateway, MessageEnvelope{Error: "notification store unavailable", Retryable: true})
	case errors.Is(err, domain.ErrBadRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrNotInitialized):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// session resolves the caller's notification session. On failure it has
// already written the response and ok is false.
func session(w http.ResponseWriter, r *http.Request, sessions Sessions) (svc notification.Service, release func(), ok bool) {
	claims, found := middleware.ClaimsFromContext(r.Context())
	if !found {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return nil, nil, false
	}
	svc, release, err := sessions.Acquire(r.Context(), claims.UserID)
	if err != nil {
		httpError(w, err)
		return nil, nil, false
	}
	return svc, release, true
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
