package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/liftops-portal/internal/domain"
)

// AlertHandler exposes the caller's ephemeral alert channel.
type AlertHandler struct {
	sessions Sessions
}

func NewAlertHandler(sessions Sessions) *AlertHandler { return &AlertHandler{sessions: sessions} }

type emitRequest struct {
	Kind    string `json:"kind"`
	Content string `json:"content"`
}

type emitResponse struct {
	ID string `json:"id"`
}

func (h *AlertHandler) List(w http.ResponseWriter, r *http.Request) {
	svc, release, ok := session(w, r, h.sessions)
	if !ok {
		return
	}
	defer release()

	writeJSON(w, http.StatusOK, svc.Alerts())
}

func (h *AlertHandler) Emit(w http.ResponseWriter, r *http.Request) {
	var req emitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	kind, err := domain.ParseAlertKind(req.Kind)
	if err != nil {
		httpError(w, err)
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	svc, release, ok := session(w, r, h.sessions)
	if !ok {
		return
	}
	defer release()

	writeJSON(w, http.StatusCreated, emitResponse{ID: svc.Emit(kind, req.Content)})
}

func (h *AlertHandler) Dismiss(w http.ResponseWriter, r *http.Request) {
	svc, release, ok := session(w, r, h.sessions)
	if !ok {
		return
	}
	defer release()

	if !svc.Dismiss(chi.URLParam(r, "id")) {
		writeError(w, http.StatusNotFound, "alert not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
