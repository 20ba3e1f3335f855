package handler

import (
	"net/http"
)

// PresenceHandler forwards page visibility and focus from the browser tab.
type PresenceHandler struct {
	sessions Sessions
}

func NewPresenceHandler(sessions Sessions) *PresenceHandler { return &PresenceHandler{sessions: sessions} }

type presenceRequest struct {
	Visible *bool `json:"visible"`
	Focused bool  `json:"focused"`
}

func (h *PresenceHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req presenceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	svc, release, ok := session(w, r, h.sessions)
	if !ok {
		return
	}
	defer release()

	if req.Visible != nil {
		svc.VisibilityChanged(*req.Visible)
	}
	if req.Focused {
		svc.Focused()
	}
	w.WriteHeader(http.StatusAccepted)
}
