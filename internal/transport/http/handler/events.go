package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/liftops-portal/internal/application/alert"
	"github.com/liftops-portal/internal/application/notification"
	"go.uber.org/zap"
)

const heartbeatInterval = 25 * time.Second

// EventsHandler streams the caller's state changes and alerts as
// server-sent events.
type EventsHandler struct {
	sessions  Sessions
	logger    *zap.Logger
	heartbeat time.Duration
}

func NewEventsHandler(sessions Sessions, logger *zap.Logger) *EventsHandler {
	return &EventsHandler{sessions: sessions, logger: logger, heartbeat: heartbeatInterval}
}

// Stream sends a "state" event on connect and after every cache change
// (coalesced: a slow client only sees the latest), and an "alert" event per
// alert shown, dismissed or expired.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	svc, release, ok := session(w, r, h.sessions)
	if !ok {
		return
	}
	defer release()

	// The server write timeout does not apply to a long-lived stream.
	_ = rc.SetWriteDeadline(time.Time{})

	changed := make(chan struct{}, 1)
	alerts := make(chan alert.Event, 32)
	cancelState := svc.Subscribe(func(notification.State) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer cancelState()
	cancelAlerts := svc.SubscribeAlerts(func(ev alert.Event) {
		select {
		case alerts <- ev:
		default:
			h.logger.Warn("alert event dropped for slow stream client", zap.String("alert_id", ev.Alert.ID))
		}
	})
	defer cancelAlerts()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	var lastVersion uint64
	sendState := func() error {
		st := svc.State()
		if st.Version == lastVersion && lastVersion != 0 {
			return nil
		}
		lastVersion = st.Version
		return writeEvent(w, "state", toStateEnvelope(st))
	}
	if err := sendState(); err != nil {
		return
	}
	for _, a := range svc.Alerts() {
		if err := writeEvent(w, "alert", alert.Event{Type: alert.EventShown, Alert: a}); err != nil {
			return
		}
	}
	if rc.Flush() != nil {
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		var err error
		select {
		case <-r.Context().Done():
			return
		case <-changed:
			err = sendState()
		case ev := <-alerts:
			err = writeEvent(w, "alert", ev)
		case <-ticker.C:
			_, err = fmt.Fprint(w, ": ping\n\n")
		}
		if err == nil {
			err = rc.Flush()
		}
		if err != nil {
			h.logger.Debug("event stream closed", zap.Error(err))
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}
