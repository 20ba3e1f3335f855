package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/liftops-portal/internal/config"
	"github.com/liftops-portal/internal/transport/http/handler"
	appmiddleware "github.com/liftops-portal/internal/transport/http/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Deps holds the collaborators the router wires into handlers.
type Deps struct {
	Sessions handler.Sessions
	Verifier appmiddleware.TokenVerifier
	Checks   map[string]handler.Checker
	Logger   *zap.Logger
}

// NewRouter builds and returns the portal router. Background goroutines it
// starts stop when ctx is cancelled.
func NewRouter(ctx context.Context, cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	if cfg.TrustProxy {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(appmiddleware.RequestLogger(deps.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	rps := rate.Limit(cfg.MutationRateLimitRPS)
	mutationRL := appmiddleware.NewRateLimiter(ctx, rps, max(int(2*cfg.MutationRateLimitRPS), 1))

	healthH := handler.NewHealthHandler(deps.Checks)
	notifH := handler.NewNotificationHandler(deps.Sessions, deps.Logger)
	alertH := handler.NewAlertHandler(deps.Sessions)
	presenceH := handler.NewPresenceHandler(deps.Sessions)
	eventsH := handler.NewEventsHandler(deps.Sessions, deps.Logger)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		// ── Public routes (no auth) ──────────────────────────────────────────
		r.Get("/health-check/{action}", healthH.Ping)

		// ── Authenticated routes ─────────────────────────────────────────────
		r.Group(func(r chi.Router) {
			r.Use(appmiddleware.Auth(deps.Verifier))

			r.Get("/notifications", notifH.List)
			r.Get("/notifications/events", eventsH.Stream)
			r.Post("/notifications/load", notifH.Load)
			r.Post("/notifications/more", notifH.More)
			r.Get("/alerts", alertH.List)
			r.Post("/alerts", alertH.Emit)
			r.Delete("/alerts/{id}", alertH.Dismiss)
			r.Post("/presence", presenceH.Update)

			r.Group(func(r chi.Router) {
				r.Use(mutationRL.Limit)

				r.Post("/notifications", notifH.Notify)
				r.Put("/notifications/{id}/read", notifH.MarkRead)
				r.Post("/notifications/read-all", notifH.MarkAllRead)
				r.Delete("/notifications/{id}", notifH.Delete)
			})
		})
	})

	return r
}
