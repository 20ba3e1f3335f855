package notification

import (
	"context"
	"time"

	"github.com/liftops-portal/internal/domain"
)

// Remote is the minimal interface the engine requires from the hosted
// notification store. Business failures come back as *domain.RejectionError,
// network/auth failures as *domain.TransportError.
type Remote interface {
	FetchPage(ctx context.Context, ownerID string, pageSize, pageNumber int) (*domain.Page, error)
	MarkRead(ctx context.Context, ownerID string, ids []string) error
	Delete(ctx context.Context, ownerID, notificationID string) error
	CreateIfEnabled(ctx context.Context, ownerID string, category domain.Category, payload domain.NotificationPayload) (domain.CreateResult, error)
}

// pageFetcher is the slice of Remote the Store needs.
type pageFetcher interface {
	FetchPage(ctx context.Context, ownerID string, pageSize, pageNumber int) (*domain.Page, error)
}

// mutationRemote is the slice of Remote the Coordinator needs.
type mutationRemote interface {
	MarkRead(ctx context.Context, ownerID string, ids []string) error
	Delete(ctx context.Context, ownerID, notificationID string) error
}

// EventStream opens an owner-scoped push subscription.
type EventStream interface {
	Subscribe(ctx context.Context, ownerID string) (Subscription, error)
}

// Subscription is one live push feed. Events is closed when the feed ends;
// Err then reports why (nil after Close).
type Subscription interface {
	Events() <-chan domain.Event
	Err() error
	Close() error
}

// AlertSink receives cross-channel alerts. alert.Service satisfies it.
type AlertSink interface {
	Emit(kind domain.AlertKind, content string) string
}

// Config tunes the synchronization engine.
type Config struct {
	PageSize             int
	MinLoadInterval      time.Duration // minimum spacing of non-forced loads
	FallbackPollInterval time.Duration // forced refresh cadence while visible; 0 disables
	ResyncDebounce       time.Duration // collapses visibility/focus bursts
	ResubscribeBackoff   time.Duration // first retry delay after the stream drops
	MaxResubscribeDelay  time.Duration
	Clock                func() time.Time
}

// DefaultConfig returns the reference tuning.
func DefaultConfig() Config {
	return Config{
		PageSize:             20,
		MinLoadInterval:      1500 * time.Millisecond,
		FallbackPollInterval: 5 * time.Minute,
		ResyncDebounce:       200 * time.Millisecond,
		ResubscribeBackoff:   time.Second,
		MaxResubscribeDelay:  30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PageSize <= 0 {
		c.PageSize = d.PageSize
	}
	if c.ResubscribeBackoff <= 0 {
		c.ResubscribeBackoff = d.ResubscribeBackoff
	}
	if c.MaxResubscribeDelay < c.ResubscribeBackoff {
		c.MaxResubscribeDelay = c.ResubscribeBackoff
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}
