package domain

import (
	"fmt"
	"time"
)

// AlertKind is the severity of an ephemeral alert.
type AlertKind string

const (
	AlertSuccess AlertKind = "success"
	AlertError   AlertKind = "error"
	AlertInfo    AlertKind = "info"
	AlertWarning AlertKind = "warning"
)

// ParseAlertKind validates a user-supplied kind.
func ParseAlertKind(s string) (AlertKind, error) {
	switch k := AlertKind(s); k {
	case AlertSuccess, AlertError, AlertInfo, AlertWarning:
		return k, nil
	}
	return "", fmt.Errorf("alert kind %q: %w", s, ErrBadRequest)
}

// Alert is a client-only transient message. It is never persisted.
type Alert struct {
	ID        string        `json:"id"`
	Kind      AlertKind     `json:"kind"`
	Content   string        `json:"content"`
	TTL       time.Duration `json:"-"`
	CreatedAt time.Time     `json:"created_at"`
}

// ExpiresAt is the instant the alert auto-dismisses. Zero TTL never expires.
func (a Alert) ExpiresAt() time.Time {
	if a.TTL <= 0 {
		return time.Time{}
	}
	return a.CreatedAt.Add(a.TTL)
}
