package domain

import "time"

// Category classifies a durable notification. Each category has a matching
// per-owner settings key.
type Category string

const (
	CategorySystem      Category = "system"
	CategoryElevator    Category = "elevator"
	CategoryMaintenance Category = "maintenance"
	CategoryProfile     Category = "profile"
)

// Categories lists every known category in display order.
var Categories = []Category{CategorySystem, CategoryElevator, CategoryMaintenance, CategoryProfile}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// RelatedEntity points at the record a notification is about (an elevator,
// a maintenance record, a building).
type RelatedEntity struct {
	Type string `json:"type" dynamodbav:"type"`
	ID   string `json:"id" dynamodbav:"id"`
}

// Notification is a server-persisted notification mirrored in the local cache.
// ReadAt is set iff Read is true.
type Notification struct {
	ID            string         `json:"id" dynamodbav:"notification_id"`
	OwnerID       string         `json:"user_id" dynamodbav:"user_id"`
	Category      Category       `json:"type" dynamodbav:"type"`
	Title         string         `json:"title" dynamodbav:"title"`
	Body          string         `json:"message" dynamodbav:"message"`
	Link          *string        `json:"link,omitempty" dynamodbav:"link,omitempty"`
	Read          bool           `json:"read" dynamodbav:"read"`
	Important     bool           `json:"important" dynamodbav:"important"`
	CreatedAt     time.Time      `json:"created_at" dynamodbav:"created_at"`
	ReadAt        *time.Time     `json:"read_at,omitempty" dynamodbav:"read_at,omitempty"`
	RelatedEntity *RelatedEntity `json:"related_entity,omitempty" dynamodbav:"related_entity,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty" dynamodbav:"metadata,omitempty"`
}

// Clone returns a deep-enough copy so callers can hold it without sharing
// pointers with the cache.
func (n Notification) Clone() Notification {
	out := n
	if n.Link != nil {
		l := *n.Link
		out.Link = &l
	}
	if n.ReadAt != nil {
		t := *n.ReadAt
		out.ReadAt = &t
	}
	if n.RelatedEntity != nil {
		re := *n.RelatedEntity
		out.RelatedEntity = &re
	}
	if n.Metadata != nil {
		out.Metadata = make(map[string]any, len(n.Metadata))
		for k, v := range n.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// NotificationPatch is a partial update. Nil fields are left untouched.
type NotificationPatch struct {
	Read      *bool          `json:"read,omitempty"`
	ReadAt    *time.Time     `json:"read_at,omitempty"`
	Important *bool          `json:"important,omitempty"`
	Title     *string        `json:"title,omitempty"`
	Body      *string        `json:"message,omitempty"`
	Link      *string        `json:"link,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// PatchFromRecord builds a patch that overwrites every mutable field with the
// values carried by a full record.
func PatchFromRecord(n Notification) NotificationPatch {
	read := n.Read
	important := n.Important
	title := n.Title
	body := n.Body
	p := NotificationPatch{
		Read:      &read,
		Important: &important,
		Title:     &title,
		Body:      &body,
		Metadata:  n.Metadata,
	}
	if n.ReadAt != nil {
		t := *n.ReadAt
		p.ReadAt = &t
	}
	if n.Link != nil {
		l := *n.Link
		p.Link = &l
	}
	return p
}

// NotificationPayload is the content of a notification to be created upstream.
type NotificationPayload struct {
	Title         string         `json:"title"`
	Body          string         `json:"message"`
	Link          *string        `json:"link,omitempty"`
	Important     bool           `json:"important"`
	RelatedEntity *RelatedEntity `json:"related_entity,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// CreateResult is the outcome of a create-if-enabled call. TypeDisabled is set
// when the owner's settings suppressed the category; no record exists then.
type CreateResult struct {
	Created      bool          `json:"success"`
	TypeDisabled bool          `json:"type_disabled,omitempty"`
	Notification *Notification `json:"notification,omitempty"`
}

// Page is one page of the owner's notifications, newest first. UnreadCount is
// the server-side total, not the count within Items.
type Page struct {
	Items       []Notification        `json:"items"`
	UnreadCount int                   `json:"unread_count"`
	Settings    *NotificationSettings `json:"settings,omitempty"`
}
