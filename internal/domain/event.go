package domain

import (
	"encoding/json"
	"fmt"
)

// EventOp is the kind of change carried by a push event.
type EventOp string

const (
	OpInsert EventOp = "insert"
	OpUpdate EventOp = "update"
	OpDelete EventOp = "delete"
)

// Event is one change from the owner-scoped push stream. Delete events only
// need Record.ID. An update built in process without a Patch treats Record as
// the full new row; DecodeEvent always fills Patch for updates.
type Event struct {
	Op     EventOp            `json:"op"`
	Record Notification       `json:"record"`
	Patch  *NotificationPatch `json:"patch,omitempty"`
}

// OwnerID is the principal the event belongs to.
func (e Event) OwnerID() string { return e.Record.OwnerID }

// EncodeEvent is the wire codec shared by every stream transport.
func EncodeEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEvent parses and validates a wire event. An update without an
// explicit patch gets one holding only the fields present in its record, so
// a partial record never clears fields it does not mention.
func DecodeEvent(data []byte) (Event, error) {
	var wire struct {
		Event
		RawRecord json.RawMessage `json:"record"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	e := wire.Event
	if len(wire.RawRecord) > 0 {
		if err := json.Unmarshal(wire.RawRecord, &e.Record); err != nil {
			return Event{}, fmt.Errorf("decode event record: %w", err)
		}
	}
	switch e.Op {
	case OpInsert, OpUpdate, OpDelete:
	default:
		return Event{}, fmt.Errorf("decode event: unknown op %q: %w", e.Op, ErrBadRequest)
	}
	if e.Record.ID == "" {
		return Event{}, fmt.Errorf("decode event: missing record id: %w", ErrBadRequest)
	}
	if e.Op == OpUpdate && e.Patch == nil {
		var p NotificationPatch
		if err := json.Unmarshal(wire.RawRecord, &p); err != nil {
			return Event{}, fmt.Errorf("decode event patch: %w", err)
		}
		e.Patch = &p
	}
	return e, nil
}
