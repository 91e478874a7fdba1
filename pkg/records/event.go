package records

import (
	"strconv"
	"time"

	"github.com/clinicdesk/livesync/pkg/errors"
)

// EventKind is the mutation a change event reports.
type EventKind string

// Event kinds sent by the server.
const (
	EventCreate EventKind = "create"
	EventUpdate EventKind = "update"
	EventDelete EventKind = "delete"
)

// Valid reports whether the kind is one the server sends.
func (k EventKind) Valid() bool {
	switch k {
	case EventCreate, EventUpdate, EventDelete:
		return true
	}
	return false
}

// ChangeEvent is a server-side mutation pushed on the realtime channel.
// Events are transient: they are dispatched, never stored.
type ChangeEvent struct {
	Kind     EventKind      `json:"event"`
	Resource string         `json:"resource"`
	Data     map[string]any `json:"data"`
}

// Validate checks that the event can be routed.
func (e ChangeEvent) Validate() error {
	if e.Resource == "" {
		return errors.NewValidationError("resource", e.Resource, "change event has no resource")
	}
	if !e.Kind.Valid() {
		return errors.NewValidationError("event", string(e.Kind), "change event has unknown kind "+strconv.Quote(string(e.Kind)))
	}
	return nil
}

// RecordID returns the id of the affected record, or "" when the payload has none.
func (e ChangeEvent) RecordID() string {
	if e.Data == nil {
		return ""
	}
	return FormatID(e.Data["id"])
}

// Key returns the affected record's key.
func (e ChangeEvent) Key() RecordKey {
	return RecordKey{Resource: e.Resource, ID: e.RecordID()}
}

// Touches reports whether the event concerns the given record.
func (e ChangeEvent) Touches(key RecordKey) bool {
	return e.Resource == key.Resource && e.RecordID() != "" && e.RecordID() == key.ID
}

// LockToken marks one local ownership claim on a record lock.
type LockToken struct {
	Key        RecordKey
	AcquiredAt time.Time
}
