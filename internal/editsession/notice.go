package editsession

import (
	"github.com/clinicdesk/livesync/pkg/records"
)

// NoticeKind classifies what the user should be told.
type NoticeKind int

const (
	// NoticeBlocked means someone else is editing the record.
	NoticeBlocked NoticeKind = iota
	// NoticeSaveFailed means the save callback returned an error; the
	// editor stays open.
	NoticeSaveFailed
)

// String returns the kind name.
func (k NoticeKind) String() string {
	switch k {
	case NoticeBlocked:
		return "blocked"
	case NoticeSaveFailed:
		return "save_failed"
	default:
		return "unknown"
	}
}

// Notice is a non-blocking, user-facing message.
type Notice struct {
	Kind   NoticeKind
	Key    records.RecordKey
	Holder records.Holder
	Err    error
}

// Message renders the notice for display.
func (n Notice) Message() string {
	switch n.Kind {
	case NoticeBlocked:
		return "Cannot edit " + n.Key.String() + ": currently being edited by " + n.Holder.DisplayName() + "."
	case NoticeSaveFailed:
		if n.Err != nil {
			return "Could not save " + n.Key.String() + ": " + n.Err.Error()
		}
		return "Could not save " + n.Key.String() + "."
	}
	return ""
}

// Notifier shows notices to the user.
type Notifier interface {
	Notify(n Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(n Notice)

// Notify calls f(n).
func (f NotifierFunc) Notify(n Notice) { f(n) }

// OutcomeStatus is the result of an edit attempt.
type OutcomeStatus int

const (
	// OutcomeEditing means the editor is open.
	OutcomeEditing OutcomeStatus = iota
	// OutcomeBlocked means another identity holds the lock.
	OutcomeBlocked
	// OutcomeSuperseded means the attempt was cancelled or replaced
	// before it completed.
	OutcomeSuperseded
)

// String returns the status name.
func (s OutcomeStatus) String() string {
	switch s {
	case OutcomeEditing:
		return "editing"
	case OutcomeBlocked:
		return "blocked"
	case OutcomeSuperseded:
		return "superseded"
	default:
		return "unknown"
	}
}

// Outcome reports how AttemptEdit ended.
type Outcome struct {
	Status OutcomeStatus
	Key    records.RecordKey
	Holder records.Holder
	// Locked is false when editing proceeds without a server lock.
	Locked bool
}
