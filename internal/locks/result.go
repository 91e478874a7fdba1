package locks

import (
	"time"

	"github.com/clinicdesk/livesync/pkg/records"
)

// AcquireStatus is the outcome of an acquire request.
type AcquireStatus int

const (
	// Acquired means the server granted the lock to the caller.
	Acquired AcquireStatus = iota
	// Conflict means another identity holds the lock.
	Conflict
	// Unsupported means the resource has no lock endpoint or the request
	// failed. Editing proceeds without a lock.
	Unsupported
)

// String returns the status name.
func (s AcquireStatus) String() string {
	switch s {
	case Acquired:
		return "acquired"
	case Conflict:
		return "conflict"
	case Unsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// AcquireResult reports whether editing may proceed.
type AcquireResult struct {
	Status AcquireStatus
	Holder records.Holder
}

// OK reports whether the caller may edit. Unsupported counts as OK.
func (r AcquireResult) OK() bool {
	return r.Status != Conflict
}

// Unsupported reports whether the grant came without a server lock.
func (r AcquireResult) Unsupported() bool {
	return r.Status == Unsupported
}

// CheckResult is the lock state as observed by a status query.
type CheckResult struct {
	Locked   bool
	Holder   records.Holder
	LockedAt time.Time
}

// lockBody is the wire shape of lock responses.
type lockBody struct {
	Locked   bool           `json:"locked"`
	LockedBy records.Holder `json:"lockedBy"`
	LockedAt float64        `json:"lockedAt"`
	Released bool           `json:"released"`
}

func (b lockBody) lockedAt() time.Time {
	if b.LockedAt <= 0 {
		return time.Time{}
	}
	sec := int64(b.LockedAt)
	nsec := int64((b.LockedAt - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec)
}
