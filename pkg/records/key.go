package records

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/clinicdesk/livesync/pkg/errors"
)

// Wildcard subscribes to change events of every resource type.
const Wildcard = "*"

// Lockable resource types exposed by the clinic API.
const (
	ResourceUsers      = "users"
	ResourcePacientes  = "pacientes"
	ResourceAtenciones = "atenciones"
	ResourceRoles      = "roles"
	ResourceServicios  = "servicios"
)

// LockableResources lists the resource types whose records expose lock endpoints.
var LockableResources = []string{
	ResourceUsers,
	ResourcePacientes,
	ResourceAtenciones,
	ResourceRoles,
	ResourceServicios,
}

// RecordKey identifies a lockable or observable record. Keys compare by value.
type RecordKey struct {
	Resource string
	ID       string
}

// NewKey builds a key from a resource type and an id of any scalar type.
func NewKey(resource string, id any) RecordKey {
	return RecordKey{Resource: resource, ID: FormatID(id)}
}

// ParseKey parses the "resource/id" form produced by String.
func ParseKey(s string) (RecordKey, error) {
	resource, id, ok := strings.Cut(s, "/")
	if !ok || resource == "" || id == "" {
		return RecordKey{}, errors.NewValidationError("record", s, "invalid record key "+strconv.Quote(s)+": want resource/id")
	}
	return RecordKey{Resource: resource, ID: id}, nil
}

// String returns "resource/id".
func (k RecordKey) String() string {
	return k.Resource + "/" + k.ID
}

// IsZero reports whether the key is unset.
func (k RecordKey) IsZero() bool {
	return k.Resource == "" && k.ID == ""
}

// Valid reports whether both parts of the key are present.
func (k RecordKey) Valid() bool {
	return k.Resource != "" && k.ID != "" && k.Resource != Wildcard
}

// LockPath returns the lock endpoint path for the record.
func (k RecordKey) LockPath() string {
	return "/" + url.PathEscape(k.Resource) + "/" + url.PathEscape(k.ID) + "/lock"
}

// FormatID renders an id value the way the server compares ids: as a string.
// JSON numbers arrive as float64 and are rendered without a fraction.
func FormatID(id any) string {
	switch v := id.(type) {
	case nil:
		return ""
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}
