package output

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/clinicdesk/livesync/internal/locks"
	"github.com/clinicdesk/livesync/pkg/records"
)

// LockStatus is the printable form of a lock check.
type LockStatus struct {
	Record   string `json:"record" yaml:"record"`
	Locked   bool   `json:"locked" yaml:"locked"`
	LockedBy string `json:"lockedBy,omitempty" yaml:"lockedBy,omitempty"`
	LockedAt string `json:"lockedAt,omitempty" yaml:"lockedAt,omitempty"`
}

// NewLockStatus converts a lock check into its printable form.
func NewLockStatus(key records.RecordKey, res locks.CheckResult) LockStatus {
	s := LockStatus{Record: key.String(), Locked: res.Locked}
	if res.Locked {
		s.LockedBy = res.Holder.DisplayName()
		if !res.LockedAt.IsZero() {
			s.LockedAt = res.LockedAt.UTC().Format(time.RFC3339)
		}
	}
	return s
}

// LockStatusToTableData converts lock statuses to table format.
func LockStatusToTableData(statuses []LockStatus) Data {
	rows := make([][]string, 0, len(statuses))
	for _, s := range statuses {
		by, at := "-", "-"
		if s.LockedBy != "" {
			by = s.LockedBy
		}
		if s.LockedAt != "" {
			at = s.LockedAt
		}
		rows = append(rows, []string{s.Record, yesNo(s.Locked), by, at})
	}
	return Data{
		Headers:         []string{"Record", "Locked", "Locked By", "Locked At"},
		Rows:            rows,
		ColumnAlignment: []Align{AlignLeft, AlignCenter, AlignLeft, AlignLeft},
	}
}

// TokensToTableData converts held lock tokens to table format.
func TokensToTableData(tokens []records.LockToken) Data {
	rows := make([][]string, 0, len(tokens))
	for _, tok := range tokens {
		rows = append(rows, []string{tok.Key.String(), tok.AcquiredAt.UTC().Format(time.RFC3339)})
	}
	return Data{Headers: []string{"Record", "Acquired At"}, Rows: rows}
}

// Event is the printable form of a change event.
type Event struct {
	Received string         `json:"received" yaml:"received"`
	Kind     string         `json:"event" yaml:"event"`
	Resource string         `json:"resource" yaml:"resource"`
	ID       string         `json:"id,omitempty" yaml:"id,omitempty"`
	Data     map[string]any `json:"data,omitempty" yaml:"data,omitempty"`
}

// NewEvent converts a change event into its printable form.
func NewEvent(e records.ChangeEvent, at time.Time) Event {
	return Event{
		Received: at.UTC().Format(time.RFC3339),
		Kind:     string(e.Kind),
		Resource: e.Resource,
		ID:       e.RecordID(),
		Data:     e.Data,
	}
}

// WriteEvent prints a single event as it arrives. Table format prints one
// line per event instead of a bordered table.
func WriteEvent(w io.Writer, format Format, e Event) error {
	switch format {
	case FormatJSON:
		return (&JSONFormatter{}).Format(w, e)
	case FormatYAML:
		if _, err := io.WriteString(w, "---\n"); err != nil {
			return err
		}
		return (&YAMLFormatter{}).Format(w, e)
	default:
		_, err := fmt.Fprintf(w, "%s  %-6s  %-12s  %s  %s\n", e.Received, e.Kind, e.Resource, orDash(e.ID), summarize(e.Data))
		return err
	}
}

// summarize renders a payload as sorted key=value pairs.
func summarize(data map[string]any) string {
	if len(data) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, data[k]))
	}
	return strings.Join(parts, " ")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
