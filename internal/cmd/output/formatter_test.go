package output

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicdesk/livesync/internal/locks"
	"github.com/clinicdesk/livesync/pkg/records"
)

func TestParseFormat(t *testing.T) {
	for _, in := range []string{"table", "JSON", "yaml", ""} {
		_, err := ParseFormat(in)
		assert.NoError(t, err, in)
	}
	_, err := ParseFormat("csv")
	assert.Error(t, err)
}

func TestDetectFormatExplicit(t *testing.T) {
	assert.Equal(t, FormatYAML, DetectFormat("YAML"))
}

func TestTableFormatterData(t *testing.T) {
	var buf bytes.Buffer
	data := Data{Headers: []string{"Record", "Locked"}, Rows: [][]string{{"users/5", "yes"}}}
	require.NoError(t, NewFormatter(FormatTable).Format(&buf, data))

	out := buf.String()
	assert.Contains(t, strings.ToUpper(out), "RECORD")
	assert.Contains(t, out, "users/5")
}

func TestTableFormatterStructs(t *testing.T) {
	var buf bytes.Buffer
	statuses := []LockStatus{{Record: "pacientes/9", Locked: true, LockedBy: "alice"}}
	require.NoError(t, NewFormatter(FormatTable).Format(&buf, statuses))
	assert.Contains(t, buf.String(), "alice")
}

func TestJSONAndYAML(t *testing.T) {
	status := LockStatus{Record: "users/5", Locked: true, LockedBy: "alice"}

	var j bytes.Buffer
	require.NoError(t, NewFormatter(FormatJSON).Format(&j, status))
	assert.Contains(t, j.String(), `"lockedBy": "alice"`)

	var y bytes.Buffer
	require.NoError(t, NewFormatter(FormatYAML).Format(&y, status))
	assert.Contains(t, y.String(), "lockedBy: alice")
}

func TestNewLockStatus(t *testing.T) {
	key := records.NewKey(records.ResourceUsers, 5)

	free := NewLockStatus(key, locks.CheckResult{})
	assert.Equal(t, LockStatus{Record: "users/5"}, free)

	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	held := NewLockStatus(key, locks.CheckResult{
		Locked:   true,
		Holder:   records.KnownHolder(records.Identity{ID: "1", Name: "alice"}),
		LockedAt: at,
	})
	assert.Equal(t, "alice", held.LockedBy)
	assert.Equal(t, "2026-03-01T10:00:00Z", held.LockedAt)

	unknown := NewLockStatus(key, locks.CheckResult{Locked: true, Holder: records.UnknownHolder()})
	assert.Equal(t, "another user", unknown.LockedBy)
}

func TestWriteEventLine(t *testing.T) {
	var buf bytes.Buffer
	e := records.ChangeEvent{
		Kind:     records.EventUpdate,
		Resource: records.ResourceAtenciones,
		Data:     map[string]any{"id": "T1", "estado": "cerrada"},
	}
	require.NoError(t, WriteEvent(&buf, FormatTable, NewEvent(e, time.Unix(0, 0))))

	line := buf.String()
	assert.Contains(t, line, "update")
	assert.Contains(t, line, "T1")
	assert.Contains(t, line, "estado=cerrada id=T1")
	assert.True(t, strings.HasSuffix(line, "\n"))
}
