package alerts

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/goccy/go-yaml"
	"github.com/mattn/go-isatty"

	"github.com/clinicdesk/livesync/internal/cmd/output"
)

// FormatWriter writes alerts in the CLI's output format. It is safe for
// concurrent use; notices may arrive from background goroutines.
type FormatWriter struct {
	mu     sync.Mutex
	writer io.Writer
	format output.Format
	config WriterConfig
	closed bool
}

// WriterConfig configures alert output behavior.
type WriterConfig struct {
	ShowTimestamp bool
	ShowDetails   bool
	UseColor      bool
}

// NewFormatWriter creates a new FormatWriter for the specified format.
func NewFormatWriter(w io.Writer, format output.Format) *FormatWriter {
	return &FormatWriter{
		writer: w,
		format: format,
		config: WriterConfig{
			ShowDetails: true,
			UseColor:    isTerminal(w),
		},
	}
}

// WithConfig sets the writer configuration.
func (fw *FormatWriter) WithConfig(config WriterConfig) *FormatWriter {
	fw.config = config
	return fw
}

// WriteAlert writes an alert in the configured format.
func (fw *FormatWriter) WriteAlert(alert *Alert) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.closed {
		return nil
	}

	switch fw.format {
	case output.FormatJSON:
		return json.NewEncoder(fw.writer).Encode(fw.toAlertData(alert))
	case output.FormatYAML:
		data, err := yaml.Marshal(fw.toAlertData(alert))
		if err != nil {
			return err
		}
		if _, err := io.WriteString(fw.writer, "---\n"); err != nil {
			return err
		}
		_, err = fw.writer.Write(data)
		return err
	default:
		return fw.writePlain(alert)
	}
}

// Close makes later writes no-ops. Background notices that race with
// command exit are dropped instead of written to a released writer.
func (fw *FormatWriter) Close() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.closed = true
	return nil
}

// alertData represents alert data for structured output.
type alertData struct {
	Level     string   `json:"level" yaml:"level"`
	Message   string   `json:"message" yaml:"message"`
	Details   []string `json:"details,omitempty" yaml:"details,omitempty"`
	Error     string   `json:"error,omitempty" yaml:"error,omitempty"`
	Timestamp string   `json:"timestamp,omitempty" yaml:"timestamp,omitempty"`
}

func (fw *FormatWriter) toAlertData(alert *Alert) alertData {
	data := alertData{
		Level:   alert.Level.String(),
		Message: alert.Message,
		Details: alert.Details,
	}
	if alert.Err != nil {
		data.Error = alert.Err.Error()
	}
	if fw.config.ShowTimestamp {
		data.Timestamp = alert.Timestamp.Format(time.RFC3339)
	}
	return data
}

func (fw *FormatWriter) writePlain(alert *Alert) error {
	message := alert.String()
	if fw.config.UseColor {
		message = alert.Level.Color() + message + resetColor
	}
	if fw.config.ShowTimestamp {
		message = alert.Timestamp.Format(time.Kitchen) + " " + message
	}

	if _, err := fmt.Fprintln(fw.writer, message); err != nil {
		return err
	}
	if fw.config.ShowDetails {
		for _, detail := range alert.Details {
			if _, err := fmt.Fprintf(fw.writer, "   %s\n", detail); err != nil {
				return err
			}
		}
	}
	return nil
}

// isTerminal checks if the writer is a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
