package application

import (
	"github.com/rs/zerolog"

	"github.com/clinicdesk/livesync"
)

// Mock provides a mock implementation of Application for testing.
// Each method can be customized by setting the corresponding function field.
// If a function field is nil, the method returns a default/zero value.
//
//	mock := &application.Mock{
//	    ClientFunc: func() (livesync.Client, error) {
//	        return client, nil
//	    },
//	}
//	cmd := lock.NewCommand(mock)
type Mock struct {
	ClientFunc       func() (livesync.Client, error)
	LoggerFunc       func() *zerolog.Logger
	OutputFormatFunc func() string
	CredentialsFunc  func() (string, string)
	VersionFunc      func() string
	CommitFunc       func() string
	DateFunc         func() string
	BuiltByFunc      func() string
}

// Client returns a client using the mock function or nil.
func (m *Mock) Client() (livesync.Client, error) {
	if m.ClientFunc != nil {
		return m.ClientFunc()
	}
	return nil, nil
}

// Logger returns a logger using the mock function or a no-op logger.
func (m *Mock) Logger() *zerolog.Logger {
	if m.LoggerFunc != nil {
		return m.LoggerFunc()
	}
	logger := zerolog.Nop()
	return &logger
}

// OutputFormat returns the format using the mock function or "table".
func (m *Mock) OutputFormat() string {
	if m.OutputFormatFunc != nil {
		return m.OutputFormatFunc()
	}
	return "table"
}

// Credentials returns credentials using the mock function or empty strings.
func (m *Mock) Credentials() (string, string) {
	if m.CredentialsFunc != nil {
		return m.CredentialsFunc()
	}
	return "", ""
}

// Version returns version using the mock function or "dev".
func (m *Mock) Version() string {
	if m.VersionFunc != nil {
		return m.VersionFunc()
	}
	return "dev"
}

// Commit returns commit using the mock function or "unknown".
func (m *Mock) Commit() string {
	if m.CommitFunc != nil {
		return m.CommitFunc()
	}
	return "unknown"
}

// Date returns date using the mock function or "unknown".
func (m *Mock) Date() string {
	if m.DateFunc != nil {
		return m.DateFunc()
	}
	return "unknown"
}

// BuiltBy returns builtBy using the mock function or "test".
func (m *Mock) BuiltBy() string {
	if m.BuiltByFunc != nil {
		return m.BuiltByFunc()
	}
	return "test"
}

// Ensure Mock implements Application at compile time.
var _ Application = (*Mock)(nil)
