// Package logging provides structured logging for livesync using zerolog.
// It offers human-readable console output when attached to a terminal and
// structured JSON output otherwise.
//
// Example usage:
//
//	log := logging.Default()
//	log.Info().Str("resource", "pacientes").Msg("Subscribed")
//
//	ctx := logging.WithLogger(context.Background(), log)
//	ctx = logging.WithRecord(ctx, "atenciones", "T1")
//	logging.FromContext(ctx).Debug().Msg("Acquiring lock")
package logging

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// defaultLogger is the global logger instance.
var defaultLogger zerolog.Logger

func init() {
	ConfigureFromEnv()
}

// Default returns the default global logger.
func Default() *zerolog.Logger {
	return &defaultLogger
}

// SetDefault sets the default global logger.
func SetDefault(logger zerolog.Logger) {
	defaultLogger = logger
	log.Logger = logger // Also update zerolog's global logger
}
