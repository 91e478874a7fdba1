package logging_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/clinicdesk/livesync/pkg/logging"
)

func TestContextFunctions(t *testing.T) {
	t.Run("WithRecord adds resource and id", func(t *testing.T) {
		testLogger := logging.NewTestLogger(t)
		ctx := logging.WithLogger(context.Background(), testLogger.Logger)
		ctx = logging.WithRecord(ctx, "atenciones", "T1")

		logging.FromContext(ctx).Info().Msg("acquiring")

		testLogger.AssertContains(t, `"resource":"atenciones"`)
		testLogger.AssertContains(t, `"record_id":"T1"`)
	})

	t.Run("WithSession adds session id", func(t *testing.T) {
		testLogger := logging.NewTestLogger(t)
		ctx := logging.WithLogger(context.Background(), testLogger.Logger)
		ctx = logging.WithSession(ctx, "01HZX")

		logging.Ctx(ctx).Info().Msg("editing")

		testLogger.AssertContains(t, `"session_id":"01HZX"`)
	})

	t.Run("FromContext falls back to default", func(t *testing.T) {
		assert.Equal(t, logging.Default(), logging.FromContext(context.Background()))
		//nolint:staticcheck // nil context is handled on purpose
		assert.Equal(t, logging.Default(), logging.FromContext(nil))
	})

	t.Run("WithField converts errors", func(t *testing.T) {
		testLogger := logging.NewTestLogger(t)
		ctx := logging.WithLogger(context.Background(), testLogger.Logger)
		ctx = logging.WithField(ctx, "cause", assert.AnError)

		logging.FromContext(ctx).Warn().Msg("failed")

		testLogger.AssertContains(t, assert.AnError.Error())
	})
}
