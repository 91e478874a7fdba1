package livesync

import (
	"context"

	"github.com/clinicdesk/livesync/pkg/constants"
	"github.com/clinicdesk/livesync/pkg/errors"
)

// Start opens the live channel. It returns once the first connection
// attempt is under way.
func (c *client) Start(ctx context.Context) error {
	c.mu.Lock()
	stopped := c.stopped
	c.mu.Unlock()
	if stopped {
		return errors.ErrStopped
	}

	if err := c.channel.Start(ctx); err != nil {
		return errors.WrapResource("start", "channel", "", err)
	}
	c.config.logger.Info().Str("endpoint", c.transport.BaseURL()).Msg("Live sync started")
	return nil
}

// Stop releases every held lock and closes the channel. Lock release is
// best-effort and bounded by ctx, or by a short default when ctx has no
// deadline. Stop is safe to call more than once.
func (c *client) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	c.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, constants.ShutdownTimeout)
		defer cancel()
	}

	if err := c.locks.ReleaseAll(ctx); err != nil {
		c.config.logger.Warn().Err(err).Msg("Some locks were not released")
	}
	c.channel.Stop()

	c.config.logger.Info().Msg("Live sync stopped")
	return nil
}
