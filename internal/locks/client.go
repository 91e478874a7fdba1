// Package locks talks to the per-record advisory lock endpoints and keeps
// track of the locks this process holds. Every failure that is not an
// explicit conflict fails open: an unreachable or absent lock service
// never blocks editing.
package locks

import (
	"context"
	stderrors "errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicdesk/livesync/internal/transport"
	"github.com/clinicdesk/livesync/pkg/errors"
	"github.com/clinicdesk/livesync/pkg/logging"
	"github.com/clinicdesk/livesync/pkg/records"
)

// Client queries, acquires, and releases record locks.
type Client struct {
	doer   transport.Doer
	logger *zerolog.Logger
	now    func() time.Time

	keys *keyedMutex

	mu     sync.Mutex
	tokens map[records.RecordKey]records.LockToken
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock sets the time source for token timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a lock client that sends requests through doer.
func New(doer transport.Doer, opts ...Option) *Client {
	c := &Client{
		doer:   doer,
		logger: logging.Default(),
		now:    time.Now,
		keys:   newKeyedMutex(),
		tokens: make(map[records.RecordKey]records.LockToken),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check reports whether key is locked. Any failure reads as unlocked.
func (c *Client) Check(ctx context.Context, key records.RecordKey) CheckResult {
	log := c.logger.With().Str("resource", key.Resource).Str("record_id", key.ID).Logger()

	unlock, err := c.keys.Lock(ctx, key)
	if err != nil {
		log.Debug().Err(err).Msg("Lock check abandoned")
		return CheckResult{}
	}
	defer unlock()

	resp, err := c.doer.Do(ctx, http.MethodGet, key.LockPath(), nil)
	if err != nil {
		log.Debug().Err(err).Msg("Lock check failed, treating as unlocked")
		return CheckResult{}
	}

	var body lockBody
	if err := resp.DecodeJSON(&body); err != nil {
		log.Warn().Err(err).Msg("Unreadable lock status, treating as unlocked")
		return CheckResult{}
	}
	if !body.Locked {
		return CheckResult{}
	}
	return CheckResult{Locked: true, Holder: body.LockedBy, LockedAt: body.lockedAt()}
}

// Acquire asks the server for the lock on key. A 409 is a conflict; a 404
// or any other failure is reported as Unsupported so editing can proceed.
func (c *Client) Acquire(ctx context.Context, key records.RecordKey) AcquireResult {
	log := c.logger.With().Str("resource", key.Resource).Str("record_id", key.ID).Logger()

	unlock, err := c.keys.Lock(ctx, key)
	if err != nil {
		log.Debug().Err(err).Msg("Lock acquire abandoned")
		return AcquireResult{Status: Unsupported}
	}
	defer unlock()

	resp, err := c.doer.Do(ctx, http.MethodPost, key.LockPath(), nil)
	if err != nil {
		if resp != nil && errors.IsLockConflict(err) {
			holder := records.UnknownHolder()
			var body lockBody
			if resp.DecodeJSON(&body) == nil {
				holder = body.LockedBy
			}
			log.Info().Str("holder", holder.DisplayName()).Msg("Lock held by another user")
			return AcquireResult{Status: Conflict, Holder: holder}
		}
		if errors.IsNotFound(err) {
			log.Debug().Msg("No lock endpoint, editing without lock")
		} else {
			log.Warn().Err(err).Msg("Lock acquire failed, editing without lock")
		}
		return AcquireResult{Status: Unsupported}
	}

	var body lockBody
	holder := records.UnknownHolder()
	if resp.DecodeJSON(&body) == nil {
		holder = body.LockedBy
	}

	c.store(key)
	log.Debug().Msg("Lock acquired")
	return AcquireResult{Status: Acquired, Holder: holder}
}

// Release gives the lock on key back. The local token is dropped whatever
// the outcome; failures are logged and returned for information only.
func (c *Client) Release(ctx context.Context, key records.RecordKey) error {
	log := c.logger.With().Str("resource", key.Resource).Str("record_id", key.ID).Logger()
	defer c.forget(key)

	unlock, err := c.keys.Lock(ctx, key)
	if err != nil {
		log.Warn().Err(err).Msg("Lock release abandoned")
		return errors.WrapResource("release", "lock", key.String(), err)
	}
	defer unlock()

	if _, err := c.doer.Do(ctx, http.MethodDelete, key.LockPath(), nil); err != nil {
		log.Warn().Err(err).Msg("Lock release failed")
		return errors.WrapResource("release", "lock", key.String(), err)
	}
	log.Debug().Msg("Lock released")
	return nil
}

// Adopt records ownership of a lock the server reports as held by us.
func (c *Client) Adopt(key records.RecordKey) records.LockToken {
	return c.store(key)
}

// Token returns the local token for key.
func (c *Client) Token(key records.RecordKey) (records.LockToken, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tok, ok := c.tokens[key]
	return tok, ok
}

// Held returns the tokens currently held, oldest first.
func (c *Client) Held() []records.LockToken {
	c.mu.Lock()
	out := make([]records.LockToken, 0, len(c.tokens))
	for _, tok := range c.tokens {
		out = append(out, tok)
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].AcquiredAt.Equal(out[j].AcquiredAt) {
			return out[i].Key.String() < out[j].Key.String()
		}
		return out[i].AcquiredAt.Before(out[j].AcquiredAt)
	})
	return out
}

// ReleaseAll releases every held lock.
func (c *Client) ReleaseAll(ctx context.Context) error {
	var errs []error
	for _, tok := range c.Held() {
		if err := c.Release(ctx, tok.Key); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

func (c *Client) store(key records.RecordKey) records.LockToken {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tok, ok := c.tokens[key]; ok {
		return tok
	}
	tok := records.LockToken{Key: key, AcquiredAt: c.now()}
	c.tokens[key] = tok
	return tok
}

func (c *Client) forget(key records.RecordKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tokens, key)
}
