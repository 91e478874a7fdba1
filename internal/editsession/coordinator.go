// Package editsession drives the check, acquire, edit, and release
// workflow a screen runs when a user opens a record for editing.
package editsession

import (
	"context"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/livesync/internal/locks"
	"github.com/clinicdesk/livesync/pkg/constants"
	"github.com/clinicdesk/livesync/pkg/errors"
	"github.com/clinicdesk/livesync/pkg/logging"
	"github.com/clinicdesk/livesync/pkg/records"
)

// Locker is the lock client as the coordinator uses it.
type Locker interface {
	Check(ctx context.Context, key records.RecordKey) locks.CheckResult
	Acquire(ctx context.Context, key records.RecordKey) locks.AcquireResult
	Release(ctx context.Context, key records.RecordKey) error
	Adopt(key records.RecordKey) records.LockToken
}

// Subscriber registers for change events. *events.Dispatcher implements it.
type Subscriber interface {
	SubscribeFunc(resource string, fn func(records.ChangeEvent)) func()
}

// RemoteChangeHandler is told about changes to the record being edited.
// Merging or flagging them is up to the screen.
type RemoteChangeHandler func(key records.RecordKey, event records.ChangeEvent)

// Info is a snapshot of the current session.
type Info struct {
	ID        string
	Key       records.RecordKey
	State     string
	Locked    bool
	Stale     bool
	Deleted   bool
	StartedAt time.Time
}

// Coordinator runs one edit session at a time.
type Coordinator struct {
	locker   Locker
	identity records.Identity
	notifier Notifier
	events   Subscriber
	onRemote RemoteChangeHandler
	logger   *zerolog.Logger

	mu          sync.Mutex
	machine     *fsm.FSM
	gen         uint64
	id          string
	key         records.RecordKey
	locked      bool
	stale       bool
	deleted     bool
	startedAt   time.Time
	unsubscribe func()
	teardowns   sync.WaitGroup
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithNotifier sets where blocked and save-failure notices go.
func WithNotifier(n Notifier) Option {
	return func(c *Coordinator) { c.notifier = n }
}

// WithSubscriber enables remote change tracking while editing.
func WithSubscriber(s Subscriber) Option {
	return func(c *Coordinator) { c.events = s }
}

// WithRemoteChangeHandler is called for change events that touch the
// record being edited.
func WithRemoteChangeHandler(fn RemoteChangeHandler) Option {
	return func(c *Coordinator) { c.onRemote = fn }
}

// WithLogger sets the logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a coordinator acting as identity.
func New(locker Locker, identity records.Identity, opts ...Option) *Coordinator {
	c := &Coordinator{
		locker:   locker,
		identity: identity,
		logger:   logging.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.machine = newMachine(c.logger)
	return c
}

// State returns the current state name.
func (c *Coordinator) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.Current()
}

// Session returns the current session, if any.
func (c *Coordinator) Session() (Info, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.machine.Current() == StateIdle {
		return Info{}, false
	}
	return Info{
		ID:        c.id,
		Key:       c.key,
		State:     c.machine.Current(),
		Locked:    c.locked,
		Stale:     c.stale,
		Deleted:   c.deleted,
		StartedAt: c.startedAt,
	}, true
}

// AttemptEdit checks and acquires the lock on key and opens the editor
// when allowed. A record without an id is new and opens unlocked.
func (c *Coordinator) AttemptEdit(ctx context.Context, key records.RecordKey) (Outcome, error) {
	c.mu.Lock()
	if err := c.fire(EventRequestEdit); err != nil {
		state := c.machine.Current()
		c.mu.Unlock()
		return Outcome{}, errors.NewSessionError("attempt edit", state, errors.ErrSessionActive)
	}
	c.gen++
	gen := c.gen
	id := ulid.Make().String()
	c.id = id
	c.key = key
	c.locked, c.stale, c.deleted = false, false, false
	c.startedAt = time.Now()
	c.mu.Unlock()

	ctx = logging.WithSession(logging.WithRecord(logging.WithLogger(ctx, c.logger), key.Resource, key.ID), id)
	log := logging.Ctx(ctx)

	if key.ID == "" {
		c.mu.Lock()
		defer c.mu.Unlock()
		_ = c.fire(EventLockClear)
		return c.openLocked(gen, key, false, records.UnknownHolder()), nil
	}

	check := c.locker.Check(ctx, key)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return Outcome{Status: OutcomeSuperseded, Key: key}, nil
	}
	if err := ctx.Err(); err != nil {
		held := c.abandonLocked()
		c.mu.Unlock()
		if held {
			c.releaseDetached(key)
		}
		return Outcome{Status: OutcomeSuperseded, Key: key}, err
	}
	if check.Locked && !check.Holder.Is(c.identity) {
		_ = c.fire(EventLockBusy)
		_ = c.fire(EventSettle)
		held := c.dropLocked()
		c.mu.Unlock()
		if held {
			c.releaseDetached(key)
		}
		log.Info().Str("holder", check.Holder.DisplayName()).Msg("Record is being edited elsewhere")
		c.notify(Notice{Kind: NoticeBlocked, Key: key, Holder: check.Holder})
		return Outcome{Status: OutcomeBlocked, Key: key, Holder: check.Holder}, nil
	}
	_ = c.fire(EventLockClear)
	c.mu.Unlock()

	res := c.locker.Acquire(ctx, key)

	c.mu.Lock()
	if gen != c.gen || ctx.Err() != nil {
		var held bool
		if gen == c.gen {
			held = c.abandonLocked()
		}
		// The server lock is per identity, so a newer attempt on the same
		// record shares it and must not lose it to this late reply.
		handoff := res.Status == locks.Acquired && c.attemptingLocked(key)
		if handoff {
			c.locked = true
		}
		c.mu.Unlock()
		if res.Status == locks.Acquired && !handoff || held {
			log.Debug().Msg("Releasing lock won by a superseded attempt")
			c.releaseDetached(key)
		}
		return Outcome{Status: OutcomeSuperseded, Key: key}, ctx.Err()
	}

	switch res.Status {
	case locks.Acquired:
		defer c.mu.Unlock()
		return c.openLocked(gen, key, true, res.Holder), nil

	case locks.Unsupported:
		defer c.mu.Unlock()
		log.Debug().Msg("Editing without a server lock")
		return c.openLocked(gen, key, false, records.UnknownHolder()), nil
	}

	// Conflict. The server refuses a second acquire from the holder, so a
	// conflict naming ourselves means we already own the lock.
	if res.Holder.Is(c.identity) {
		c.locker.Adopt(key)
		defer c.mu.Unlock()
		return c.openLocked(gen, key, true, res.Holder), nil
	}

	_ = c.fire(EventAcquireRefused)
	_ = c.fire(EventSettle)
	held := c.dropLocked()
	c.mu.Unlock()
	if held {
		c.releaseDetached(key)
	}
	log.Info().Str("holder", res.Holder.DisplayName()).Msg("Lock refused")
	c.notify(Notice{Kind: NoticeBlocked, Key: key, Holder: res.Holder})
	return Outcome{Status: OutcomeBlocked, Key: key, Holder: res.Holder}, nil
}

// openLocked enters editing. Must be called with c.mu held in acquiring.
func (c *Coordinator) openLocked(gen uint64, key records.RecordKey, locked bool, holder records.Holder) Outcome {
	_ = c.fire(EventAcquireGranted)
	c.locked = c.locked || locked
	if c.events != nil {
		c.unsubscribe = c.events.SubscribeFunc(key.Resource, func(e records.ChangeEvent) {
			c.remoteChange(gen, key, e)
		})
	}
	return Outcome{Status: OutcomeEditing, Key: key, Holder: holder, Locked: c.locked}
}

func (c *Coordinator) remoteChange(gen uint64, key records.RecordKey, e records.ChangeEvent) {
	if !e.Touches(key) {
		return
	}
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.stale = true
	if e.Kind == records.EventDelete {
		c.deleted = true
	}
	c.mu.Unlock()

	c.logger.Info().
		Str("resource", key.Resource).
		Str("record_id", key.ID).
		Str("event", string(e.Kind)).
		Msg("Record changed while editing")

	if c.onRemote != nil {
		c.onRemote(key, e)
	}
}

// Save runs fn with the editor open. On success the lock is released and
// the session ends; on failure the editor stays open and the lock is kept.
func (c *Coordinator) Save(ctx context.Context, fn func(ctx context.Context) error) error {
	c.mu.Lock()
	if err := c.fire(EventSubmit); err != nil {
		state := c.machine.Current()
		c.mu.Unlock()
		return errors.NewSessionError("save", state, errors.ErrNoSession)
	}
	gen, key, locked := c.gen, c.key, c.locked
	c.mu.Unlock()

	err := fn(ctx)

	if err != nil {
		c.mu.Lock()
		if gen == c.gen {
			_ = c.fire(EventSaveFailed)
		}
		c.mu.Unlock()
		c.logger.Warn().Err(err).Str("resource", key.Resource).Str("record_id", key.ID).Msg("Save failed")
		c.notify(Notice{Kind: NoticeSaveFailed, Key: key, Err: err})
		return err
	}

	if locked {
		c.release(ctx, key)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen == c.gen {
		_ = c.fire(EventSaveSucceeded)
		c.endLocked()
	}
	return nil
}

// CloseEditor cancels the session and releases its lock. It may be called
// in any state except saving; in idle it does nothing.
func (c *Coordinator) CloseEditor(ctx context.Context) error {
	c.mu.Lock()
	switch state := c.machine.Current(); state {
	case StateIdle:
		c.mu.Unlock()
		return nil
	case StateSaving:
		c.mu.Unlock()
		return errors.NewSessionError("close editor", state, errors.ErrSaveInFlight)
	}

	_ = c.fire(EventCancel)
	c.gen++
	key, locked := c.key, c.locked
	c.endLocked()
	c.mu.Unlock()

	if locked {
		c.release(ctx, key)
	}

	c.mu.Lock()
	if c.machine.Current() == StateCancelled {
		_ = c.fire(EventSettle)
	}
	c.mu.Unlock()
	return nil
}

// Teardown ends the session from any state without waiting. A held lock is
// released in the background; delivery is not guaranteed.
func (c *Coordinator) Teardown() {
	c.mu.Lock()
	if c.machine.Current() == StateIdle {
		c.mu.Unlock()
		return
	}
	_ = c.fire(EventTeardown)
	c.gen++
	key, locked := c.key, c.locked
	c.endLocked()
	c.mu.Unlock()

	if locked {
		c.releaseDetached(key)
	}
}

// Wait blocks until background releases started by Teardown finish.
func (c *Coordinator) Wait() {
	c.teardowns.Wait()
}

// abandonLocked cancels an attempt whose caller gave up. It reports
// whether the attempt had taken over a lock that now needs releasing.
func (c *Coordinator) abandonLocked() bool {
	held := c.locked
	_ = c.fire(EventCancel)
	_ = c.fire(EventSettle)
	c.gen++
	c.endLocked()
	return held
}

// dropLocked clears and returns the locked flag. Must be called with c.mu held.
func (c *Coordinator) dropLocked() bool {
	held := c.locked
	c.locked = false
	return held
}

// attemptingLocked reports whether the live session is still working
// towards editing key. Must be called with c.mu held.
func (c *Coordinator) attemptingLocked(key records.RecordKey) bool {
	if c.key != key {
		return false
	}
	switch c.machine.Current() {
	case StateChecking, StateAcquiring, StateEditing:
		return true
	}
	return false
}

// endLocked clears session data. Must be called with c.mu held.
func (c *Coordinator) endLocked() {
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	c.locked = false
}

// release gives the lock back even when ctx is already done, since the
// editor is closing either way.
func (c *Coordinator) release(ctx context.Context, key records.RecordKey) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.TeardownReleaseTimeout)
	defer cancel()
	_ = c.locker.Release(ctx, key)
}

func (c *Coordinator) releaseDetached(key records.RecordKey) {
	c.teardowns.Add(1)
	go func() {
		defer c.teardowns.Done()
		ctx, cancel := context.WithTimeout(context.Background(), constants.TeardownReleaseTimeout)
		defer cancel()
		_ = c.locker.Release(ctx, key)
	}()
}

func (c *Coordinator) notify(n Notice) {
	if c.notifier != nil {
		c.notifier.Notify(n)
	}
}

// fire applies event to the state machine. Must be called with c.mu held.
func (c *Coordinator) fire(event string) error {
	return c.machine.Event(context.Background(), event)
}
