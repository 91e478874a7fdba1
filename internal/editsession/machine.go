package editsession

import (
	"context"

	"github.com/looplab/fsm"
	"github.com/rs/zerolog"
)

// Session states.
const (
	StateIdle      = "idle"
	StateChecking  = "checking"
	StateBlocked   = "blocked"
	StateAcquiring = "acquiring"
	StateEditing   = "editing"
	StateSaving    = "saving"
	StateCancelled = "cancelled"
)

// Session events.
const (
	EventRequestEdit    = "request_edit"
	EventLockBusy       = "lock_busy"
	EventLockClear      = "lock_clear"
	EventAcquireRefused = "acquire_refused"
	EventAcquireGranted = "acquire_granted"
	EventSubmit         = "submit"
	EventSaveFailed     = "save_failed"
	EventSaveSucceeded  = "save_succeeded"
	EventCancel         = "cancel"
	EventSettle         = "settle"
	EventTeardown       = "teardown"
)

// transitions is the full edit-session lifecycle. Saving cannot be
// cancelled; only process teardown leaves it early.
var transitions = fsm.Events{
	{Name: EventRequestEdit, Src: []string{StateIdle}, Dst: StateChecking},
	{Name: EventLockBusy, Src: []string{StateChecking}, Dst: StateBlocked},
	{Name: EventLockClear, Src: []string{StateChecking}, Dst: StateAcquiring},
	{Name: EventAcquireRefused, Src: []string{StateAcquiring}, Dst: StateBlocked},
	{Name: EventAcquireGranted, Src: []string{StateAcquiring}, Dst: StateEditing},
	{Name: EventSubmit, Src: []string{StateEditing}, Dst: StateSaving},
	{Name: EventSaveFailed, Src: []string{StateSaving}, Dst: StateEditing},
	{Name: EventSaveSucceeded, Src: []string{StateSaving}, Dst: StateIdle},
	{Name: EventCancel, Src: []string{StateChecking, StateAcquiring, StateEditing, StateBlocked}, Dst: StateCancelled},
	{Name: EventSettle, Src: []string{StateBlocked, StateCancelled}, Dst: StateIdle},
	{Name: EventTeardown, Src: []string{
		StateChecking, StateBlocked, StateAcquiring, StateEditing, StateSaving, StateCancelled,
	}, Dst: StateIdle},
}

func newMachine(logger *zerolog.Logger) *fsm.FSM {
	return fsm.NewFSM(
		StateIdle,
		transitions,
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				logger.Debug().
					Str("event", e.Event).
					Str("from", e.Src).
					Str("state", e.Dst).
					Msg("Edit session transition")
			},
		},
	)
}
