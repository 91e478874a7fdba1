// Package events routes change events from the realtime channel to
// observers registered per resource type.
package events

import (
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/clinicdesk/livesync/pkg/logging"
	"github.com/clinicdesk/livesync/pkg/records"
)

// Observer receives change events for the resources it subscribed to.
type Observer interface {
	OnChange(event records.ChangeEvent)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(event records.ChangeEvent)

// OnChange calls f(event).
func (f ObserverFunc) OnChange(event records.ChangeEvent) {
	f(event)
}

type subscription struct {
	observer Observer
	active   atomic.Bool
}

// Dispatcher fans change events out to subscribed observers.
// Observers run synchronously on the dispatching goroutine.
type Dispatcher struct {
	mu     sync.RWMutex
	subs   map[string][]*subscription
	logger *zerolog.Logger
}

// New creates a dispatcher. A nil logger discards output.
func New(logger *zerolog.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Dispatcher{
		subs:   make(map[string][]*subscription),
		logger: logger,
	}
}

// Subscribe registers observer for resource, or for every resource when
// resource is records.Wildcard. The returned function removes the
// registration and is safe to call more than once.
func (d *Dispatcher) Subscribe(resource string, observer Observer) func() {
	if observer == nil {
		return func() {}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if sub := d.find(resource, observer); sub != nil {
		return d.unsubscriber(resource, sub)
	}

	sub := &subscription{observer: observer}
	sub.active.Store(true)
	d.subs[resource] = append(d.subs[resource], sub)

	d.logger.Debug().
		Str("resource", resource).
		Int("observers", len(d.subs[resource])).
		Msg("Observer subscribed")

	return d.unsubscriber(resource, sub)
}

// SubscribeFunc registers fn as an observer. Each call registers a
// distinct observer.
func (d *Dispatcher) SubscribeFunc(resource string, fn func(records.ChangeEvent)) func() {
	if fn == nil {
		return func() {}
	}
	return d.Subscribe(resource, ObserverFunc(fn))
}

// find returns an existing registration of a comparable observer.
// Must be called with d.mu held.
func (d *Dispatcher) find(resource string, observer Observer) *subscription {
	if !reflect.TypeOf(observer).Comparable() {
		return nil
	}
	for _, sub := range d.subs[resource] {
		if !reflect.TypeOf(sub.observer).Comparable() {
			continue
		}
		if sub.observer == observer {
			return sub
		}
	}
	return nil
}

func (d *Dispatcher) unsubscriber(resource string, sub *subscription) func() {
	var once sync.Once
	return func() {
		once.Do(func() { d.remove(resource, sub) })
	}
}

func (d *Dispatcher) remove(resource string, target *subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()

	target.active.Store(false)

	set := d.subs[resource]
	for i, sub := range set {
		if sub == target {
			// Copy so snapshots taken by in-flight dispatches stay intact.
			next := make([]*subscription, 0, len(set)-1)
			next = append(next, set[:i]...)
			next = append(next, set[i+1:]...)
			if len(next) == 0 {
				delete(d.subs, resource)
			} else {
				d.subs[resource] = next
			}
			break
		}
	}

	d.logger.Debug().
		Str("resource", resource).
		Int("observers", len(d.subs[resource])).
		Msg("Observer unsubscribed")
}

// Dispatch delivers event to the observers of its resource and then to
// wildcard observers. An event whose resource is the wildcard reaches
// wildcard observers once. Observers unsubscribed during a dispatch are
// skipped for the remainder of it.
func (d *Dispatcher) Dispatch(event records.ChangeEvent) {
	d.mu.RLock()
	exact := d.subs[event.Resource]
	var wildcard []*subscription
	if event.Resource != records.Wildcard {
		wildcard = d.subs[records.Wildcard]
	}
	d.mu.RUnlock()

	delivered := 0
	for _, set := range [][]*subscription{exact, wildcard} {
		for _, sub := range set {
			if !sub.active.Load() {
				continue
			}
			d.deliver(sub.observer, event)
			delivered++
		}
	}

	d.logger.Debug().
		Str("event", string(event.Kind)).
		Str("resource", event.Resource).
		Int("observers", delivered).
		Msg("Change event dispatched")
}

func (d *Dispatcher) deliver(observer Observer, event records.ChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().
				Interface("panic", r).
				Str("resource", event.Resource).
				Msg("Observer panicked")
		}
	}()
	observer.OnChange(event)
}

// Count returns the number of observers registered for resource.
func (d *Dispatcher) Count(resource string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs[resource])
}

// Resources returns the resource types that currently have observers.
func (d *Dispatcher) Resources() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.subs))
	for resource := range d.subs {
		out = append(out, resource)
	}
	return out
}
