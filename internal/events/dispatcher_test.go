package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicdesk/livesync/pkg/logging"
	"github.com/clinicdesk/livesync/pkg/records"
)

// recorder is a comparable observer that records what it receives.
type recorder struct {
	mu     sync.Mutex
	events []records.ChangeEvent
}

func (r *recorder) OnChange(event records.ChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func event(kind records.EventKind, resource string, id any) records.ChangeEvent {
	return records.ChangeEvent{Kind: kind, Resource: resource, Data: map[string]any{"id": id}}
}

func TestDispatchRoutesByResource(t *testing.T) {
	d := New(nil)
	pacientes, atenciones, all := &recorder{}, &recorder{}, &recorder{}

	d.Subscribe("pacientes", pacientes)
	d.Subscribe("atenciones", atenciones)
	d.Subscribe(records.Wildcard, all)

	d.Dispatch(event(records.EventUpdate, "pacientes", 7))

	assert.Equal(t, 1, pacientes.Len())
	assert.Equal(t, 0, atenciones.Len())
	assert.Equal(t, 1, all.Len())
	assert.Equal(t, "7", pacientes.events[0].RecordID())
}

func TestDispatchOrderExactBeforeWildcard(t *testing.T) {
	d := New(nil)
	var order []string
	d.SubscribeFunc(records.Wildcard, func(records.ChangeEvent) { order = append(order, "wildcard") })
	d.SubscribeFunc("users", func(records.ChangeEvent) { order = append(order, "users") })

	d.Dispatch(event(records.EventCreate, "users", 1))
	assert.Equal(t, []string{"users", "wildcard"}, order)
}

func TestWildcardResourceDeliveredOnce(t *testing.T) {
	d := New(nil)
	all := &recorder{}
	d.Subscribe(records.Wildcard, all)

	d.Dispatch(event(records.EventDelete, records.Wildcard, nil))
	assert.Equal(t, 1, all.Len())
}

func TestSubscribeComparableObserverOnce(t *testing.T) {
	d := New(nil)
	r := &recorder{}

	first := d.Subscribe("roles", r)
	second := d.Subscribe("roles", r)
	assert.Equal(t, 1, d.Count("roles"))

	d.Dispatch(event(records.EventUpdate, "roles", 2))
	assert.Equal(t, 1, r.Len())

	second()
	assert.Equal(t, 0, d.Count("roles"))
	first()
}

func TestFunctionObserversAreDistinct(t *testing.T) {
	d := New(nil)
	calls := 0
	fn := func(records.ChangeEvent) { calls++ }

	d.SubscribeFunc("servicios", fn)
	d.SubscribeFunc("servicios", fn)
	d.Dispatch(event(records.EventCreate, "servicios", 3))

	assert.Equal(t, 2, calls)
}

func TestUnsubscribeRemovesEmptySet(t *testing.T) {
	d := New(nil)
	unsubscribe := d.Subscribe("pacientes", &recorder{})
	require.Equal(t, []string{"pacientes"}, d.Resources())

	unsubscribe()
	unsubscribe()

	assert.Equal(t, 0, d.Count("pacientes"))
	assert.Empty(t, d.Resources())
}

func TestUnsubscribeDuringDispatch(t *testing.T) {
	d := New(nil)
	later := &recorder{}
	var unsubscribeLater func()

	d.SubscribeFunc("atenciones", func(records.ChangeEvent) {
		unsubscribeLater()
	})
	unsubscribeLater = d.Subscribe("atenciones", later)

	d.Dispatch(event(records.EventUpdate, "atenciones", "T1"))
	assert.Equal(t, 0, later.Len(), "observer removed mid-dispatch must not be called")

	d.Dispatch(event(records.EventUpdate, "atenciones", "T1"))
	assert.Equal(t, 0, later.Len())
	assert.Equal(t, 1, d.Count("atenciones"))
}

func TestSubscribeDuringDispatch(t *testing.T) {
	d := New(nil)
	added := &recorder{}

	d.SubscribeFunc("users", func(records.ChangeEvent) {
		d.Subscribe("users", added)
	})

	d.Dispatch(event(records.EventUpdate, "users", 1))
	assert.Equal(t, 0, added.Len())

	d.Dispatch(event(records.EventUpdate, "users", 1))
	assert.Equal(t, 1, added.Len())
}

func TestObserverPanicIsContained(t *testing.T) {
	logger := logging.NewTestLogger(t)
	d := New(logger.Logger)
	after := &recorder{}

	d.SubscribeFunc("users", func(records.ChangeEvent) { panic("boom") })
	d.Subscribe("users", after)

	assert.NotPanics(t, func() {
		d.Dispatch(event(records.EventUpdate, "users", 1))
	})
	assert.Equal(t, 1, after.Len())
	logger.AssertContains(t, "Observer panicked")
}

func TestConcurrentSubscribeAndDispatch(t *testing.T) {
	d := New(nil)
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			unsubscribe := d.Subscribe("pacientes", &recorder{})
			unsubscribe()
		}()
		go func() {
			defer wg.Done()
			d.Dispatch(event(records.EventCreate, "pacientes", 1))
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, d.Count("pacientes"))
}
