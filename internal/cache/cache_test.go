package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/clinicdesk/livesync/pkg/records"
)

func update(kind records.EventKind, resource string, data map[string]any) records.ChangeEvent {
	return records.ChangeEvent{Kind: kind, Resource: resource, Data: data}
}

// TestCache_Apply tests create, update merge, and delete.
func TestCache_Apply(t *testing.T) {
	c := New(5*time.Minute, 10*time.Minute)
	key := records.NewKey("pacientes", 7)

	t.Run("create", func(t *testing.T) {
		c.Apply(update(records.EventCreate, "pacientes", map[string]any{"id": float64(7), "nombre": "Ana", "edad": float64(40)}))
		got, ok := c.Get(key)
		if !ok {
			t.Fatal("expected record after create")
		}
		if got["nombre"] != "Ana" {
			t.Errorf("expected nombre Ana, got %v", got["nombre"])
		}
	})

	t.Run("update merges", func(t *testing.T) {
		c.Apply(update(records.EventUpdate, "pacientes", map[string]any{"id": float64(7), "nombre": "Ana María"}))
		got, _ := c.Get(key)
		if got["nombre"] != "Ana María" {
			t.Errorf("expected updated nombre, got %v", got["nombre"])
		}
		if got["edad"] != float64(40) {
			t.Errorf("expected edad preserved, got %v", got["edad"])
		}
	})

	t.Run("delete", func(t *testing.T) {
		c.Apply(update(records.EventDelete, "pacientes", map[string]any{"id": "7"}))
		if _, ok := c.Get(key); ok {
			t.Error("expected record removed after delete")
		}
	})

	stats := c.GetStats()
	if stats.Applied != 3 {
		t.Errorf("expected 3 applied events, got %d", stats.Applied)
	}
}

// TestCache_IgnoresEventsWithoutID tests that unroutable events are skipped.
func TestCache_IgnoresEventsWithoutID(t *testing.T) {
	c := New(5*time.Minute, 10*time.Minute)
	c.Apply(update(records.EventUpdate, "users", map[string]any{"username": "x"}))
	c.Apply(update(records.EventUpdate, "users", nil))

	if c.ItemCount() != 0 {
		t.Errorf("expected empty cache, got %d items", c.ItemCount())
	}
	if c.GetStats().Ignored != 2 {
		t.Errorf("expected 2 ignored events, got %d", c.GetStats().Ignored)
	}
}

// TestCache_GetReturnsCopy tests that callers cannot mutate cached state.
func TestCache_GetReturnsCopy(t *testing.T) {
	c := New(5*time.Minute, 10*time.Minute)
	if !c.Put("roles", map[string]any{"id": 1, "nombre": "admin"}) {
		t.Fatal("expected Put to accept record with id")
	}

	got, _ := c.Get(records.NewKey("roles", 1))
	got["nombre"] = "changed"

	again, _ := c.Get(records.NewKey("roles", 1))
	if again["nombre"] != "admin" {
		t.Errorf("cache mutated through returned map: %v", again["nombre"])
	}
	if c.Put("roles", map[string]any{"nombre": "sin id"}) {
		t.Error("expected Put to reject record without id")
	}
}

// TestCache_List tests listing by resource.
func TestCache_List(t *testing.T) {
	c := New(5*time.Minute, 10*time.Minute)
	c.Put("servicios", map[string]any{"id": "b"})
	c.Put("servicios", map[string]any{"id": "a"})
	c.Put("roles", map[string]any{"id": "a"})

	list := c.List("servicios")
	if len(list) != 2 {
		t.Fatalf("expected 2 servicios, got %d", len(list))
	}
	if list[0]["id"] != "a" || list[1]["id"] != "b" {
		t.Errorf("expected ordering by id, got %v", list)
	}

	c.Clear()
	if c.ItemCount() != 0 {
		t.Error("expected empty cache after Clear")
	}
}

// TestCache_ConcurrentApply tests concurrent merges.
func TestCache_ConcurrentApply(t *testing.T) {
	c := New(5*time.Minute, 10*time.Minute)
	var wg sync.WaitGroup
	fields := []string{"a", "b", "c", "d", "e", "f", "g", "h"}

	for _, field := range fields {
		wg.Add(1)
		go func(field string) {
			defer wg.Done()
			c.OnChange(update(records.EventUpdate, "atenciones", map[string]any{"id": "T1", field: true}))
		}(field)
	}
	wg.Wait()

	got, _ := c.Get(records.NewKey("atenciones", "T1"))
	for _, field := range fields {
		if got[field] != true {
			t.Errorf("expected field %s merged", field)
		}
	}
}
