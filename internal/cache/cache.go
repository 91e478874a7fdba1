// Package cache mirrors records locally and keeps the mirror current from
// change events. It uses patrickmn/go-cache so entries that stop receiving
// events eventually fall out and are re-read from the API.
package cache

import (
	"maps"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/clinicdesk/livesync/pkg/records"
)

// Cache is a record mirror keyed by resource/id.
type Cache struct {
	store *gocache.Cache

	// mu makes read-modify-write merges atomic.
	mu sync.Mutex

	applied atomic.Int64
	ignored atomic.Int64
}

// New creates a new cache with the given TTL and cleanup interval.
func New(defaultTTL, cleanupInterval time.Duration) *Cache {
	return &Cache{
		store: gocache.New(defaultTTL, cleanupInterval),
	}
}

// Get returns a copy of the record.
func (c *Cache) Get(key records.RecordKey) (map[string]any, bool) {
	v, ok := c.store.Get(key.String())
	if !ok {
		return nil, false
	}
	return maps.Clone(v.(map[string]any)), true
}

// Put seeds the mirror with a record read from the API. Records without
// an id are ignored.
func (c *Cache) Put(resource string, record map[string]any) bool {
	id := records.FormatID(record["id"])
	if id == "" {
		return false
	}
	c.store.Set(records.RecordKey{Resource: resource, ID: id}.String(), maps.Clone(record), gocache.DefaultExpiration)
	return true
}

// Apply merges a change event into the mirror: create and update merge the
// payload over the stored record, delete removes it.
func (c *Cache) Apply(event records.ChangeEvent) {
	key := event.Key()
	if key.ID == "" || key.Resource == records.Wildcard {
		c.ignored.Add(1)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch event.Kind {
	case records.EventDelete:
		c.store.Delete(key.String())
	case records.EventCreate, records.EventUpdate:
		merged := map[string]any{}
		if v, ok := c.store.Get(key.String()); ok {
			merged = maps.Clone(v.(map[string]any))
		}
		maps.Copy(merged, event.Data)
		c.store.Set(key.String(), merged, gocache.DefaultExpiration)
	default:
		c.ignored.Add(1)
		return
	}
	c.applied.Add(1)
}

// OnChange lets the cache subscribe to the dispatcher directly.
func (c *Cache) OnChange(event records.ChangeEvent) {
	c.Apply(event)
}

// List returns copies of every cached record of resource, ordered by id.
func (c *Cache) List(resource string) []map[string]any {
	prefix := resource + "/"
	type entry struct {
		id     string
		record map[string]any
	}
	var entries []entry
	for k, item := range c.store.Items() {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		entries = append(entries, entry{id: strings.TrimPrefix(k, prefix), record: maps.Clone(item.Object.(map[string]any))})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].id < entries[j].id })

	out := make([]map[string]any, len(entries))
	for i, e := range entries {
		out[i] = e.record
	}
	return out
}

// Delete removes a record.
func (c *Cache) Delete(key records.RecordKey) {
	c.store.Delete(key.String())
}

// Clear removes all records.
func (c *Cache) Clear() {
	c.store.Flush()
}

// ItemCount returns the number of cached records.
func (c *Cache) ItemCount() int {
	return c.store.ItemCount()
}

// Stats returns cache statistics.
type Stats struct {
	ItemCount int   `json:"item_count"`
	Applied   int64 `json:"applied"`
	Ignored   int64 `json:"ignored"`
}

// GetStats returns current cache statistics.
func (c *Cache) GetStats() Stats {
	return Stats{
		ItemCount: c.store.ItemCount(),
		Applied:   c.applied.Load(),
		Ignored:   c.ignored.Load(),
	}
}
