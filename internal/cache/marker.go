package cache

import (
	"sort"
	"sync"

	"github.com/orasdigital/citymap/pkg/core"
)

// MarkerCache maps stable record ids to the markers of one overlay.
type MarkerCache struct {
	mu      sync.RWMutex
	markers map[string]*core.Marker
}

// NewMarkerCache creates a new MarkerCache
func NewMarkerCache() *MarkerCache {
	return &MarkerCache{
		markers: make(map[string]*core.Marker),
	}
}

// Get retrieves a marker by id
func (c *MarkerCache) Get(id string) (*core.Marker, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.markers[id]
	return m, ok
}

// Set stores a marker under its id
func (c *MarkerCache) Set(m *core.Marker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markers[m.ID] = m
}

// Delete removes a marker by id
func (c *MarkerCache) Delete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.markers, id)
}

// Reset clears all markers from the cache
func (c *MarkerCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markers = make(map[string]*core.Marker)
}

// Len returns the number of cached markers.
func (c *MarkerCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.markers)
}

// Range calls fn for every marker until fn returns false. fn must not call
// back into the cache.
func (c *MarkerCache) Range(fn func(*core.Marker) bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, m := range c.markers {
		if !fn(m) {
			return
		}
	}
}

// Snapshot returns copies of all markers ordered by id.
func (c *MarkerCache) Snapshot() []core.Marker {
	c.mu.RLock()
	out := make([]core.Marker, 0, len(c.markers))
	for _, m := range c.markers {
		out = append(out, m.Clone())
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
