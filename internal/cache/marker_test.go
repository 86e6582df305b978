package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/orasdigital/citymap/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkerCache_SetAndGet(t *testing.T) {
	c := NewMarkerCache()
	m := &core.Marker{ID: "sensor-1", Overlay: "airQuality"}

	c.Set(m)

	got, ok := c.Get("sensor-1")
	require.True(t, ok)
	assert.Same(t, m, got)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestMarkerCache_SetOverwrites(t *testing.T) {
	c := NewMarkerCache()
	c.Set(&core.Marker{ID: "a", Fields: map[string]any{"state": 1}})
	c.Set(&core.Marker{ID: "a", Fields: map[string]any{"state": 2}})

	got, _ := c.Get("a")
	assert.Equal(t, 2, got.Fields["state"])
	assert.Equal(t, 1, c.Len())
}

func TestMarkerCache_DeleteAndReset(t *testing.T) {
	c := NewMarkerCache()
	c.Set(&core.Marker{ID: "a"})
	c.Set(&core.Marker{ID: "b"})

	c.Delete("a")
	assert.Equal(t, 1, c.Len())

	c.Reset()
	assert.Equal(t, 0, c.Len())
}

func TestMarkerCache_Range(t *testing.T) {
	c := NewMarkerCache()
	for i := 0; i < 5; i++ {
		c.Set(&core.Marker{ID: fmt.Sprint(i)})
	}

	seen := 0
	c.Range(func(*core.Marker) bool {
		seen++
		return seen < 3
	})
	assert.Equal(t, 3, seen)
}

func TestMarkerCache_SnapshotIsSortedCopy(t *testing.T) {
	c := NewMarkerCache()
	c.Set(&core.Marker{ID: "b", Fields: map[string]any{"k": "v"}})
	c.Set(&core.Marker{ID: "a"})

	snap := c.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "a", snap[0].ID)
	assert.Equal(t, "b", snap[1].ID)

	snap[1].Fields["k"] = "changed"
	orig, _ := c.Get("b")
	assert.Equal(t, "v", orig.Fields["k"])
}

func TestMarkerCache_ConcurrentAccess(t *testing.T) {
	c := NewMarkerCache()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			c.Set(&core.Marker{ID: fmt.Sprintf("m%d", n)})
		}(i)
		go func(n int) {
			defer wg.Done()
			c.Get(fmt.Sprintf("m%d", n))
			c.Len()
		}(i)
	}

	wg.Wait()
	assert.Equal(t, 100, c.Len())
}
