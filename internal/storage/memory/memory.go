// Package memory keeps a bounded overlay history in memory and exports it
// to JSON on close.
package memory

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/orasdigital/citymap/internal/config"
	"github.com/orasdigital/citymap/internal/queue"
	"github.com/orasdigital/citymap/pkg/core"
)

const defaultHistoryLimit = 100

// MarkerRecord groups the latest state of a marker with its recent changes
type MarkerRecord struct {
	Latest  core.Marker
	Changes *queue.Queue[core.Marker]
}

type overlayHistory struct {
	snapshots *queue.Queue[core.Snapshot]
	markers   map[string]*MarkerRecord // keyed by marker ID
}

// Backend stores overlay history in memory and exports to JSON
type Backend struct {
	cfg config.MemoryConfig
	log *slog.Logger
	now func() time.Time

	mu             sync.RWMutex
	overlays       map[string]*overlayHistory
	started        time.Time
	lastExportPath string
}

// New creates a new memory backend
func New(cfg config.MemoryConfig, logger *slog.Logger) *Backend {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		cfg:      cfg,
		log:      logger.With("component", "memory"),
		now:      time.Now,
		overlays: make(map[string]*overlayHistory),
	}
}

// Init starts a new recording session
func (b *Backend) Init() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.started = b.now()
	return nil
}

// Close exports the session when an output directory is configured
func (b *Backend) Close() error {
	if b.cfg.OutputDir == "" {
		return nil
	}
	path, err := b.Export()
	if err != nil {
		return err
	}
	b.log.Info("History exported", "path", path)
	return nil
}

func (b *Backend) overlay(name string) *overlayHistory {
	h, ok := b.overlays[name]
	if !ok {
		h = &overlayHistory{
			snapshots: queue.NewBounded[core.Snapshot](b.cfg.HistoryLimit),
			markers:   make(map[string]*MarkerRecord),
		}
		b.overlays[name] = h
	}
	return h
}

// RecordSnapshot keeps a copy of a fetch snapshot
func (b *Backend) RecordSnapshot(s *core.Snapshot) error {
	c := *s
	c.Payload = append([]byte(nil), s.Payload...)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.overlay(s.Overlay).snapshots.Push(c)
	return nil
}

// RecordMarker keeps the new state of a marker
func (b *Backend) RecordMarker(m *core.Marker) error {
	c := m.Clone()

	b.mu.Lock()
	defer b.mu.Unlock()
	h := b.overlay(m.Overlay)
	record, ok := h.markers[m.ID]
	if !ok {
		record = &MarkerRecord{Changes: queue.NewBounded[core.Marker](b.cfg.HistoryLimit)}
		h.markers[m.ID] = record
	}
	record.Latest = c
	record.Changes.Push(c)
	return nil
}

// Overlays returns the names of the recorded overlays
func (b *Backend) Overlays() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.overlays))
	for name := range b.overlays {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshots returns the retained snapshots of an overlay, oldest first
func (b *Backend) Snapshots(overlay string) []core.Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	h, ok := b.overlays[overlay]
	if !ok {
		return nil
	}
	return h.snapshots.Items()
}

// Latest returns the last known state of every marker of an overlay
func (b *Backend) Latest(overlay string) []core.Marker {
	b.mu.RLock()
	defer b.mu.RUnlock()
	h, ok := b.overlays[overlay]
	if !ok {
		return nil
	}
	out := make([]core.Marker, 0, len(h.markers))
	for _, record := range h.markers {
		out = append(out, record.Latest.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Changes returns the retained states of one marker, oldest first
func (b *Backend) Changes(overlay, id string) []core.Marker {
	b.mu.RLock()
	defer b.mu.RUnlock()
	h, ok := b.overlays[overlay]
	if !ok {
		return nil
	}
	record, ok := h.markers[id]
	if !ok {
		return nil
	}
	return record.Changes.Items()
}

// ExportedFilePath returns the path of the last export
func (b *Backend) ExportedFilePath() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastExportPath
}
