// Package locate tracks the user's position reported by the browser.
package locate

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/orasdigital/citymap/internal/config"
	"github.com/orasdigital/citymap/internal/geo"
	"github.com/orasdigital/citymap/pkg/core"
)

// Overlay is the marker namespace of the user position.
const Overlay = "user"

const (
	markerID       = "me"
	msgUnavailable = "location.error.unableToDetermine"
	// fixes closer than this to the last pan do not move the map
	panThreshold = 5.0
)

var (
	// ErrDisabled is returned after geolocation failed once.
	ErrDisabled = errors.New("geolocation disabled")
	// ErrNotWatching is returned for fixes that arrive outside a watch.
	ErrNotWatching = errors.New("geolocation not watching")
)

// Canvas is the map surface the tracker draws on.
type Canvas interface {
	Attach(m core.Marker)
	Update(m core.Marker)
	Detach(overlay, id string)
	PanTo(p core.LatLng)
	Notify(n core.Notification)
}

// Options configures a Tracker.
type Options struct {
	Timeout  time.Duration
	Messages config.Text
	Logger   *slog.Logger
	Now      func() time.Time
}

// Status describes the tracker for clients.
type Status struct {
	Watching   bool         `json:"watching"`
	Persistent bool         `json:"persistent"`
	Disabled   bool         `json:"disabled"`
	Position   *core.LatLng `json:"position,omitempty"`
}

// Tracker places the user marker. A watch that gets no fix within the
// timeout fails and disables tracking.
type Tracker struct {
	canvas Canvas
	opts   Options
	log    *slog.Logger

	mu         sync.Mutex
	gen        uint64
	watching   bool
	persistent bool
	disabled   bool
	timer      *time.Timer
	position   *core.LatLng
	panned     *core.LatLng
	attached   bool
}

// New creates an idle tracker.
func New(canvas Canvas, opts Options) *Tracker {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Tracker{canvas: canvas, opts: opts, log: opts.Logger.With("component", "locate")}
}

// Watch starts an acquisition window. Persistent watches keep following
// the user after the first fix.
func (t *Tracker) Watch(persistent bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disabled {
		return ErrDisabled
	}
	t.gen++
	gen := t.gen
	t.watching = true
	t.persistent = persistent
	t.stopTimerLocked()
	t.timer = time.AfterFunc(t.opts.Timeout, func() { t.expire(gen) })
	t.log.Debug("Watching position", "persistent", persistent)
	return nil
}

func (t *Tracker) expire(gen uint64) {
	t.mu.Lock()
	stale := gen != t.gen || !t.watching
	t.mu.Unlock()
	if stale {
		return
	}
	t.Fail("timeout")
}

func (t *Tracker) stopTimerLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// Position records a fix. The first fix of a one-shot watch pans the map
// and ends the watch; persistent watches pan whenever the user moved.
func (t *Tracker) Position(p core.LatLng, accuracy float64) error {
	t.mu.Lock()
	if !t.watching {
		t.mu.Unlock()
		return ErrNotWatching
	}
	if p.IsZero() {
		t.mu.Unlock()
		return geo.ErrInvalidCoordinates
	}
	t.stopTimerLocked()
	pos := p
	t.position = &pos
	attached := t.attached
	t.attached = true

	pan := true
	if t.persistent && t.panned != nil {
		moved := geo.Distance(*t.panned, p)
		pan = moved >= panThreshold
		t.log.Debug("Position updated", "moved", moved)
	}
	if pan {
		t.panned = &pos
	}
	if !t.persistent {
		t.watching = false
	}
	t.mu.Unlock()

	m := userMarker(p, accuracy, t.opts.Now())
	if attached {
		t.canvas.Update(m)
	} else {
		t.canvas.Attach(m)
	}
	if pan {
		t.canvas.PanTo(p)
	}
	return nil
}

// Fail disables tracking and tells the user the location is unavailable.
func (t *Tracker) Fail(reason string) {
	t.mu.Lock()
	t.gen++
	t.watching = false
	t.disabled = true
	t.stopTimerLocked()
	t.mu.Unlock()

	t.log.Info("Geolocation unavailable", "reason", reason)
	if msg := t.opts.Messages.Get(msgUnavailable); msg != "" {
		t.canvas.Notify(core.Notification{Message: msg, Type: core.NotifyInfo, AutoHide: 5, Floating: true})
	}
}

// Stop ends the watch and keeps the marker.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gen++
	t.watching = false
	t.stopTimerLocked()
}

// Clear ends the watch and removes the user marker.
func (t *Tracker) Clear() {
	t.mu.Lock()
	t.gen++
	t.watching = false
	t.stopTimerLocked()
	attached := t.attached
	t.attached = false
	t.position = nil
	t.panned = nil
	t.mu.Unlock()

	if attached {
		t.canvas.Detach(Overlay, markerID)
	}
}

// Status returns the tracker state.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := Status{Watching: t.watching, Persistent: t.persistent, Disabled: t.disabled}
	if t.position != nil {
		p := *t.position
		s.Position = &p
	}
	return s
}

func userMarker(p core.LatLng, accuracy float64, now time.Time) core.Marker {
	return core.Marker{
		ID:       markerID,
		Overlay:  Overlay,
		Position: p,
		Style: core.Style{
			Shape:       core.ShapeCircle,
			Background:  "#4285f4",
			StrokeColor: "#ffffff",
			StrokeAlpha: 1,
			FillOpacity: .9,
			Radius:      max(accuracy, 8),
			ZIndex:      1000,
		},
		Fields:      map[string]any{"accuracy": accuracy},
		Visible:     true,
		LastUpdate:  now,
		DateUpdated: now,
	}
}
