// Package mapview holds the server-side model of the browser map. Every
// mutation is published as a streaming envelope so connected clients can
// mirror it.
package mapview

import (
	"errors"
	"log/slog"
	"maps"
	"sort"
	"sync"

	"github.com/orasdigital/citymap/internal/dataset"
	"github.com/orasdigital/citymap/pkg/core"
	"github.com/orasdigital/citymap/pkg/streaming"
)

var (
	// ErrHandlerExists is returned when a marker already has a click handler.
	ErrHandlerExists = errors.New("click handler already registered")
	// ErrNoHandler is returned when a clicked marker has no handler.
	ErrNoHandler = errors.New("marker has no click handler")
)

// Publisher receives every envelope the canvas emits.
type Publisher interface {
	Publish(env streaming.Envelope)
}

type openPopup struct {
	overlay string
	id      string
	popup   core.Popup
	onClose func()
}

// Canvas implements dataset.Map. Callbacks registered by overlays are always
// invoked without the canvas lock held.
type Canvas struct {
	pub Publisher
	log *slog.Logger

	mu       sync.Mutex
	markers  map[string]core.Marker
	handlers map[string]func()
	popup    *openPopup
	layers   map[string]bool
	center   *core.LatLng
}

var _ dataset.Map = (*Canvas)(nil)

// New creates an empty canvas publishing to pub. pub may be nil.
func New(pub Publisher, log *slog.Logger) *Canvas {
	if log == nil {
		log = slog.Default()
	}
	return &Canvas{
		pub:      pub,
		log:      log.With("component", "mapview"),
		markers:  make(map[string]core.Marker),
		handlers: make(map[string]func()),
		layers:   make(map[string]bool),
	}
}

func (c *Canvas) publish(msgType string, payload any) {
	if c.pub == nil {
		return
	}
	env, err := streaming.NewEnvelope(msgType, payload)
	if err != nil {
		c.log.Error("Failed to encode envelope", "type", msgType, "error", err)
		return
	}
	c.pub.Publish(env)
}

// Attach draws m on the map.
func (c *Canvas) Attach(m core.Marker) {
	m.Visible = true
	c.mu.Lock()
	c.markers[m.Key()] = m
	c.mu.Unlock()
	c.publish(streaming.TypeMarkerAttach, m)
}

// Update redraws an attached marker. Unknown markers are ignored.
func (c *Canvas) Update(m core.Marker) {
	m.Visible = true
	c.mu.Lock()
	if _, ok := c.markers[m.Key()]; !ok {
		c.mu.Unlock()
		return
	}
	c.markers[m.Key()] = m
	c.mu.Unlock()
	c.publish(streaming.TypeMarkerUpdate, m)
}

// Detach removes a marker from the map. Its click handler stays registered.
func (c *Canvas) Detach(overlay, id string) {
	key := core.MarkerKey(overlay, id)
	c.mu.Lock()
	if _, ok := c.markers[key]; !ok {
		c.mu.Unlock()
		return
	}
	delete(c.markers, key)
	c.mu.Unlock()
	c.publish(streaming.TypeMarkerDetach, streaming.MarkerRef{Overlay: overlay, ID: id})
}

// OnClick registers the click handler of a marker. A marker has at most one.
func (c *Canvas) OnClick(overlay, id string, fn func()) error {
	key := core.MarkerKey(overlay, id)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.handlers[key]; ok {
		return ErrHandlerExists
	}
	c.handlers[key] = fn
	return nil
}

// Click runs the handler of an attached marker.
func (c *Canvas) Click(overlay, id string) error {
	key := core.MarkerKey(overlay, id)
	c.mu.Lock()
	fn, ok := c.handlers[key]
	_, attached := c.markers[key]
	c.mu.Unlock()
	if !ok || !attached {
		return ErrNoHandler
	}
	fn()
	return nil
}

// OpenPopup shows p anchored to a marker, closing any popup already open.
// onClose runs when this popup is closed for any reason.
func (c *Canvas) OpenPopup(overlay, id string, p core.Popup, onClose func()) {
	c.mu.Lock()
	prev := c.popup
	c.popup = &openPopup{overlay: overlay, id: id, popup: p, onClose: onClose}
	c.mu.Unlock()

	if prev != nil && prev.onClose != nil {
		prev.onClose()
	}
	c.publish(streaming.TypePopupOpen, streaming.PopupPayload{
		Marker: streaming.MarkerRef{Overlay: overlay, ID: id},
		Popup:  p,
	})
}

// ClosePopup closes the open popup, if any.
func (c *Canvas) ClosePopup() {
	if c.closePopup() {
		c.publish(streaming.TypePopupClose, nil)
	}
}

// PopupClosed records that the browser closed the popup itself.
func (c *Canvas) PopupClosed() {
	c.closePopup()
}

func (c *Canvas) closePopup() bool {
	c.mu.Lock()
	prev := c.popup
	c.popup = nil
	c.mu.Unlock()
	if prev == nil {
		return false
	}
	if prev.onClose != nil {
		prev.onClose()
	}
	return true
}

// SetLayer shows or hides a tile layer.
func (c *Canvas) SetLayer(name string, visible bool) {
	c.mu.Lock()
	c.layers[name] = visible
	c.mu.Unlock()
	c.publish(streaming.TypeLayerToggle, streaming.LayerPayload{Name: name, Visible: visible})
}

// Notify shows a toast.
func (c *Canvas) Notify(n core.Notification) {
	c.publish(streaming.TypeNotification, n)
}

// PanTo recenters the map.
func (c *Canvas) PanTo(p core.LatLng) {
	c.mu.Lock()
	c.center = &p
	c.mu.Unlock()
	c.publish(streaming.TypeMapPan, p)
}

// Snapshot returns the full canvas state for a new subscriber.
func (c *Canvas) Snapshot() streaming.SyncPayload {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.markers))
	for k := range c.markers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := streaming.SyncPayload{
		Markers: make([]core.Marker, 0, len(keys)),
		Layers:  maps.Clone(c.layers),
	}
	for _, k := range keys {
		out.Markers = append(out.Markers, c.markers[k].Clone())
	}
	if c.popup != nil {
		out.Popup = &streaming.PopupPayload{
			Marker: streaming.MarkerRef{Overlay: c.popup.overlay, ID: c.popup.id},
			Popup:  c.popup.popup,
		}
	}
	if c.center != nil {
		center := *c.center
		out.Center = &center
	}
	return out
}

// Attached reports whether a marker is currently drawn.
func (c *Canvas) Attached(overlay, id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.markers[core.MarkerKey(overlay, id)]
	return ok
}
