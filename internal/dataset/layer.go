package dataset

import (
	"context"
	"sync"

	"github.com/orasdigital/citymap/pkg/core"
)

// Layer is a controller for overlays without data, such as the traffic
// tile layer. Show and Hide only toggle the layer on the map.
type Layer struct {
	name   string
	canvas Map

	mu      sync.Mutex
	visible bool
}

var _ Controller = (*Layer)(nil)

// NewLayer creates a toggle-only controller.
func NewLayer(name string, canvas Map) *Layer {
	return &Layer{name: name, canvas: canvas}
}

func (l *Layer) Name() string { return l.name }

func (l *Layer) Init(context.Context) {}

func (l *Layer) Show(context.Context) { l.set(true) }

func (l *Layer) Hide(context.Context) { l.set(false) }

func (l *Layer) Render(context.Context) {}

func (l *Layer) set(visible bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.visible == visible {
		return
	}
	l.visible = visible
	l.canvas.SetLayer(l.name, visible)
}

func (l *Layer) Status() core.OverlayStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	state := core.StateIdle
	if l.visible {
		state = core.StateVisible
	}
	return core.OverlayStatus{Name: l.name, State: state, Visible: l.visible}
}

func (l *Layer) Markers() []core.Marker { return nil }

func (l *Layer) Close() {}
