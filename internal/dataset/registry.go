package dataset

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/orasdigital/citymap/pkg/core"
)

// Registry owns one controller per overlay name.
type Registry struct {
	mu          sync.RWMutex
	controllers map[string]Controller
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{controllers: make(map[string]Controller)}
}

// Register adds c under its name.
func (r *Registry) Register(c Controller) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.controllers[c.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateOverlay, c.Name())
	}
	r.controllers[c.Name()] = c
	return nil
}

// Get returns the controller registered under name.
func (r *Registry) Get(name string) (Controller, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.controllers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOverlay, name)
	}
	return c, nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.controllers))
	for name := range r.controllers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) each(fn func(Controller)) {
	for _, name := range r.Names() {
		if c, err := r.Get(name); err == nil {
			fn(c)
		}
	}
}

// InitAll initializes every controller.
func (r *Registry) InitAll(ctx context.Context) {
	r.each(func(c Controller) { c.Init(ctx) })
}

// Toggle mirrors an overlay checkbox: checked shows, unchecked hides.
func (r *Registry) Toggle(ctx context.Context, name string, checked bool) error {
	c, err := r.Get(name)
	if err != nil {
		return err
	}
	if checked {
		c.Show(ctx)
	} else {
		c.Hide(ctx)
	}
	return nil
}

// Statuses returns the status of every controller ordered by name.
func (r *Registry) Statuses() []core.OverlayStatus {
	var out []core.OverlayStatus
	r.each(func(c Controller) { out = append(out, c.Status()) })
	return out
}

// Close stops every controller.
func (r *Registry) Close() {
	r.each(func(c Controller) { c.Close() })
}
