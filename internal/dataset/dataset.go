// Package dataset implements the polling and reconciliation lifecycle shared
// by every map overlay.
package dataset

import (
	"context"
	"errors"
	"time"

	"github.com/orasdigital/citymap/pkg/core"
)

var (
	// ErrUnknownOverlay is returned for names missing from the registry.
	ErrUnknownOverlay = errors.New("unknown overlay")
	// ErrDuplicateOverlay is returned when a name is registered twice.
	ErrDuplicateOverlay = errors.New("overlay already registered")

	errFetchInFlight = errors.New("fetch already in flight")
)

// Fetcher retrieves the raw JSON of a remote resource.
type Fetcher interface {
	Fetch(ctx context.Context, resource string) ([]byte, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, resource string) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, resource string) ([]byte, error) {
	return f(ctx, resource)
}

// Map is the host capability surface the engine draws on.
type Map interface {
	Attach(m core.Marker)
	Update(m core.Marker)
	Detach(overlay, id string)
	OnClick(overlay, id string, fn func()) error
	OpenPopup(overlay, id string, p core.Popup, onClose func())
	ClosePopup()
	SetLayer(name string, visible bool)
	Notify(n core.Notification)
}

// Recorder persists fetched snapshots and marker changes.
type Recorder interface {
	RecordSnapshot(s *core.Snapshot) error
	RecordMarker(m *core.Marker) error
}

// Controller is the lifecycle surface the registry drives.
type Controller interface {
	Name() string
	Init(ctx context.Context)
	Show(ctx context.Context)
	Hide(ctx context.Context)
	Render(ctx context.Context)
	Status() core.OverlayStatus
	Markers() []core.Marker
	Close()
}

// Spec parameterizes the engine for one overlay's record type.
// Decode, StableID, Validate, Position, Classify and Content are required.
type Spec[R any] struct {
	Name     string
	Resource string

	Decode   func(raw []byte) ([]R, error)
	StableID func(r R) string
	Validate func(r R, now time.Time) bool
	Position func(r R) core.LatLng
	Classify func(r R) core.Style
	Content  func(r R, now time.Time) core.Popup

	Fields     func(r R) map[string]any
	LastUpdate func(r R) time.Time
	// Metrics derives overlay gauges from a whole snapshot.
	Metrics func(records []R) map[string]float64
	// Start runs once from Init, Prepare before every render, Stop from Close.
	Start   func(ctx context.Context)
	Prepare func(ctx context.Context)
	Stop    func()
}

func (s Spec[R]) validate() error {
	switch {
	case s.Name == "":
		return errors.New("spec name is empty")
	case s.Decode == nil, s.StableID == nil, s.Validate == nil,
		s.Position == nil, s.Classify == nil, s.Content == nil:
		return errors.New("spec " + s.Name + " is missing a required function")
	}
	return nil
}

// RetryPolicy bounds the show retry loop while no snapshot exists.
type RetryPolicy struct {
	Backoff     time.Duration
	MaxBackoff  time.Duration
	MaxAttempts int
}

// Delay returns the wait before the given retry attempt (1-based). The
// backoff doubles per attempt up to MaxBackoff.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.Backoff
	if d <= 0 {
		d = time.Second
	}
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}
