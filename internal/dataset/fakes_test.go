package dataset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/orasdigital/citymap/pkg/core"
)

type rec struct {
	ID    string  `json:"id"`
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
	State int     `json:"state"`
}

func testSpec() Spec[rec] {
	return Spec[rec]{
		Name:     "test",
		Resource: "res-1",
		Decode: func(raw []byte) ([]rec, error) {
			var out []rec
			err := json.Unmarshal(raw, &out)
			return out, err
		},
		StableID: func(r rec) string { return r.ID },
		Validate: func(r rec, _ time.Time) bool { return r.Lat != 0 && r.Lng != 0 },
		Position: func(r rec) core.LatLng { return core.LatLng{Lat: r.Lat, Lng: r.Lng} },
		Classify: func(r rec) core.Style {
			if r.State == 2 {
				return core.Style{Shape: core.ShapePin, Background: "#f64c4c"}
			}
			return core.Style{Shape: core.ShapePin, Background: "#4cacf6"}
		},
		Content: func(r rec, _ time.Time) core.Popup {
			return core.Popup{Title: "spot " + r.ID, Content: fmt.Sprintf("state %d", r.State)}
		},
		Fields: func(r rec) map[string]any { return map[string]any{"state": r.State} },
	}
}

// fakeFetcher serves queued replies; the last reply repeats.
type fakeFetcher struct {
	mu      sync.Mutex
	replies []reply
	calls   atomic.Int32
	gate    chan struct{}
}

type reply struct {
	body string
	err  error
}

func (f *fakeFetcher) push(body string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, reply{body: body, err: err})
}

func (f *fakeFetcher) Fetch(ctx context.Context, resource string) ([]byte, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.replies) == 0 {
		return nil, errors.New("no data")
	}
	r := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	return []byte(r.body), r.err
}

// fakeMap records every capability call.
type fakeMap struct {
	mu            sync.Mutex
	attached      map[string]core.Marker
	attachCalls   int
	updateCalls   int
	detachCalls   int
	handlers      map[string]func()
	handlerCalls  int
	popup         *core.Popup
	popupKey      string
	onClose       func()
	layers        map[string]bool
	layerCalls    int
	notifications []core.Notification
}

func newFakeMap() *fakeMap {
	return &fakeMap{
		attached: make(map[string]core.Marker),
		handlers: make(map[string]func()),
		layers:   make(map[string]bool),
	}
}

func (m *fakeMap) Attach(mk core.Marker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attachCalls++
	m.attached[mk.Key()] = mk
}

func (m *fakeMap) Update(mk core.Marker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++
	m.attached[mk.Key()] = mk
}

func (m *fakeMap) Detach(overlay, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detachCalls++
	delete(m.attached, core.MarkerKey(overlay, id))
}

func (m *fakeMap) OnClick(overlay, id string, fn func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlerCalls++
	key := core.MarkerKey(overlay, id)
	if _, ok := m.handlers[key]; ok {
		return errors.New("handler exists")
	}
	m.handlers[key] = fn
	return nil
}

func (m *fakeMap) OpenPopup(overlay, id string, p core.Popup, onClose func()) {
	m.ClosePopup()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.popup = &p
	m.popupKey = core.MarkerKey(overlay, id)
	m.onClose = onClose
}

func (m *fakeMap) ClosePopup() {
	m.mu.Lock()
	cb := m.onClose
	m.popup = nil
	m.popupKey = ""
	m.onClose = nil
	m.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (m *fakeMap) SetLayer(name string, visible bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.layerCalls++
	m.layers[name] = visible
}

func (m *fakeMap) Notify(n core.Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = append(m.notifications, n)
}

func (m *fakeMap) click(overlay, id string) bool {
	m.mu.Lock()
	fn, ok := m.handlers[core.MarkerKey(overlay, id)]
	m.mu.Unlock()
	if ok {
		fn()
	}
	return ok
}

func (m *fakeMap) attachedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.attached)
}

func (m *fakeMap) notified() []core.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.Notification(nil), m.notifications...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeRecorder struct {
	mu        sync.Mutex
	snapshots []core.Snapshot
	markers   []core.Marker
}

func (r *fakeRecorder) RecordSnapshot(s *core.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, *s)
	return nil
}

func (r *fakeRecorder) RecordMarker(m *core.Marker) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markers = append(r.markers, *m)
	return nil
}

func newTestEngine(t *testing.T, f *fakeFetcher, m *fakeMap, opts Options) *Engine[rec] {
	t.Helper()
	if opts.IdleInterval == 0 {
		opts.IdleInterval = time.Hour
	}
	if opts.ActiveInterval == 0 {
		opts.ActiveInterval = time.Hour
	}
	if opts.Retry.Backoff == 0 {
		opts.Retry = RetryPolicy{Backoff: 5 * time.Millisecond, MaxBackoff: 20 * time.Millisecond, MaxAttempts: 10}
	}
	e, err := New(testSpec(), f, m, opts)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}
