package dataset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orasdigital/citymap/internal/api"
	"github.com/orasdigital/citymap/internal/cache"
	"github.com/orasdigital/citymap/internal/config"
	"github.com/orasdigital/citymap/internal/watcher"
	"github.com/orasdigital/citymap/pkg/core"
)

const (
	msgMissingURL  = "apiCall.error.missingUrl"
	msgUnavailable = "dataset.error.unavailable"
)

// Options configures an Engine.
type Options struct {
	IdleInterval   time.Duration
	ActiveInterval time.Duration
	Retry          RetryPolicy
	Messages       config.Text
	Recorder       Recorder
	Logger         *slog.Logger
	Now            func() time.Time
}

// Engine is the lifecycle controller of one overlay: it owns the snapshot,
// the markers and the single refresh timer.
type Engine[R any] struct {
	spec     Spec[R]
	opts     Options
	fetcher  Fetcher
	canvas   Map
	log      *slog.Logger
	metrics  *metrics
	markers  *cache.MarkerCache
	watcher  *watcher.Watcher
	inFlight atomic.Bool

	mu          sync.Mutex
	baseCtx     context.Context
	snapshot    []R
	hasSnapshot bool
	updated     time.Time
	derived     map[string]float64
	visible     bool
	wanted      bool
	state       core.State
	selected    string
	retry       *time.Timer
	closed      bool
}

var _ Controller = (*Engine[struct{}])(nil)

// New builds an engine for spec. fetcher and canvas are required.
func New[R any](spec Spec[R], fetcher Fetcher, canvas Map, opts Options) (*Engine[R], error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}
	if fetcher == nil || canvas == nil {
		return nil, fmt.Errorf("overlay %s: fetcher and map are required", spec.Name)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	m, err := newMetrics()
	if err != nil {
		return nil, fmt.Errorf("overlay %s: %w", spec.Name, err)
	}
	return &Engine[R]{
		spec:    spec,
		opts:    opts,
		fetcher: fetcher,
		canvas:  canvas,
		log:     opts.Logger.With("overlay", spec.Name),
		metrics: m,
		markers: cache.NewMarkerCache(),
		watcher: watcher.New(),
		baseCtx: context.Background(),
		state:   core.StateIdle,
	}, nil
}

func (e *Engine[R]) Name() string { return e.spec.Name }

// Init enters Idle and arms the idle watcher. ctx bounds every timer-driven
// fetch for the engine's lifetime.
func (e *Engine[R]) Init(ctx context.Context) {
	e.mu.Lock()
	e.baseCtx = ctx
	e.state = core.StateIdle
	e.watcher.Set(e.opts.IdleInterval, e.idleTick)
	e.mu.Unlock()

	if e.spec.Start != nil {
		e.spec.Start(ctx)
	}
	e.log.Debug("Overlay initialized", "idleInterval", e.opts.IdleInterval)
}

// Fetch refreshes the snapshot and reports whether it was replaced.
// Concurrent calls are skipped while one is in flight.
func (e *Engine[R]) Fetch(ctx context.Context) bool {
	return e.fetch(ctx) == nil
}

func (e *Engine[R]) fetch(ctx context.Context) error {
	if !e.inFlight.CompareAndSwap(false, true) {
		e.metrics.fetched(ctx, e.spec.Name, resultSkipped)
		return errFetchInFlight
	}
	defer e.inFlight.Store(false)

	raw, err := e.fetcher.Fetch(ctx, e.spec.Resource)
	if err != nil {
		e.metrics.fetched(ctx, e.spec.Name, resultFailed)
		e.log.Debug("Fetch failed", "error", err)
		return err
	}
	records, err := e.spec.Decode(raw)
	if err != nil {
		e.metrics.fetched(ctx, e.spec.Name, resultFailed)
		e.log.Warn("Decode failed", "error", err)
		return fmt.Errorf("decode %s: %w", e.spec.Name, err)
	}

	now := e.opts.Now()
	var derived map[string]float64
	if e.spec.Metrics != nil {
		derived = e.spec.Metrics(records)
	}

	e.mu.Lock()
	e.snapshot = records
	e.hasSnapshot = true
	e.updated = now
	e.derived = derived
	e.mu.Unlock()

	e.metrics.fetched(ctx, e.spec.Name, resultOK)
	e.log.Debug("Snapshot updated", "records", len(records))

	if e.opts.Recorder != nil {
		err := e.opts.Recorder.RecordSnapshot(&core.Snapshot{
			Overlay:   e.spec.Name,
			Resource:  e.spec.Resource,
			FetchedAt: now,
			Records:   len(records),
			Payload:   raw,
		})
		if err != nil {
			e.log.Warn("Failed to record snapshot", "error", err)
		}
	}
	return nil
}

// Show makes the overlay visible, fetching first when no snapshot exists.
func (e *Engine[R]) Show(ctx context.Context) {
	e.mu.Lock()
	e.wanted = true
	e.mu.Unlock()
	e.show(ctx, 0)
}

func (e *Engine[R]) show(ctx context.Context, attempt int) {
	e.mu.Lock()
	if e.closed || !e.wanted {
		e.mu.Unlock()
		return
	}
	e.stopRetryLocked()
	has := e.hasSnapshot
	if !has {
		e.state = core.StateLoading
	}
	e.mu.Unlock()

	if !has {
		if err := e.fetch(ctx); err != nil {
			if errors.Is(err, api.ErrMissingURL) {
				e.giveUp(msgMissingURL, core.NotifyError)
				return
			}
			e.scheduleRetry(attempt + 1)
			return
		}
	}

	if e.spec.Prepare != nil {
		e.spec.Prepare(ctx)
	}

	e.mu.Lock()
	if e.closed || !e.wanted {
		e.mu.Unlock()
		return
	}
	e.visible = true
	changed, lost := e.reconcileLocked()
	e.state = core.StateVisible
	e.watcher.Set(e.opts.ActiveInterval, e.activeTick)
	e.mu.Unlock()

	if lost {
		e.canvas.ClosePopup()
	}
	e.record(changed)
	e.log.Info("Overlay shown", "markers", e.markers.Len())
}

func (e *Engine[R]) scheduleRetry(attempt int) {
	e.mu.Lock()
	if e.closed || !e.wanted {
		e.mu.Unlock()
		return
	}
	if limit := e.opts.Retry.MaxAttempts; limit > 0 && attempt >= limit {
		e.mu.Unlock()
		e.log.Warn("No data after retries, giving up", "attempts", attempt)
		e.giveUp(msgUnavailable, core.NotifyWarning)
		return
	}
	delay := e.opts.Retry.Delay(attempt)
	ctx := e.baseCtx
	e.retry = time.AfterFunc(delay, func() {
		if ctx.Err() != nil {
			return
		}
		e.show(ctx, attempt)
	})
	e.mu.Unlock()
	e.log.Debug("Show deferred until data arrives", "attempt", attempt, "delay", delay)
}

func (e *Engine[R]) giveUp(messageKey string, kind core.NotificationType) {
	e.mu.Lock()
	e.wanted = false
	e.state = core.StateIdle
	e.stopRetryLocked()
	e.mu.Unlock()
	e.notify(messageKey, kind)
}

func (e *Engine[R]) stopRetryLocked() {
	if e.retry != nil {
		e.retry.Stop()
		e.retry = nil
	}
}

// Hide detaches every marker but keeps the entities, then re-arms the idle
// watcher.
func (e *Engine[R]) Hide(ctx context.Context) {
	e.mu.Lock()
	e.wanted = false
	e.stopRetryLocked()
	e.visible = false
	e.markers.Range(func(m *core.Marker) bool {
		if m.Visible {
			e.canvas.Detach(e.spec.Name, m.ID)
			m.Visible = false
		}
		return true
	})
	selected := e.selected
	e.selected = ""
	e.state = core.StateIdle
	if !e.closed {
		e.watcher.Set(e.opts.IdleInterval, e.idleTick)
	}
	e.mu.Unlock()

	if selected != "" {
		e.canvas.ClosePopup()
	}
	e.metrics.attached(ctx, e.spec.Name, 0)
	e.log.Info("Overlay hidden")
}

// Render reconciles the snapshot against the markers, fetching first when no
// snapshot exists. Repeated calls never duplicate markers or click handlers.
func (e *Engine[R]) Render(ctx context.Context) {
	e.mu.Lock()
	has := e.hasSnapshot
	e.mu.Unlock()
	if !has {
		if err := e.fetch(ctx); err != nil {
			return
		}
	}

	if e.spec.Prepare != nil {
		e.spec.Prepare(ctx)
	}

	e.mu.Lock()
	changed, lost := e.reconcileLocked()
	e.mu.Unlock()

	if lost {
		e.canvas.ClosePopup()
	}
	e.record(changed)
}

// reconcileLocked walks the snapshot and returns copies of markers whose
// data changed. Markers whose record disappeared or went invalid are
// detached but retained. lost reports that the selected marker was among
// them; the caller closes its popup after unlocking.
func (e *Engine[R]) reconcileLocked() (changed []core.Marker, lost bool) {
	now := e.opts.Now()
	seen := make(map[string]struct{}, len(e.snapshot))
	created := 0

	for _, r := range e.snapshot {
		if !e.spec.Validate(r, now) {
			continue
		}
		id := e.spec.StableID(r)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		pos := e.spec.Position(r)
		style := e.spec.Classify(r)
		popup := e.spec.Content(r, now)
		popup.Position = pos
		var fields map[string]any
		if e.spec.Fields != nil {
			fields = e.spec.Fields(r)
		}
		var last time.Time
		if e.spec.LastUpdate != nil {
			last = e.spec.LastUpdate(r)
		}

		if m, ok := e.markers.Get(id); ok {
			dataChanged := m.Position != pos || !reflect.DeepEqual(m.Fields, fields)
			dirty := dataChanged || m.Style != style || !reflect.DeepEqual(m.Popup, popup)

			m.Position = pos
			m.Style = style
			m.Popup = popup
			m.Fields = fields
			m.LastUpdate = last
			if dataChanged {
				m.DateUpdated = now
				changed = append(changed, m.Clone())
			}

			if e.visible {
				switch {
				case !m.Visible:
					m.Visible = true
					e.canvas.Attach(m.Clone())
				case dirty:
					e.canvas.Update(m.Clone())
				}
			}
			continue
		}

		m := &core.Marker{
			ID:          id,
			Overlay:     e.spec.Name,
			Position:    pos,
			Style:       style,
			Popup:       popup,
			Fields:      fields,
			LastUpdate:  last,
			DateUpdated: now,
		}
		e.markers.Set(m)
		if e.visible {
			m.Visible = true
			e.canvas.Attach(m.Clone())
		}
		if err := e.canvas.OnClick(e.spec.Name, id, e.clickHandler(id)); err != nil {
			e.log.Warn("Click handler not registered", "id", id, "error", err)
		}
		changed = append(changed, m.Clone())
		created++
	}

	attached := 0
	e.markers.Range(func(m *core.Marker) bool {
		if _, ok := seen[m.ID]; !ok && m.Visible {
			e.canvas.Detach(e.spec.Name, m.ID)
			m.Visible = false
			if m.ID == e.selected {
				e.selected = ""
				lost = true
			}
		}
		if m.Visible {
			attached++
		}
		return true
	})

	e.metrics.attached(e.baseCtx, e.spec.Name, attached)
	e.log.Debug("Rendered", "records", len(e.snapshot), "created", created, "attached", attached)
	return changed, lost
}

func (e *Engine[R]) clickHandler(id string) func() {
	return func() {
		e.canvas.ClosePopup()

		e.mu.Lock()
		m, ok := e.markers.Get(id)
		if !ok || !m.Visible {
			e.mu.Unlock()
			return
		}
		e.selected = id
		popup := m.Clone().Popup
		e.mu.Unlock()

		e.canvas.OpenPopup(e.spec.Name, id, popup, func() { e.clearSelected(id) })
	}
}

func (e *Engine[R]) clearSelected(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.selected == id {
		e.selected = ""
	}
}

func (e *Engine[R]) idleTick() {
	e.Fetch(e.context())
}

func (e *Engine[R]) activeTick() {
	ctx := e.context()
	if e.Fetch(ctx) {
		e.Render(ctx)
	}
}

func (e *Engine[R]) context() context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.baseCtx
}

func (e *Engine[R]) record(changed []core.Marker) {
	if e.opts.Recorder == nil {
		return
	}
	for i := range changed {
		if err := e.opts.Recorder.RecordMarker(&changed[i]); err != nil {
			e.log.Warn("Failed to record marker", "id", changed[i].ID, "error", err)
			return
		}
	}
}

func (e *Engine[R]) notify(key string, kind core.NotificationType) {
	msg := e.opts.Messages.Get(key)
	if msg == "" {
		return
	}
	e.canvas.Notify(core.Notification{Message: msg, Type: kind, AutoHide: 5, Floating: true})
}

// Status summarizes the engine for monitoring.
func (e *Engine[R]) Status() core.OverlayStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	attached := 0
	e.markers.Range(func(m *core.Marker) bool {
		if m.Visible {
			attached++
		}
		return true
	})
	return core.OverlayStatus{
		Name:     e.spec.Name,
		State:    e.state,
		Visible:  e.visible,
		Markers:  e.markers.Len(),
		Attached: attached,
		Records:  len(e.snapshot),
		Updated:  e.updated,
		Metrics:  maps.Clone(e.derived),
	}
}

// Markers returns copies of all known markers ordered by id.
func (e *Engine[R]) Markers() []core.Marker {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.markers.Snapshot()
}

// Selected returns the id of the marker whose popup is open, if any.
func (e *Engine[R]) Selected() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selected
}

// Close stops every timer. The engine ignores later Show calls.
func (e *Engine[R]) Close() {
	e.mu.Lock()
	e.closed = true
	e.wanted = false
	e.stopRetryLocked()
	e.watcher.Stop()
	e.mu.Unlock()

	if e.spec.Stop != nil {
		e.spec.Stop()
	}
}
