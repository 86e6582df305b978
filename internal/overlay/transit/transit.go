// Package transit renders the live public transportation vehicles, joined
// against the static routes table and the trips table.
package transit

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/orasdigital/citymap/internal/config"
	"github.com/orasdigital/citymap/internal/dataset"
	"github.com/orasdigital/citymap/internal/overlay"
	"github.com/orasdigital/citymap/internal/util"
	"github.com/orasdigital/citymap/internal/watcher"
	"github.com/orasdigital/citymap/pkg/core"
)

// MaxAgeMinutes drops vehicles that have not reported for an hour.
const MaxAgeMinutes = 60

// Vehicle is one live vehicle position.
type Vehicle struct {
	ID        util.String    `json:"id"`
	Label     util.String    `json:"label"`
	Timestamp util.Timestamp `json:"timestamp"`
	Latitude  util.Float     `json:"latitude"`
	Longitude util.Float     `json:"longitude"`
	RouteID   util.String    `json:"route_id"`
	TripID    util.String    `json:"trip_id"`
	Speed     util.Float     `json:"speed"`
}

type colors struct{ background, foreground string }

// routeColors is keyed by route short name; "0" is the default.
var routeColors = map[string]colors{
	"0":  {"#a2238e", "#fff"},
	"1":  {"#ec008c", "#fff"},
	"3":  {"#00a650", "#fff"},
	"5":  {"#e77817", "#fff"},
	"6":  {"#f9c0c1", "#222"},
	"7":  {"#2e3092", "#fff"},
	"8":  {"#d2e288", "#222"},
	"9":  {"#4ea391", "#fff"},
	"11": {"#f05b72", "#fff"},
	"13": {"#00adef", "#222"},
}

// RouteColors returns the background and glyph colors of a route.
func RouteColors(shortName string) (background, foreground string) {
	c, ok := routeColors[shortName]
	if !ok {
		c = routeColors["0"]
	}
	return c.background, c.foreground
}

// Source fetches API resources and static files.
type Source interface {
	dataset.Fetcher
	Get(ctx context.Context, url string) ([]byte, error)
}

// Config configures the transit overlay.
type Config struct {
	Options       overlay.Options
	TripsResource string
	TripsInterval time.Duration
	RoutesURL     string
	Logger        *slog.Logger
}

// Overlay owns the routes and trips tables and the trips refresh timer.
type Overlay struct {
	cfg    Config
	src    Source
	lookup *Lookup
	trips  *watcher.Watcher
	log    *slog.Logger

	mu      sync.Mutex
	loading chan struct{} // closed when the initial table load returns
	cancel  context.CancelFunc
}

// New creates the overlay. Tables stay empty until the background load
// started by Start completes, or until the first render.
func New(src Source, cfg Config) *Overlay {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Overlay{
		cfg:    cfg,
		src:    src,
		lookup: NewLookup(),
		trips:  watcher.New(),
		log:    cfg.Logger.With("overlay", config.OverlayTransit),
	}
}

// Lookup exposes the joined tables.
func (o *Overlay) Lookup() *Lookup { return o.lookup }

// LoadRoutes replaces the routes table from the static routes file.
func (o *Overlay) LoadRoutes(ctx context.Context) error {
	if o.cfg.RoutesURL == "" {
		return nil
	}
	raw, err := o.src.Get(ctx, o.cfg.RoutesURL)
	if err != nil {
		return fmt.Errorf("load routes: %w", err)
	}
	routes, err := overlay.Decode[Route](raw)
	if err != nil {
		return fmt.Errorf("load routes: %w", err)
	}
	o.lookup.SetRoutes(routes)
	o.log.Debug("Routes loaded", "routes", len(routes))
	return nil
}

// LoadTrips replaces the trips table from the API.
func (o *Overlay) LoadTrips(ctx context.Context) error {
	if o.cfg.TripsResource == "" {
		return nil
	}
	raw, err := o.src.Fetch(ctx, o.cfg.TripsResource)
	if err != nil {
		return fmt.Errorf("load trips: %w", err)
	}
	trips, err := overlay.Decode[Trip](raw)
	if err != nil {
		return fmt.Errorf("load trips: %w", err)
	}
	o.lookup.SetTrips(trips)
	o.log.Debug("Trips loaded", "trips", len(trips))
	return nil
}

// start loads both tables in the background and arms the trips refresh.
func (o *Overlay) start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	loading := make(chan struct{})
	o.mu.Lock()
	o.loading = loading
	o.cancel = cancel
	o.mu.Unlock()

	go func() {
		defer close(loading)
		if err := o.LoadRoutes(ctx); err != nil {
			o.log.Warn("Routes unavailable", "error", err)
		}
		if err := o.LoadTrips(ctx); err != nil {
			o.log.Warn("Trips unavailable", "error", err)
		}
	}()

	if o.cfg.TripsInterval > 0 {
		o.trips.Set(o.cfg.TripsInterval, func() {
			if err := o.LoadTrips(ctx); err != nil {
				o.log.Warn("Trips refresh failed", "error", err)
			}
		})
	}
}

// stop cancels the initial load, waits for it and stops the trips refresh.
func (o *Overlay) stop() {
	o.trips.Stop()
	o.mu.Lock()
	cancel, loading := o.cancel, o.loading
	o.mu.Unlock()
	if cancel != nil {
		cancel()
		<-loading
	}
}

// prepare waits for the initial load, then reloads any table that is still
// empty before a render.
func (o *Overlay) prepare(ctx context.Context) {
	o.mu.Lock()
	loading := o.loading
	o.mu.Unlock()
	if loading != nil {
		select {
		case <-loading:
		case <-ctx.Done():
			return
		}
	}

	routes, trips := o.lookup.Len()
	if routes == 0 {
		if err := o.LoadRoutes(ctx); err != nil {
			o.log.Debug("Routes unavailable", "error", err)
		}
	}
	if trips == 0 {
		if err := o.LoadTrips(ctx); err != nil {
			o.log.Debug("Trips unavailable", "error", err)
		}
	}
}

var popupTemplate = template.Must(template.New("transit").Parse(
	`<ul>` +
		`<li><strong>{{.DirectionLabel}}: {{.HeadSign}}</strong></li>` +
		`<li title="{{.Timestamp}}">{{.LastUpdateLabel}}: {{.TimeAgo}}</li>` +
		`<li>{{.IdentifierLabel}}: {{.Label}}</li>` +
		`<li>{{.SpeedLabel}}: {{.Speed}}</li>` +
		`</ul>`))

func (o *Overlay) route(v Vehicle) Route {
	r, _ := o.lookup.Route(string(v.RouteID))
	return r
}

// Spec builds the dataset spec of the overlay.
func (o *Overlay) Spec() dataset.Spec[Vehicle] {
	opts := o.cfg.Options
	return dataset.Spec[Vehicle]{
		Name:     config.OverlayTransit,
		Resource: opts.Resource,
		Decode:   overlay.Decode[Vehicle],
		StableID: func(v Vehicle) string { return string(v.ID) },
		Validate: func(v Vehicle, now time.Time) bool {
			return v.Latitude != 0 && v.Longitude != 0 &&
				v.RouteID != "" && v.TripID != "" &&
				o.route(v).LongName != "" &&
				util.MinutesSince(v.Timestamp.Time, now) < MaxAgeMinutes
		},
		Position: func(v Vehicle) core.LatLng {
			return core.LatLng{Lat: float64(v.Latitude), Lng: float64(v.Longitude)}
		},
		Classify: func(v Vehicle) core.Style {
			short := string(o.route(v).ShortName)
			bg, fg := RouteColors(short)
			return core.Style{
				Shape:      core.ShapePin,
				Background: bg,
				Border:     bg,
				Glyph:      short,
				GlyphColor: fg,
			}
		},
		Content: func(v Vehicle, now time.Time) core.Popup {
			r := o.route(v)
			trip, _ := o.lookup.Trip(string(v.TripID))
			minutes := util.MinutesSince(v.Timestamp.Time, now)
			return core.Popup{
				Title:           string(r.LongName),
				TitleLabel:      string(r.ShortName),
				TitleLabelClass: []string{"route", "route-" + string(r.ShortName)},
				Content: overlay.Render(popupTemplate, map[string]any{
					"DirectionLabel":  opts.Label("transportation.direction"),
					"HeadSign":        string(trip.HeadSign),
					"Timestamp":       v.Timestamp.UTC().Format(time.RFC3339),
					"LastUpdateLabel": opts.Label("transportation.lastUpdate"),
					"TimeAgo":         overlay.Fill(opts.Label("transportation.tkTimeAgo"), "TIME", strconv.Itoa(minutes)),
					"IdentifierLabel": opts.Label("transportation.identifier"),
					"Label":           string(v.Label),
					"SpeedLabel":      opts.Label("transportation.speed"),
					"Speed":           overlay.Fill(opts.Label("transportation.tkSpeed"), "SPEED", overlay.Number(float64(v.Speed))),
				}),
			}
		},
		Fields: func(v Vehicle) map[string]any {
			return map[string]any{
				"label":   string(v.Label),
				"routeId": string(v.RouteID),
				"tripId":  string(v.TripID),
				"speed":   float64(v.Speed),
			}
		},
		LastUpdate: func(v Vehicle) time.Time { return v.Timestamp.Time },
		Metrics: func(vehicles []Vehicle) map[string]float64 {
			routes := make(map[string]struct{})
			for _, v := range vehicles {
				if v.RouteID != "" {
					routes[string(v.RouteID)] = struct{}{}
				}
			}
			return map[string]float64{
				"vehicles": float64(len(vehicles)),
				"routes":   float64(len(routes)),
			}
		},
		Start:   o.start,
		Prepare: o.prepare,
		Stop:    o.stop,
	}
}
