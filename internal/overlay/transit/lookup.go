package transit

import (
	"sync"

	"github.com/orasdigital/citymap/internal/util"
)

// Route is one line of the static routes table.
type Route struct {
	RouteID   util.String `json:"route_id"`
	ShortName util.String `json:"route_short_name"`
	LongName  util.String `json:"route_long_name"`
	Type      util.Float  `json:"route_type"`
	Color     util.String `json:"route_color"`
}

// Trip is one row of the trips table.
type Trip struct {
	TripID    util.String `json:"trip_id"`
	RouteID   util.String `json:"route_id"`
	HeadSign  util.String `json:"trip_headsign"`
	Direction util.Float  `json:"direction_id"`
	ShapeID   util.String `json:"shape_id"`
}

// Lookup holds the routes and trips vehicles are joined against.
type Lookup struct {
	mu     sync.RWMutex
	routes map[string]Route
	trips  map[string]Trip
}

// NewLookup creates empty tables.
func NewLookup() *Lookup {
	return &Lookup{routes: make(map[string]Route), trips: make(map[string]Trip)}
}

// SetRoutes replaces the routes table.
func (l *Lookup) SetRoutes(routes []Route) {
	m := make(map[string]Route, len(routes))
	for _, r := range routes {
		if r.RouteID != "" {
			m[string(r.RouteID)] = r
		}
	}
	l.mu.Lock()
	l.routes = m
	l.mu.Unlock()
}

// SetTrips replaces the trips table.
func (l *Lookup) SetTrips(trips []Trip) {
	m := make(map[string]Trip, len(trips))
	for _, t := range trips {
		if t.TripID != "" {
			m[string(t.TripID)] = t
		}
	}
	l.mu.Lock()
	l.trips = m
	l.mu.Unlock()
}

// Route returns the route with the given id.
func (l *Lookup) Route(id string) (Route, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.routes[id]
	return r, ok
}

// Trip returns the trip with the given id.
func (l *Lookup) Trip(id string) (Trip, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.trips[id]
	return t, ok
}

// Len returns the sizes of the routes and trips tables.
func (l *Lookup) Len() (routes, trips int) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.routes), len(l.trips)
}
