// Package geo converts marker positions for storage and export.
package geo

import (
	"errors"
	"strconv"
	"strings"

	"github.com/orasdigital/citymap/pkg/core"
	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"
)

// Positions are stored as EPSG:3857 points in WKB so SQLite can keep them
// without spatial extensions.

// ErrInvalidCoordinates is returned when the coordinates are invalid
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// ParseLatLng parses a "lat,lng" string.
func ParseLatLng(coords string) (core.LatLng, error) {
	parts := strings.Split(coords, ",")
	if len(parts) != 2 {
		return core.LatLng{}, ErrInvalidCoordinates
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return core.LatLng{}, ErrInvalidCoordinates
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return core.LatLng{}, ErrInvalidCoordinates
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return core.LatLng{}, ErrInvalidCoordinates
	}
	return core.LatLng{Lat: lat, Lng: lng}, nil
}

// LatLngFromSlice reads a [lat, lng] pair such as the configured map center.
func LatLngFromSlice(v []float64) (core.LatLng, error) {
	if len(v) != 2 {
		return core.LatLng{}, ErrInvalidCoordinates
	}
	return core.LatLng{Lat: v[0], Lng: v[1]}, nil
}

// Coords3857From4326 converts a WGS84 position into a web mercator point.
func Coords3857From4326(p core.LatLng) (geom.Point, error) {
	if p.IsZero() {
		return geom.NewEmptyPoint(geom.DimXY), ErrInvalidCoordinates
	}
	f := wgs84.EPSG().Transform(4326, 3857)
	x, y, _ := f(p.Lng, p.Lat, 0)
	point, err := geom.NewPoint(geom.Coordinates{
		XY:   geom.XY{X: x, Y: y},
		Type: geom.DimXY,
	})
	if err != nil {
		return geom.NewEmptyPoint(geom.DimXY), err
	}
	return point, nil
}

// Point returns p in orb's lng/lat order.
func Point(p core.LatLng) orb.Point {
	return orb.Point{p.Lng, p.Lat}
}

// Distance returns the great-circle distance in meters.
func Distance(a, b core.LatLng) float64 {
	return orbgeo.Distance(Point(a), Point(b))
}

// Bound returns the box enclosing every marker position.
func Bound(markers []core.Marker) orb.Bound {
	mp := make(orb.MultiPoint, 0, len(markers))
	for _, m := range markers {
		mp = append(mp, Point(m.Position))
	}
	return mp.Bound()
}
