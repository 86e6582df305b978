package core

import "time"

// LatLng is a WGS84 coordinate pair.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// IsZero reports whether either coordinate is missing.
func (p LatLng) IsZero() bool {
	return p.Lat == 0 || p.Lng == 0
}

// Shape selects how a marker is drawn.
type Shape string

const (
	ShapePin    Shape = "pin"
	ShapeCircle Shape = "circle"
)

// Style holds the drawing attributes of a marker.
type Style struct {
	Shape       Shape   `json:"shape"`
	Background  string  `json:"background,omitempty"`
	Border      string  `json:"border,omitempty"`
	Glyph       string  `json:"glyph,omitempty"`
	GlyphColor  string  `json:"glyphColor,omitempty"`
	Radius      float64 `json:"radius,omitempty"`
	FillOpacity float64 `json:"fillOpacity,omitempty"`
	StrokeColor string  `json:"strokeColor,omitempty"`
	StrokeAlpha float64 `json:"strokeOpacity,omitempty"`
	ZIndex      int     `json:"zIndex,omitempty"`
	// Cluster asks the map to group nearby markers of the overlay.
	Cluster bool `json:"cluster,omitempty"`
}

// Popup is the precomputed detail window of a marker.
type Popup struct {
	Title           string   `json:"title"`
	TitleLabel      string   `json:"titleLabel,omitempty"`
	TitleLabelClass []string `json:"titleLabelClass,omitempty"`
	Content         string   `json:"content"`
	Position        LatLng   `json:"position"`
}

// Marker is one rendered map entity owned by an overlay.
// ID is the stable key taken from the source record.
type Marker struct {
	ID          string         `json:"id"`
	Overlay     string         `json:"overlay"`
	Position    LatLng         `json:"position"`
	Style       Style          `json:"style"`
	Popup       Popup          `json:"popup"`
	Fields      map[string]any `json:"fields,omitempty"`
	Visible     bool           `json:"visible"`
	LastUpdate  time.Time      `json:"lastUpdate"`
	DateUpdated time.Time      `json:"dateUpdated"`
}

// Key identifies the marker across overlays.
func (m Marker) Key() string {
	return MarkerKey(m.Overlay, m.ID)
}

// MarkerKey joins an overlay name and a marker id.
func MarkerKey(overlay, id string) string {
	return overlay + "/" + id
}

// Clone returns a copy that shares no mutable state with m.
func (m Marker) Clone() Marker {
	c := m
	if m.Fields != nil {
		c.Fields = make(map[string]any, len(m.Fields))
		for k, v := range m.Fields {
			c.Fields[k] = v
		}
	}
	if m.Popup.TitleLabelClass != nil {
		c.Popup.TitleLabelClass = append([]string(nil), m.Popup.TitleLabelClass...)
	}
	return c
}
