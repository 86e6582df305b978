package gormstorage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/orasdigital/citymap/internal/geo"
	"github.com/orasdigital/citymap/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
)

// Models lists every table managed by the backend.
var Models = []any{
	&SnapshotRecord{},
	&MarkerState{},
}

// SnapshotRecord is one successful fetch of an overlay resource.
type SnapshotRecord struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	Overlay   string         `json:"overlay" gorm:"size:64;index:idx_snapshot_overlay"`
	Resource  string         `json:"resource" gorm:"size:128"`
	FetchedAt time.Time      `json:"fetchedAt" gorm:"index:idx_snapshot_fetched_at"`
	Records   int            `json:"records"`
	Payload   datatypes.JSON `json:"payload"` // Raw API response
}

// MarkerState is a marker as it was after a change.
type MarkerState struct {
	ID          uint           `json:"id" gorm:"primaryKey"`
	Overlay     string         `json:"overlay" gorm:"size:64;index:idx_marker_overlay"`
	MarkerID    string         `json:"markerId" gorm:"size:128;index:idx_marker_id"`
	Latitude    float64        `json:"latitude"`
	Longitude   float64        `json:"longitude"`
	Position    geom.Point     `json:"position"` // EPSG:3857
	Visible     bool           `json:"visible"`
	Color       string         `json:"color" gorm:"size:32"`
	Title       string         `json:"title" gorm:"size:256"`
	Fields      datatypes.JSON `json:"fields"`
	LastUpdate  time.Time      `json:"lastUpdate"`
	DateUpdated time.Time      `json:"dateUpdated" gorm:"index:idx_marker_date_updated"`
}

// ToSnapshotRecord converts a fetch snapshot into its row.
func ToSnapshotRecord(s core.Snapshot) SnapshotRecord {
	return SnapshotRecord{
		Overlay:   s.Overlay,
		Resource:  s.Resource,
		FetchedAt: s.FetchedAt.UTC(),
		Records:   s.Records,
		Payload:   datatypes.JSON(s.Payload),
	}
}

// ToMarkerState converts a marker into its row.
func ToMarkerState(m core.Marker) (MarkerState, error) {
	fields, err := json.Marshal(m.Fields)
	if err != nil {
		return MarkerState{}, fmt.Errorf("marshal fields of %s: %w", m.Key(), err)
	}
	// an empty point is stored for markers without a position
	position, _ := geo.Coords3857From4326(m.Position)

	color := m.Style.Background
	if color == "" {
		color = m.Style.StrokeColor
	}
	return MarkerState{
		Overlay:     m.Overlay,
		MarkerID:    m.ID,
		Latitude:    m.Position.Lat,
		Longitude:   m.Position.Lng,
		Position:    position,
		Visible:     m.Visible,
		Color:       color,
		Title:       m.Popup.Title,
		Fields:      datatypes.JSON(fields),
		LastUpdate:  m.LastUpdate.UTC(),
		DateUpdated: m.DateUpdated.UTC(),
	}, nil
}
