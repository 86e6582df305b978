// Package waste renders the waste collection trucks.
package waste

import (
	"html/template"
	"time"

	"github.com/orasdigital/citymap/internal/config"
	"github.com/orasdigital/citymap/internal/dataset"
	"github.com/orasdigital/citymap/internal/overlay"
	"github.com/orasdigital/citymap/internal/util"
	"github.com/orasdigital/citymap/pkg/core"
)

const color = "#97b534"

// Vehicle is the last known position of a waste collection truck.
type Vehicle struct {
	VehicleID   util.String    `json:"VehicleId"`
	PlateNumber util.String    `json:"PlateNumber"`
	LastRecord  util.Timestamp `json:"LastRecordDT"`
	Latitude    util.Float     `json:"LastLatitude"`
	Longitude   util.Float     `json:"LastLongitude"`
}

var popupTemplate = template.Must(template.New("waste").Parse(
	`<h6>{{.LastUpdateLabel}}</h6><p>{{.LastUpdate}}</p>`))

// Spec builds the waste collection overlay.
func Spec(opts overlay.Options) dataset.Spec[Vehicle] {
	return dataset.Spec[Vehicle]{
		Name:     config.OverlayWaste,
		Resource: opts.Resource,
		Decode:   overlay.Decode[Vehicle],
		StableID: func(v Vehicle) string { return string(v.VehicleID) },
		Validate: func(v Vehicle, _ time.Time) bool {
			return v.Latitude != 0 && v.Longitude != 0
		},
		Position: func(v Vehicle) core.LatLng {
			return core.LatLng{Lat: float64(v.Latitude), Lng: float64(v.Longitude)}
		},
		Classify: func(Vehicle) core.Style {
			return core.Style{
				Shape:      core.ShapePin,
				Background: color,
				Border:     color,
				Glyph:      "♺",
				GlyphColor: "#fff",
			}
		},
		Content: func(v Vehicle, _ time.Time) core.Popup {
			return core.Popup{
				Title: string(v.PlateNumber),
				Content: overlay.Render(popupTemplate, map[string]any{
					"LastUpdateLabel": opts.Label("wasteCollection.lastUpdate"),
					"LastUpdate":      opts.Time(v.LastRecord.Time),
				}),
			}
		},
		Fields: func(v Vehicle) map[string]any {
			return map[string]any{"plate": string(v.PlateNumber)}
		},
		LastUpdate: func(v Vehicle) time.Time { return v.LastRecord.Time },
		Metrics: func(vehicles []Vehicle) map[string]float64 {
			return map[string]float64{"vehicles": float64(len(vehicles))}
		},
	}
}
