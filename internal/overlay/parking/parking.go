// Package parking renders the public parking spot sensors.
package parking

import (
	"fmt"
	"html/template"
	"strconv"
	"time"

	"github.com/orasdigital/citymap/internal/config"
	"github.com/orasdigital/citymap/internal/dataset"
	"github.com/orasdigital/citymap/internal/overlay"
	"github.com/orasdigital/citymap/internal/util"
	"github.com/orasdigital/citymap/pkg/core"
)

// Spot states reported by the sensors.
const (
	StateFree     = 1
	StateOccupied = 2
)

var lots = map[string]string{
	"82": "Moldova",
	"83": "Mitoc",
	"84": "Primăria Iași",
	"85": "Prefectura Iași",
	"86": "Primăverii",
	"87": "Podu Roșu",
	"88": "Teatru",
	"89": "Victoria",
	"90": "Hala Centrală",
	"91": "Independenței",
	"92": "Golia",
	"93": "Casa Studenților",
	"94": "Anastasie Panu",
}

// LotName returns the name of a parking lot, or an empty string.
func LotName(parkingID string) string {
	return lots[parkingID]
}

// Spot is one parking spot sensor.
type Spot struct {
	SensorID  util.String `json:"sensorId"`
	ParkingID util.String `json:"parkingId"`
	Number    util.String `json:"numar"`
	State     util.Float  `json:"stare"`
	Latitude  util.Float  `json:"latitude"`
	Longitude util.Float  `json:"longitude"`
}

// Occupied reports whether the spot is taken.
func (s Spot) Occupied() bool { return s.State.Int() == StateOccupied }

// WazeLink returns a Waze navigation deep link to the spot.
func (s Spot) WazeLink() string {
	return fmt.Sprintf("https://www.waze.com/ul?ll=%s%%2C%s&navigate=yes&zoom=17",
		overlay.Number(float64(s.Latitude)), overlay.Number(float64(s.Longitude)))
}

// MapsLink returns a Google Maps driving directions link to the spot.
func (s Spot) MapsLink() string {
	return fmt.Sprintf("https://www.google.com/maps/dir/?api=1&travelmode=driving&dir_action=navigate&destination=%s%%2C%s",
		overlay.Number(float64(s.Latitude)), overlay.Number(float64(s.Longitude)))
}

var popupTemplate = template.Must(template.New("parking").Parse(
	`<ul><li>{{.NameLabel}}: {{.Name}}</li><li>{{.NumberLabel}}: {{.Number}}</li></ul>` +
		`<nav>` +
		`<a href="{{.Waze}}" target="_blank" class="btn btn-default btn-sm">{{.WazeLabel}}</a>` +
		`<a href="{{.Maps}}" target="_blank" class="btn btn-default btn-sm">{{.MapsLabel}}</a>` +
		`</nav>`))

// Spec builds the parking overlay.
func Spec(opts overlay.Options) dataset.Spec[Spot] {
	return dataset.Spec[Spot]{
		Name:     config.OverlayParking,
		Resource: opts.Resource,
		Decode:   overlay.Decode[Spot],
		StableID: func(s Spot) string { return string(s.SensorID) },
		Validate: func(s Spot, _ time.Time) bool {
			return s.Latitude != 0 && s.Longitude != 0
		},
		Position: func(s Spot) core.LatLng {
			return core.LatLng{Lat: float64(s.Latitude), Lng: float64(s.Longitude)}
		},
		Classify: func(s Spot) core.Style {
			style := core.Style{
				Shape:      core.ShapePin,
				Background: "#4cacf6",
				Border:     "#3893d9",
				Glyph:      "P",
				GlyphColor: "#fff",
				Cluster:    true,
			}
			if s.Occupied() {
				style.Background = "#f64c4c"
				style.Border = "#e83636"
			}
			return style
		},
		Content: func(s Spot, _ time.Time) core.Popup {
			title := opts.Label("parking.parkingOccupied")
			if s.State.Int() == StateFree {
				title = opts.Label("parking.parkingFree")
			}
			return core.Popup{
				Title:           title,
				TitleLabel:      "P",
				TitleLabelClass: []string{"parking", "parking-" + strconv.Itoa(s.State.Int())},
				Content: overlay.Render(popupTemplate, map[string]any{
					"NameLabel":   opts.Label("parking.name"),
					"Name":        LotName(string(s.ParkingID)),
					"NumberLabel": opts.Label("parking.number"),
					"Number":      string(s.Number),
					"Waze":        template.URL(s.WazeLink()),
					"WazeLabel":   opts.Label("parking.deepLinkWaze"),
					"Maps":        template.URL(s.MapsLink()),
					"MapsLabel":   opts.Label("parking.deepLinkMaps"),
				}),
			}
		},
		Fields: func(s Spot) map[string]any {
			return map[string]any{
				"state":     s.State.Int(),
				"parkingId": string(s.ParkingID),
				"number":    string(s.Number),
			}
		},
		Metrics: func(spots []Spot) map[string]float64 {
			free := 0
			for _, s := range spots {
				if s.State.Int() == StateFree {
					free++
				}
			}
			return map[string]float64{
				"parkingFree":     float64(free),
				"parkingOccupied": float64(len(spots) - free),
			}
		},
	}
}
