// Package airquality renders the air quality sensors as colored circles.
package airquality

import (
	"html/template"
	"math"
	"time"

	"github.com/orasdigital/citymap/internal/config"
	"github.com/orasdigital/citymap/internal/dataset"
	"github.com/orasdigital/citymap/internal/overlay"
	"github.com/orasdigital/citymap/internal/util"
	"github.com/orasdigital/citymap/pkg/core"
)

// MaxAgeMinutes drops sensors that have not reported for a day.
const MaxAgeMinutes = 1440

const radius = 150

// Sensor is one air quality sensor reading. Missing values decode to zero.
type Sensor struct {
	ID        util.String    `json:"id"`
	City      util.String    `json:"city"`
	Latitude  util.Float     `json:"latitude"`
	Longitude util.Float     `json:"longitude"`
	TimeLast  util.Timestamp `json:"timelast"`
	AQI       util.Float     `json:"aqi"`

	PM1         util.Float `json:"last_pm1"`
	PM25        util.Float `json:"last_pm25"`
	PM10        util.Float `json:"last_pm10"`
	Temperature util.Float `json:"last_temperature"`
	Humidity    util.Float `json:"last_humidity"`

	AvgPM1         util.Float `json:"avg_pm1"`
	AvgPM25        util.Float `json:"avg_pm25"`
	AvgPM10        util.Float `json:"avg_pm10"`
	AvgTemperature util.Float `json:"avg_temperature"`
	AvgHumidity    util.Float `json:"avg_humidity"`
}

// Index returns the AQI reported by the feed or, when it is missing, the
// worse of the PM2.5 and PM10 sub-indexes of the sensor averages.
func (s Sensor) Index() (int, bool) {
	if s.AQI > 0 {
		return int(math.Round(float64(s.AQI))), true
	}
	pm25, ok25 := CalculateIndex(float64(s.AvgPM25), PM25)
	pm10, ok10 := CalculateIndex(float64(s.AvgPM10), PM10)
	switch {
	case ok25 && ok10:
		return max(pm25, pm10), true
	case ok25:
		return pm25, true
	case ok10:
		return pm10, true
	}
	return 0, false
}

var popupTemplate = template.Must(template.New("airQuality").Parse(
	`<p>{{.Description}}</p>` +
		`<h6>{{.SensorValues}}</h6>` +
		`<ul>` +
		`<li>{{.PM1Label}}: {{.PM1}} µg/m³</li>` +
		`<li>{{.PM25Label}}: {{.PM25}} µg/m³</li>` +
		`<li>{{.PM10Label}}: {{.PM10}} µg/m³</li>` +
		`<li>{{.TemperatureLabel}}: {{.Temperature}} °C</li>` +
		`{{if .Index}}<li>{{.IndexLabel}}: {{.Index}}{{with .IndexLevel}} ({{.}}){{end}}</li>{{end}}` +
		`</ul>` +
		`<h6>{{.LastUpdateLabel}}</h6><p>{{.LastUpdate}}</p>`))

// Spec builds the air quality overlay for sensors located in city.
func Spec(opts overlay.Options, city string) dataset.Spec[Sensor] {
	return dataset.Spec[Sensor]{
		Name:     config.OverlayAirQuality,
		Resource: opts.Resource,
		Decode:   overlay.Decode[Sensor],
		StableID: func(s Sensor) string { return string(s.ID) },
		Validate: func(s Sensor, now time.Time) bool {
			return s.Latitude != 0 && s.Longitude != 0 &&
				string(s.City) == city &&
				util.MinutesSince(s.TimeLast.Time, now) < MaxAgeMinutes
		},
		Position: func(s Sensor) core.LatLng {
			return core.LatLng{Lat: float64(s.Latitude), Lng: float64(s.Longitude)}
		},
		Classify: func(s Sensor) core.Style {
			b := ConcentrationTable.Classify(float64(s.AvgPM25), opts.Messages)
			return core.Style{
				Shape:       core.ShapeCircle,
				Background:  b.Color,
				StrokeColor: b.Color,
				StrokeAlpha: .3,
				FillOpacity: .4,
				Radius:      radius,
			}
		},
		Content: func(s Sensor, _ time.Time) core.Popup {
			b := ConcentrationTable.Classify(float64(s.AvgPM25), opts.Messages)
			data := map[string]any{
				"Description":      b.Description,
				"SensorValues":     opts.Label("airQuality.sensorValues"),
				"PM1Label":         opts.Label("airQuality.pm1"),
				"PM25Label":        opts.Label("airQuality.pm25"),
				"PM10Label":        opts.Label("airQuality.pm10"),
				"TemperatureLabel": opts.Label("airQuality.temperature"),
				"IndexLabel":       opts.Label("airQuality.aqi"),
				"LastUpdateLabel":  opts.Label("airQuality.lastUpdate"),
				"PM1":              overlay.Number(float64(s.AvgPM1)),
				"PM25":             overlay.Number(float64(s.AvgPM25)),
				"PM10":             overlay.Number(float64(s.AvgPM10)),
				"Temperature":      overlay.Number(float64(s.AvgTemperature)),
				"LastUpdate":       opts.Time(s.TimeLast.Time),
			}
			if idx, ok := s.Index(); ok {
				data["Index"] = idx
				data["IndexLevel"] = IndexTable.Classify(float64(idx), opts.Messages).Heading
			}
			return core.Popup{
				Title:           b.Heading,
				TitleLabel:      overlay.Number(float64(s.AvgPM25)),
				TitleLabelClass: []string{"aqi", "aqi-" + b.CSS},
				Content:         overlay.Render(popupTemplate, data),
			}
		},
		Fields: func(s Sensor) map[string]any {
			f := map[string]any{
				"avgPm1":         float64(s.AvgPM1),
				"avgPm25":        float64(s.AvgPM25),
				"avgPm10":        float64(s.AvgPM10),
				"avgTemperature": float64(s.AvgTemperature),
			}
			if idx, ok := s.Index(); ok {
				f["aqi"] = idx
			}
			return f
		},
		LastUpdate: func(s Sensor) time.Time { return s.TimeLast.Time },
		Metrics: func(sensors []Sensor) map[string]float64 {
			var n, sum float64
			for _, s := range sensors {
				if string(s.City) != city {
					continue
				}
				n++
				sum += float64(s.AvgPM25)
			}
			out := map[string]float64{"sensors": n}
			if n > 0 {
				out["avgPm25"] = sum / n
			}
			return out
		},
	}
}
