package airquality

import (
	"math"

	"github.com/orasdigital/citymap/internal/config"
)

// Breakpoint is one half-open [Low, High) range of a classification table.
type Breakpoint struct {
	Low   float64
	High  float64
	Level string
	Color string
	CSS   string
	Range string
}

// Bucket is the display styling of a classified value.
type Bucket struct {
	Level       string
	Color       string
	Heading     string
	Description string
	CSS         string
	Range       string
}

// Fallback is returned for values outside every breakpoint.
var Fallback = Bucket{Color: "transparent"}

// Table is a sorted, non-overlapping list of breakpoints.
type Table []Breakpoint

// ConcentrationTable classifies PM2.5 concentrations in µg/m³.
var ConcentrationTable = Table{
	{Low: 0, High: 12, Level: "healthy", Color: "#00e400", CSS: "good", Range: "0 - 12"},
	{Low: 12, High: 35, Level: "moderate", Color: "#ffff00", CSS: "moderate", Range: "12 - 35"},
	{Low: 35, High: 55, Level: "sensitive", Color: "#ff7d00", CSS: "unhealthy-sensitive", Range: "35 - 55"},
	{Low: 55, High: 150, Level: "unhealthy", Color: "#fe0000", CSS: "unhealthy", Range: "55 - 150"},
	{Low: 150, High: 250, Level: "veryUnhealthy", Color: "#99004c", CSS: "very-unhealthy", Range: "150 - 250"},
	{Low: 250, High: 500, Level: "hazardous", Color: "#7e0022", CSS: "hazardous", Range: "250 - 500"},
}

// IndexTable classifies AQI values. Values in [300, 400) match no
// breakpoint and classify as Fallback; the thresholds for that range have
// not been confirmed against the AQI standard.
var IndexTable = Table{
	{Low: 0, High: 50, Level: "healthy", Color: "#00e400", CSS: "good", Range: "0 - 50"},
	{Low: 50, High: 100, Level: "moderate", Color: "#ffff00", CSS: "moderate", Range: "51 - 100"},
	{Low: 100, High: 150, Level: "sensitive", Color: "#ff7d00", CSS: "unhealthy-sensitive", Range: "101 - 150"},
	{Low: 150, High: 200, Level: "unhealthy", Color: "#fe0000", CSS: "unhealthy", Range: "151 - 200"},
	{Low: 200, High: 300, Level: "veryUnhealthy", Color: "#99004c", CSS: "very-unhealthy", Range: "201 - 300"},
	{Low: 400, High: 500, Level: "hazardous", Color: "#7e0022", CSS: "hazardous", Range: "401 - 500"},
}

// Lookup returns the breakpoint containing c.
func (t Table) Lookup(c float64) (Breakpoint, bool) {
	if math.IsNaN(c) {
		return Breakpoint{}, false
	}
	for _, bp := range t {
		if c >= bp.Low && c < bp.High {
			return bp, true
		}
	}
	return Breakpoint{}, false
}

// Classify maps c to its bucket, reading heading and description from
// messages.
func (t Table) Classify(c float64, messages config.Text) Bucket {
	bp, ok := t.Lookup(c)
	if !ok {
		return Fallback
	}
	return Bucket{
		Level:       bp.Level,
		Color:       bp.Color,
		Heading:     messages.Get("airQuality.title." + bp.Level),
		Description: messages.Get("airQuality.message." + bp.Level),
		CSS:         bp.CSS,
		Range:       bp.Range,
	}
}

// Pollutant selects an AQI interpolation scale.
type Pollutant string

const (
	PM25 Pollutant = "pm25"
	PM10 Pollutant = "pm10"
)

var (
	indexRange = []float64{0, 50, 100, 150, 200, 300, 400, 500}
	indexScale = map[Pollutant][]float64{
		PM25: {0, 12, 35.5, 55.5, 150.5, 250.5, 350.5, 500.5},
		PM10: {0, 55, 155, 255, 355, 425, 505, 605},
	}
)

// CalculateIndex converts a concentration into an AQI value by linear
// interpolation inside its scale segment. It reports false for unknown
// pollutants and concentrations outside the scale.
func CalculateIndex(concentration float64, p Pollutant) (int, bool) {
	scale, ok := indexScale[p]
	if !ok {
		return 0, false
	}
	for i := 0; i < len(scale)-1; i++ {
		if concentration >= scale[i] && concentration < scale[i+1] {
			v := indexRange[i] + (concentration-scale[i])*(indexRange[i+1]-indexRange[i])/(scale[i+1]-scale[i])
			return int(math.Round(v)), true
		}
	}
	return 0, false
}
