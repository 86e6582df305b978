package airquality

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/orasdigital/citymap/internal/config"
	"github.com/orasdigital/citymap/internal/dataset"
	"github.com/orasdigital/citymap/internal/mapview"
	"github.com/orasdigital/citymap/internal/overlay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var messages = config.Text{
	"airquality.title.moderate":    "Moderate",
	"airquality.message.moderate":  "Acceptable air.",
	"airquality.title.sensitive":   "Sensitive",
	"airquality.message.sensitive": "Sensitive groups beware.",
}

func TestConcentrationTable_Boundaries(t *testing.T) {
	tests := []struct {
		c     float64
		level string
		color string
	}{
		{0, "healthy", "#00e400"},
		{11.99, "healthy", "#00e400"},
		{12, "moderate", "#ffff00"},
		{20, "moderate", "#ffff00"},
		{35, "sensitive", "#ff7d00"},
		{40, "sensitive", "#ff7d00"},
		{55, "unhealthy", "#fe0000"},
		{150, "veryUnhealthy", "#99004c"},
		{250, "hazardous", "#7e0022"},
		{499.9, "hazardous", "#7e0022"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.c), func(t *testing.T) {
			b := ConcentrationTable.Classify(tt.c, messages)
			assert.Equal(t, tt.level, b.Level)
			assert.Equal(t, tt.color, b.Color)
		})
	}
}

func TestConcentrationTable_OutOfRange(t *testing.T) {
	for _, c := range []float64{-1, 500, 1000} {
		assert.Equal(t, Fallback, ConcentrationTable.Classify(c, messages), "c=%v", c)
	}
}

func TestTables_Partition(t *testing.T) {
	for name, table := range map[string]Table{"concentration": ConcentrationTable, "index": IndexTable} {
		for i := 1; i < len(table); i++ {
			assert.LessOrEqual(t, table[i-1].High, table[i].Low, "%s: overlap at %d", name, i)
		}
		for c := table[0].Low; c < table[len(table)-1].High; c += 0.5 {
			matches := 0
			for _, bp := range table {
				if c >= bp.Low && c < bp.High {
					matches++
				}
			}
			assert.LessOrEqual(t, matches, 1, "%s: %v matched %d buckets", name, c, matches)
		}
	}
}

func TestIndexTable_Gap(t *testing.T) {
	assert.Equal(t, "veryUnhealthy", IndexTable.Classify(299, nil).Level)
	assert.Equal(t, Fallback, IndexTable.Classify(300, nil))
	assert.Equal(t, Fallback, IndexTable.Classify(350, nil))
	assert.Equal(t, Fallback, IndexTable.Classify(399.9, nil))
	assert.Equal(t, "hazardous", IndexTable.Classify(400, nil).Level)
}

func TestClassify_Text(t *testing.T) {
	b := ConcentrationTable.Classify(20, messages)
	assert.Equal(t, "Moderate", b.Heading)
	assert.Equal(t, "Acceptable air.", b.Description)
	assert.Equal(t, "moderate", b.CSS)
	assert.Equal(t, "12 - 35", b.Range)
}

func TestCalculateIndex(t *testing.T) {
	tests := []struct {
		c    float64
		p    Pollutant
		want int
		ok   bool
	}{
		{0, PM25, 0, true},
		{12, PM25, 50, true},
		{40, PM25, 111, true},
		{30, PM10, 27, true},
		{155, PM10, 100, true},
		{600, PM25, 0, false},
		{-5, PM10, 0, false},
		{10, Pollutant("o3"), 0, false},
	}
	for _, tt := range tests {
		got, ok := CalculateIndex(tt.c, tt.p)
		assert.Equal(t, tt.ok, ok, "%v %s", tt.c, tt.p)
		assert.Equal(t, tt.want, got, "%v %s", tt.c, tt.p)
	}
}

func TestSensor_IndexTakesWorse(t *testing.T) {
	s := Sensor{AvgPM25: 40, AvgPM10: 30}
	idx, ok := s.Index()
	require.True(t, ok)
	assert.Equal(t, 111, idx)
}

func TestSensor_IndexPrefersFeedValue(t *testing.T) {
	s := Sensor{AQI: 74.6, AvgPM25: 40}
	idx, ok := s.Index()
	require.True(t, ok)
	assert.Equal(t, 75, idx)
}

func TestContent_ShowsIndexBucket(t *testing.T) {
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	spec := Spec(overlay.Options{Messages: messages}, "Iasi")

	reported := spec.Content(Sensor{AvgPM25: 5, AQI: 80}, now)
	assert.Contains(t, reported.Content, ": 80 (Moderate)</li>")

	gap := spec.Content(Sensor{AQI: 350}, now)
	assert.Contains(t, gap.Content, ": 350</li>", "unclassified index shows no bucket")
}

func TestDecode_Defaults(t *testing.T) {
	sensors, err := overlay.Decode[Sensor]([]byte(`[
		{"id": 7, "city": "Iasi", "latitude": "47.16", "longitude": 27.58, "avg_pm25": null, "timelast": 1760605200}
	]`))
	require.NoError(t, err)
	require.Len(t, sensors, 1)
	s := sensors[0]
	assert.Equal(t, "7", string(s.ID))
	assert.InDelta(t, 47.16, float64(s.Latitude), 1e-9)
	assert.Zero(t, s.AvgPM25)
	assert.Zero(t, s.AvgPM10)
	assert.False(t, s.TimeLast.IsZero())
}

func TestOverlay_EndToEnd(t *testing.T) {
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	body := fmt.Sprintf(`[
		{"id": 1, "city": "Iasi", "latitude": 47.16, "longitude": 27.58, "avg_pm25": 40, "avg_pm10": 30, "timelast": %d},
		{"id": 2, "city": "Cluj", "latitude": 46.77, "longitude": 23.59, "avg_pm25": 10, "timelast": %d},
		{"id": 3, "city": "Iasi", "latitude": 47.17, "longitude": 27.59, "avg_pm25": 10, "timelast": %d}
	]`, now.Add(-10*time.Minute).Unix(), now.Unix(), now.Add(-25*time.Hour).Unix())

	fetches := 0
	fetcher := dataset.FetcherFunc(func(_ context.Context, resource string) ([]byte, error) {
		fetches++
		assert.Equal(t, "cf3f-2309-44d1-8e0c-1137", resource)
		return []byte(body), nil
	})
	canvas := mapview.New(nil, nil)
	opts := overlay.Options{
		Resource: "cf3f-2309-44d1-8e0c-1137",
		Messages: messages,
		Labels:   config.Text{"airquality.pm25": "PM2.5"},
	}
	e, err := dataset.New(Spec(opts, "Iasi"), fetcher, canvas, dataset.Options{
		IdleInterval:   time.Hour,
		ActiveInterval: time.Hour,
		Now:            func() time.Time { return now },
	})
	require.NoError(t, err)
	t.Cleanup(e.Close)

	ctx := context.Background()
	e.Init(ctx)
	e.Show(ctx)

	snap := canvas.Snapshot()
	require.Len(t, snap.Markers, 1)
	m := snap.Markers[0]
	assert.Equal(t, "1", m.ID)
	assert.Equal(t, "#ff7d00", m.Style.Background)
	assert.Equal(t, float64(radius), m.Style.Radius)
	assert.Equal(t, "Sensitive", m.Popup.Title)
	assert.Equal(t, "40", m.Popup.TitleLabel)
	assert.Equal(t, []string{"aqi", "aqi-unhealthy-sensitive"}, m.Popup.TitleLabelClass)
	assert.Contains(t, m.Popup.Content, "PM2.5: 40 µg/m³")
	assert.Contains(t, m.Popup.Content, ": 111 (Sensitive)</li>")
	assert.Equal(t, 1, fetches)

	require.NoError(t, canvas.Click("airQuality", "1"))
	assert.Equal(t, "1", e.Selected())

	status := e.Status()
	assert.Equal(t, float64(2), status.Metrics["sensors"])
	assert.InDelta(t, 25, status.Metrics["avgPm25"], 1e-9)
}

func TestOverlay_ModerateReading(t *testing.T) {
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	spec := Spec(overlay.Options{Messages: messages}, "Iasi")
	s := Sensor{ID: "1", City: "Iasi", Latitude: 47.16, Longitude: 27.58, AvgPM25: 20}
	s.TimeLast.Time = now

	assert.True(t, spec.Validate(s, now))
	assert.Equal(t, "#ffff00", spec.Classify(s).Background)
	assert.Equal(t, "Moderate", spec.Content(s, now).Title)
}
