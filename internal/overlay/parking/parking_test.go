package parking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/orasdigital/citymap/internal/config"
	"github.com/orasdigital/citymap/internal/dataset"
	"github.com/orasdigital/citymap/internal/mapview"
	"github.com/orasdigital/citymap/internal/overlay"
	"github.com/orasdigital/citymap/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var labels = config.Text{
	"parking.parkingfree":     "Free",
	"parking.parkingoccupied": "Occupied",
	"parking.name":            "Parking",
	"parking.number":          "Spot",
}

func TestLotName(t *testing.T) {
	assert.Equal(t, "Moldova", LotName("82"))
	assert.Equal(t, "Anastasie Panu", LotName("94"))
	assert.Equal(t, "", LotName("95"))
}

func TestClassify(t *testing.T) {
	spec := Spec(overlay.Options{})

	free := spec.Classify(Spot{State: StateFree})
	assert.Equal(t, "#4cacf6", free.Background)
	assert.Equal(t, "#3893d9", free.Border)
	assert.Equal(t, "P", free.Glyph)

	occupied := spec.Classify(Spot{State: StateOccupied})
	assert.Equal(t, "#f64c4c", occupied.Background)
	assert.Equal(t, "#e83636", occupied.Border)
	assert.True(t, free.Cluster)
	assert.True(t, occupied.Cluster)
}

func TestContent(t *testing.T) {
	spec := Spec(overlay.Options{Labels: labels})
	s := Spot{SensorID: "s1", ParkingID: "84", Number: "12", State: StateFree, Latitude: 47.16, Longitude: 27.58}

	p := spec.Content(s, time.Time{})
	assert.Equal(t, "Free", p.Title)
	assert.Equal(t, "P", p.TitleLabel)
	assert.Equal(t, []string{"parking", "parking-1"}, p.TitleLabelClass)
	assert.Contains(t, p.Content, "Parking: Primăria Iași")
	assert.Contains(t, p.Content, "Spot: 12")
	assert.Contains(t, p.Content, "https://www.waze.com/ul?ll=47.16%2C27.58")
	assert.Contains(t, p.Content, "destination=47.16%2C27.58")

	s.State = StateOccupied
	assert.Equal(t, "Occupied", spec.Content(s, time.Time{}).Title)
}

func TestMetrics(t *testing.T) {
	spec := Spec(overlay.Options{})
	m := spec.Metrics([]Spot{{State: 1}, {State: 2}, {State: 1}, {State: 0}})
	assert.Equal(t, float64(2), m["parkingFree"])
	assert.Equal(t, float64(2), m["parkingOccupied"])
}

// stateful fetcher returning a new body per call
type feed struct {
	mu     sync.Mutex
	bodies []string
}

func (f *feed) Fetch(context.Context, string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body := f.bodies[0]
	if len(f.bodies) > 1 {
		f.bodies = f.bodies[1:]
	}
	return []byte(body), nil
}

func TestOverlay_StateChangeUpdatesInPlace(t *testing.T) {
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	f := &feed{bodies: []string{
		`[{"sensorId": "s1", "parkingId": 84, "numar": 3, "stare": 2, "latitude": 47.16, "longitude": 27.58}]`,
		`[{"sensorId": "s1", "parkingId": 84, "numar": 3, "stare": "1", "latitude": 47.16, "longitude": 27.58}]`,
	}}
	canvas := mapview.New(nil, nil)
	e, err := dataset.New(Spec(overlay.Options{Labels: labels}), f, canvas, dataset.Options{
		IdleInterval:   time.Hour,
		ActiveInterval: time.Hour,
		Now:            clock,
	})
	require.NoError(t, err)
	t.Cleanup(e.Close)
	ctx := context.Background()

	e.Init(ctx)
	e.Show(ctx)
	first := e.Markers()
	require.Len(t, first, 1)
	assert.Equal(t, 2, first[0].Fields["state"])
	assert.Equal(t, "#f64c4c", first[0].Style.Background)

	now = now.Add(3 * time.Minute)
	require.True(t, e.Fetch(ctx))
	e.Render(ctx)

	second := e.Markers()
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, 1, second[0].Fields["state"])
	assert.True(t, second[0].DateUpdated.After(first[0].DateUpdated))

	snap := canvas.Snapshot()
	require.Len(t, snap.Markers, 1)
	assert.Equal(t, "#4cacf6", snap.Markers[0].Style.Background)
	assert.Equal(t, "Free", snap.Markers[0].Popup.Title)

	status := e.Status()
	assert.Equal(t, core.StateVisible, status.State)
	assert.Equal(t, float64(1), status.Metrics["parkingFree"])
	assert.Equal(t, float64(0), status.Metrics["parkingOccupied"])
}
