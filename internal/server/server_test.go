package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/orasdigital/citymap/internal/config"
	"github.com/orasdigital/citymap/internal/dataset"
	"github.com/orasdigital/citymap/internal/dispatcher"
	"github.com/orasdigital/citymap/internal/handlers"
	"github.com/orasdigital/citymap/internal/locate"
	"github.com/orasdigital/citymap/internal/logging"
	"github.com/orasdigital/citymap/internal/mapview"
	"github.com/orasdigital/citymap/internal/stream"
	"github.com/orasdigital/citymap/pkg/core"
	"github.com/orasdigital/citymap/pkg/streaming"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type station struct {
	ID  string  `json:"id"`
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type staticFetcher string

func (f staticFetcher) Fetch(context.Context, string) ([]byte, error) { return []byte(f), nil }

func stationSpec() dataset.Spec[station] {
	return dataset.Spec[station]{
		Name: "stations",
		Decode: func(raw []byte) ([]station, error) {
			var out []station
			err := json.Unmarshal(raw, &out)
			return out, err
		},
		StableID: func(s station) string { return s.ID },
		Validate: func(s station, _ time.Time) bool { return s.Lat != 0 && s.Lng != 0 },
		Position: func(s station) core.LatLng { return core.LatLng{Lat: s.Lat, Lng: s.Lng} },
		Classify: func(station) core.Style { return core.Style{Shape: core.ShapePin, Background: "#00e400"} },
		Content:  func(s station, _ time.Time) core.Popup { return core.Popup{Title: s.ID} },
	}
}

type fixture struct {
	server *Server
	http   *httptest.Server
	canvas *mapview.Canvas
	reg    *dataset.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	bus := stream.NewBus()
	canvas := mapview.New(bus, nil)

	reg := dataset.NewRegistry()
	require.NoError(t, reg.Register(dataset.NewLayer(config.OverlayTraffic, canvas)))
	e, err := dataset.New(stationSpec(), staticFetcher(`[{"id": "s1", "lat": 47.16, "lng": 27.58}, {"id": "s2", "lat": 0, "lng": 0}]`),
		canvas, dataset.Options{IdleInterval: time.Hour, ActiveInterval: time.Hour})
	require.NoError(t, err)
	require.NoError(t, reg.Register(e))
	t.Cleanup(reg.Close)

	d, err := dispatcher.New(logging.NewDispatcherLogger(zerolog.Nop()))
	require.NoError(t, err)
	t.Cleanup(d.Close)
	handlers.NewService(context.Background(), handlers.Dependencies{
		Registry: reg,
		Canvas:   canvas,
		Tracker:  locate.New(canvas, locate.Options{}),
	}).RegisterHandlers(d)

	s := New(Dependencies{
		APIURL:     "https://proxy.example/api",
		Center:     []float64{47.1553424, 27.585645},
		Labels:     config.Text{"centeroncity": "Center on city"},
		Messages:   config.Text{},
		Registry:   reg,
		Canvas:     canvas,
		Bus:        bus,
		Dispatcher: d,
	})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return &fixture{server: s, http: ts, canvas: canvas, reg: reg}
}

func (f *fixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(f.http.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *fixture) post(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Post(f.http.URL+path, "application/json", nil)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestConfigJSON(t *testing.T) {
	f := newFixture(t)
	resp := f.get(t, "/config.json")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var cfg ClientConfig
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&cfg))
	assert.Equal(t, "https://proxy.example/api", cfg.APIURL)
	assert.Equal(t, []string{"stations", config.OverlayTraffic}, cfg.Overlays)
	assert.Equal(t, "Center on city", cfg.Labels["centeroncity"])
	require.NotNil(t, cfg.Center)
	assert.InDelta(t, 47.1553424, cfg.Center.Lat, 1e-9)
}

func TestOverlays(t *testing.T) {
	f := newFixture(t)
	resp := f.get(t, "/api/overlays")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var statuses []core.OverlayStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&statuses))
	require.Len(t, statuses, 2)
	assert.Equal(t, "stations", statuses[0].Name)
	assert.Equal(t, core.StateIdle, statuses[0].State)
}

func TestToggle(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/api/overlays/stations/toggle?checked=true")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status core.OverlayStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.True(t, status.Visible)
	assert.Equal(t, core.StateVisible, status.State)
	assert.True(t, f.canvas.Attached("stations", "s1"))

	resp = f.post(t, "/api/overlays/"+config.OverlayTraffic+"/toggle?checked=true")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, f.canvas.Snapshot().Layers[config.OverlayTraffic])

	resp = f.post(t, "/api/overlays/stations/toggle?checked=false")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, f.canvas.Attached("stations", "s1"))
}

func TestToggle_Errors(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusNotFound, f.post(t, "/api/overlays/bikes/toggle?checked=true").StatusCode)
	assert.Equal(t, http.StatusBadRequest, f.post(t, "/api/overlays/stations/toggle?checked=maybe").StatusCode)
	assert.Equal(t, http.StatusMethodNotAllowed, f.get(t, "/api/overlays/stations/toggle").StatusCode)
}

func TestGeoJSON(t *testing.T) {
	f := newFixture(t)
	resp := f.get(t, "/api/overlays/stations/geojson")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var empty map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&empty))
	assert.Equal(t, "FeatureCollection", empty["type"])
	assert.Empty(t, empty["features"])

	f.post(t, "/api/overlays/stations/toggle?checked=true")
	resp = f.get(t, "/api/overlays/stations/geojson")
	assert.Equal(t, "application/geo+json", resp.Header.Get("Content-Type"))

	var fc struct {
		Features []struct {
			Geometry struct {
				Coordinates []float64 `json:"coordinates"`
			} `json:"geometry"`
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&fc))
	require.Len(t, fc.Features, 1)
	assert.Equal(t, []float64{27.58, 47.16}, fc.Features[0].Geometry.Coordinates)
	assert.Equal(t, "s1", fc.Features[0].Properties["id"])

	assert.Equal(t, http.StatusNotFound, f.get(t, "/api/overlays/bikes/geojson").StatusCode)
}

func dial(t *testing.T, f *fixture) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, msgType string) streaming.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var env streaming.Envelope
		require.NoError(t, conn.ReadJSON(&env))
		if env.Type == msgType {
			return env
		}
	}
}

func TestWebsocket_SyncFirst(t *testing.T) {
	f := newFixture(t)
	f.post(t, "/api/overlays/stations/toggle?checked=true")

	conn := dial(t, f)
	var env streaming.Envelope
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&env))
	require.Equal(t, streaming.TypeSync, env.Type)

	var sync streaming.SyncPayload
	require.NoError(t, json.Unmarshal(env.Payload, &sync))
	require.Len(t, sync.Markers, 1)
	assert.Equal(t, "s1", sync.Markers[0].ID)
	assert.Eventually(t, func() bool { return f.server.Clients() == 1 }, time.Second, 5*time.Millisecond)
}

func TestWebsocket_Commands(t *testing.T) {
	f := newFixture(t)
	conn := dial(t, f)
	readUntil(t, conn, streaming.TypeSync)

	toggle, err := streaming.NewEnvelope(streaming.TypeOverlayToggle,
		streaming.TogglePayload{Overlay: config.OverlayTraffic, Checked: true})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(toggle))

	env := readUntil(t, conn, streaming.TypeLayerToggle)
	var layer streaming.LayerPayload
	require.NoError(t, json.Unmarshal(env.Payload, &layer))
	assert.Equal(t, config.OverlayTraffic, layer.Name)
	assert.True(t, layer.Visible)

	require.NoError(t, conn.WriteJSON(streaming.Envelope{Type: streaming.TypeOverlayToggle,
		Payload: json.RawMessage(`{"overlay": "stations", "checked": true}`)}))
	env = readUntil(t, conn, streaming.TypeMarkerAttach)
	var m core.Marker
	require.NoError(t, json.Unmarshal(env.Payload, &m))
	assert.Equal(t, "s1", m.ID)

	// unknown commands are logged and the connection stays open
	require.NoError(t, conn.WriteJSON(streaming.Envelope{Type: "bogus"}))
	require.NoError(t, conn.WriteJSON(streaming.Envelope{Type: streaming.TypeMarkerClick,
		Payload: json.RawMessage(`{"overlay": "stations", "id": "s1"}`)}))
	readUntil(t, conn, streaming.TypePopupOpen)
}

func TestWebsocket_Disconnect(t *testing.T) {
	f := newFixture(t)
	conn := dial(t, f)
	readUntil(t, conn, streaming.TypeSync)
	require.Eventually(t, func() bool { return f.server.Clients() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return f.server.Clients() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestListenAndServe_Shutdown(t *testing.T) {
	f := newFixture(t)
	f.server.deps.Config.Listen = "127.0.0.1:0"
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- f.server.ListenAndServe(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestListenAndServe_BadAddress(t *testing.T) {
	f := newFixture(t)
	f.server.deps.Config.Listen = "256.0.0.1:bad"
	err := f.server.ListenAndServe(context.Background())
	assert.ErrorContains(t, err, "listen")
}
