// Package server exposes the map session over HTTP and websocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/orasdigital/citymap/internal/config"
	"github.com/orasdigital/citymap/internal/dataset"
	"github.com/orasdigital/citymap/internal/dispatcher"
	"github.com/orasdigital/citymap/internal/geo"
	"github.com/orasdigital/citymap/internal/stream"
	"github.com/orasdigital/citymap/pkg/core"
	"github.com/orasdigital/citymap/pkg/streaming"
)

// Snapshotter provides the canvas state sent to new websocket clients.
type Snapshotter interface {
	Snapshot() streaming.SyncPayload
}

// Dependencies holds all dependencies of the HTTP server
type Dependencies struct {
	Config     config.ServerConfig
	APIURL     string
	Center     []float64
	Labels     config.Text
	Messages   config.Text
	Registry   *dataset.Registry
	Canvas     Snapshotter
	Bus        *stream.Bus
	Dispatcher *dispatcher.Dispatcher
	Logger     *slog.Logger
}

// Server serves config.json, the overlay API, the websocket and the static
// page.
type Server struct {
	deps    Dependencies
	log     *slog.Logger
	mux     *http.ServeMux
	clients atomic.Int64
	nextID  atomic.Uint64
}

// New creates the server and registers its routes.
func New(deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Config.ClientBuffer <= 0 {
		deps.Config.ClientBuffer = 256
	}
	s := &Server{
		deps: deps,
		log:  deps.Logger.With("component", "server"),
		mux:  http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /config.json", s.handleConfig)
	s.mux.HandleFunc("GET /api/overlays", s.handleOverlays)
	s.mux.HandleFunc("POST /api/overlays/{name}/toggle", s.handleToggle)
	s.mux.HandleFunc("GET /api/overlays/{name}/geojson", s.handleGeoJSON)
	s.mux.HandleFunc("GET /ws", s.handleWebsocket)

	if dir := s.deps.Config.StaticDir; dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			s.mux.Handle("GET /", http.FileServer(http.Dir(dir)))
		} else {
			s.log.Warn("Static directory unavailable", "dir", dir)
		}
	}
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.mux }

// Clients returns the number of connected websocket clients.
func (s *Server) Clients() int { return int(s.clients.Load()) }

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.deps.Config.Listen,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("HTTP server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen %s: %w", srv.Addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// ClientConfig is the document served as config.json.
type ClientConfig struct {
	APIURL       string            `json:"apiUrl"`
	MapLoaderURL string            `json:"mapLoaderUrl"`
	Center       *core.LatLng      `json:"center,omitempty"`
	Overlays     []string          `json:"overlays"`
	Labels       map[string]string `json:"labels"`
	Messages     map[string]string `json:"messages"`
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	cfg := ClientConfig{
		APIURL:       s.deps.APIURL,
		MapLoaderURL: s.deps.Config.MapLoaderURL,
		Overlays:     s.deps.Registry.Names(),
		Labels:       s.deps.Labels,
		Messages:     s.deps.Messages,
	}
	if center, err := geo.LatLngFromSlice(s.deps.Center); err == nil {
		cfg.Center = &center
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleOverlays(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Registry.Statuses())
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	checked, err := strconv.ParseBool(r.URL.Query().Get("checked"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid checked parameter: %w", err))
		return
	}
	if err := s.deps.Registry.Toggle(r.Context(), name, checked); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	c, _ := s.deps.Registry.Get(name)
	writeJSON(w, http.StatusOK, c.Status())
}

func (s *Server) handleGeoJSON(w http.ResponseWriter, r *http.Request) {
	c, err := s.deps.Registry.Get(r.PathValue("name"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	var visible []core.Marker
	for _, m := range c.Markers() {
		if m.Visible {
			visible = append(visible, m)
		}
	}
	data, err := geo.FeatureCollection(visible).MarshalJSON()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	_, _ = w.Write(data)
}

func statusFor(err error) int {
	if errors.Is(err, dataset.ErrUnknownOverlay) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
