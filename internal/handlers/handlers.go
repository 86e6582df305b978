// Package handlers turns inbound map client commands into registry, canvas
// and tracker calls.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/orasdigital/citymap/internal/dataset"
	"github.com/orasdigital/citymap/internal/dispatcher"
	"github.com/orasdigital/citymap/internal/locate"
	"github.com/orasdigital/citymap/pkg/core"
	"github.com/orasdigital/citymap/pkg/streaming"
)

// ErrMissingOverlay is returned for toggles that name no overlay.
var ErrMissingOverlay = errors.New("overlay name is required")

// Canvas is the part of the map session driven by clients.
type Canvas interface {
	Click(overlay, id string) error
	PopupClosed()
}

// Tracker is the geolocation surface driven by clients.
type Tracker interface {
	Watch(persistent bool) error
	Position(p core.LatLng, accuracy float64) error
	Fail(reason string)
	Clear()
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Registry *dataset.Registry
	Canvas   Canvas
	Tracker  Tracker
	Logger   *slog.Logger
}

// Service provides handler methods for client commands
type Service struct {
	deps Dependencies
	ctx  context.Context
	log  *slog.Logger
}

// NewService creates a handler service. ctx bounds the work started by
// commands, such as the fetch behind an overlay toggle.
func NewService(ctx context.Context, deps Dependencies) *Service {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Service{deps: deps, ctx: ctx, log: log.With("component", "handlers")}
}

// RegisterHandlers registers all client commands with the dispatcher.
func (s *Service) RegisterHandlers(d *dispatcher.Dispatcher) {
	// Toggles may fetch, keep them off the websocket read loop
	d.Register(streaming.TypeOverlayToggle, s.handleToggle, dispatcher.Buffered(100), dispatcher.Logged())

	// Map interaction - sync
	d.Register(streaming.TypeMarkerClick, s.handleMarkerClick, dispatcher.Logged())
	d.Register(streaming.TypePopupClosed, s.handlePopupClosed, dispatcher.Logged())

	// Geolocation
	d.Register(streaming.TypeLocateStart, s.handleLocateStart, dispatcher.Logged())
	d.Register(streaming.TypeLocateStop, s.handleLocateStop, dispatcher.Logged())
	d.Register(streaming.TypeLocatePosition, s.handleLocatePosition, dispatcher.Buffered(100))
	d.Register(streaming.TypeLocateError, s.handleLocateError, dispatcher.Logged())
}

func (s *Service) handleToggle(e dispatcher.Event) (any, error) {
	p, err := dispatcher.Decode[streaming.TogglePayload](e)
	if err != nil {
		return nil, err
	}
	if p.Overlay == "" {
		return nil, ErrMissingOverlay
	}
	if err := s.deps.Registry.Toggle(s.ctx, p.Overlay, p.Checked); err != nil {
		return nil, fmt.Errorf("toggle: %w", err)
	}
	s.log.Info("Overlay toggled", "overlay", p.Overlay, "checked", p.Checked, "client", e.Client)
	return nil, nil
}

func (s *Service) handleMarkerClick(e dispatcher.Event) (any, error) {
	p, err := dispatcher.Decode[streaming.MarkerRef](e)
	if err != nil {
		return nil, err
	}
	if err := s.deps.Canvas.Click(p.Overlay, p.ID); err != nil {
		return nil, fmt.Errorf("click %s/%s: %w", p.Overlay, p.ID, err)
	}
	return nil, nil
}

func (s *Service) handlePopupClosed(dispatcher.Event) (any, error) {
	s.deps.Canvas.PopupClosed()
	return nil, nil
}

func (s *Service) handleLocateStart(e dispatcher.Event) (any, error) {
	p, err := dispatcher.Decode[streaming.LocateStartPayload](e)
	if err != nil {
		return nil, err
	}
	return nil, s.deps.Tracker.Watch(p.Persistent)
}

func (s *Service) handleLocateStop(dispatcher.Event) (any, error) {
	s.deps.Tracker.Clear()
	return nil, nil
}

func (s *Service) handleLocatePosition(e dispatcher.Event) (any, error) {
	p, err := dispatcher.Decode[streaming.PositionPayload](e)
	if err != nil {
		return nil, err
	}
	err = s.deps.Tracker.Position(core.LatLng{Lat: p.Lat, Lng: p.Lng}, p.Accuracy)
	if errors.Is(err, locate.ErrNotWatching) {
		// late fixes after a one-shot watch are expected
		return nil, nil
	}
	return nil, err
}

func (s *Service) handleLocateError(e dispatcher.Event) (any, error) {
	p, err := dispatcher.Decode[streaming.LocateErrorPayload](e)
	if err != nil {
		return nil, err
	}
	reason := p.Reason
	if reason == "" {
		reason = fmt.Sprintf("code %d", p.Code)
	}
	s.deps.Tracker.Fail(reason)
	return nil, nil
}
