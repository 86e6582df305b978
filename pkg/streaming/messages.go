package streaming

import (
	"encoding/json"
	"fmt"

	"github.com/orasdigital/citymap/pkg/core"
)

// Outbound message types, server to browser.
const (
	TypeMarkerAttach = "marker.attach"
	TypeMarkerUpdate = "marker.update"
	TypeMarkerDetach = "marker.detach"
	TypePopupOpen    = "popup.open"
	TypePopupClose   = "popup.close"
	TypeMapPan       = "map.pan"
	TypeLayerToggle  = "layer.toggle"
	TypeNotification = "notification"
	TypeSync         = "sync"
)

// Inbound message types, browser to server.
const (
	TypeOverlayToggle  = "overlay.toggle"
	TypeMarkerClick    = "marker.click"
	TypePopupClosed    = "popup.closed"
	TypeLocateStart    = "locate.start"
	TypeLocateStop     = "locate.stop"
	TypeLocatePosition = "locate.position"
	TypeLocateError    = "locate.error"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into an envelope of the given type.
func NewEnvelope(msgType string, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: msgType}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	return Envelope{Type: msgType, Payload: data}, nil
}

// MarkerRef identifies a marker on the map.
type MarkerRef struct {
	Overlay string `json:"overlay"`
	ID      string `json:"id"`
}

// LayerPayload toggles a tile layer such as traffic.
type LayerPayload struct {
	Name    string `json:"name"`
	Visible bool   `json:"visible"`
}

// PopupPayload carries the content of the single open popup.
type PopupPayload struct {
	Marker MarkerRef  `json:"marker"`
	Popup  core.Popup `json:"popup"`
}

// SyncPayload is the full canvas state sent to a new subscriber.
type SyncPayload struct {
	Markers []core.Marker   `json:"markers"`
	Popup   *PopupPayload   `json:"popup,omitempty"`
	Layers  map[string]bool `json:"layers"`
	Center  *core.LatLng    `json:"center,omitempty"`
}

// TogglePayload mirrors an overlay checkbox.
type TogglePayload struct {
	Overlay string `json:"overlay"`
	Checked bool   `json:"checked"`
}

// LocateStartPayload starts a geolocation watch.
type LocateStartPayload struct {
	Persistent bool `json:"persistent"`
}

// PositionPayload is a geolocation fix reported by the browser.
type PositionPayload struct {
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Accuracy float64 `json:"accuracy,omitempty"`
}

// LocateErrorPayload reports a geolocation failure.
type LocateErrorPayload struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}
