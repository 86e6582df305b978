package core

import (
	"fmt"
	"time"
)

// State is the lifecycle state of an overlay data set.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateVisible
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateVisible:
		return "visible"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "idle":
		*s = StateIdle
	case "loading":
		*s = StateLoading
	case "visible":
		*s = StateVisible
	default:
		return fmt.Errorf("unknown state %q", text)
	}
	return nil
}

// OverlayStatus summarizes an overlay for status endpoints and monitoring.
type OverlayStatus struct {
	Name     string             `json:"name"`
	State    State              `json:"state"`
	Visible  bool               `json:"visible"`
	Markers  int                `json:"markers"`
	Attached int                `json:"attached"`
	Records  int                `json:"records"`
	Updated  time.Time          `json:"updated"`
	Metrics  map[string]float64 `json:"metrics,omitempty"`
}

// Snapshot is one successful fetch of an overlay resource.
type Snapshot struct {
	Overlay   string
	Resource  string
	FetchedAt time.Time
	Records   int
	Payload   []byte
}

// NotificationType is the severity of a user notification.
type NotificationType string

const (
	NotifyInfo    NotificationType = "info"
	NotifyWarning NotificationType = "warning"
	NotifyError   NotificationType = "error"
)

// Notification is a toast shown to the user.
type Notification struct {
	Message  string           `json:"message"`
	Type     NotificationType `json:"type"`
	AutoHide int              `json:"autoHide,omitempty"` // seconds, 0 keeps it open
	Floating bool             `json:"floating,omitempty"`
}
