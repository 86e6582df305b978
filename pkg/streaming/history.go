package streaming

import "time"

// History forwarding message types, recorder to remote collector.
const (
	TypeHistoryHello    = "history.hello"
	TypeHistorySnapshot = "history.snapshot"
	TypeHistoryMarker   = "history.marker"
	TypeAck             = "ack"
)

// HelloPayload opens a forwarding session and is replayed after a
// reconnect.
type HelloPayload struct {
	Source  string    `json:"source"`
	Started time.Time `json:"started"`
}

// SnapshotPayload summarizes one fetch. The raw response stays local.
type SnapshotPayload struct {
	Overlay   string    `json:"overlay"`
	Resource  string    `json:"resource"`
	FetchedAt time.Time `json:"fetchedAt"`
	Records   int       `json:"records"`
}

// AckMessage is the collector's reply to messages that wait for one.
type AckMessage struct {
	Type string `json:"type"`
	For  string `json:"for"`
}
