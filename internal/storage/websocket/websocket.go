// Package websocket forwards overlay history to a remote collector over
// a websocket.
package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/orasdigital/citymap/pkg/core"
	"github.com/orasdigital/citymap/pkg/streaming"
)

// Config holds the collector settings.
type Config struct {
	URL    string
	Secret string
	Source string
}

// Backend streams snapshots and marker changes to the collector.
type Backend struct {
	link *link
	cfg  Config
	now  func() time.Time
}

// New creates a new websocket storage backend.
func New(cfg Config, log *slog.Logger) *Backend {
	if log == nil {
		log = slog.Default()
	}
	return &Backend{
		link: newLink(log.With("component", "collector")),
		cfg:  cfg,
		now:  time.Now,
	}
}

// Init connects and waits for the collector to acknowledge the session.
func (b *Backend) Init() error {
	if err := b.link.dial(b.cfg.URL, b.cfg.Secret); err != nil {
		return err
	}

	hello, err := marshalEnvelope(streaming.TypeHistoryHello, streaming.HelloPayload{
		Source:  b.cfg.Source,
		Started: b.now().UTC(),
	})
	if err != nil {
		return err
	}
	b.link.mu.Lock()
	b.link.hello = hello
	b.link.mu.Unlock()

	return b.link.sendAndWait(hello, streaming.TypeHistoryHello, ackTimeout)
}

// Close disconnects from the collector.
func (b *Backend) Close() error {
	return b.link.close()
}

// Dropped returns how many messages were discarded on a full buffer.
func (b *Backend) Dropped() uint64 {
	return b.link.dropped.Load()
}

func marshalEnvelope(msgType string, payload any) ([]byte, error) {
	env, err := streaming.NewEnvelope(msgType, payload)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

// send marshals the payload and pushes it to the write loop
// (fire-and-forget).
func (b *Backend) send(msgType string, payload any) error {
	data, err := marshalEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	b.link.send(data)
	return nil
}

// RecordSnapshot forwards the fetch summary without the raw payload.
func (b *Backend) RecordSnapshot(s *core.Snapshot) error {
	return b.send(streaming.TypeHistorySnapshot, streaming.SnapshotPayload{
		Overlay:   s.Overlay,
		Resource:  s.Resource,
		FetchedAt: s.FetchedAt.UTC(),
		Records:   s.Records,
	})
}

// RecordMarker forwards a marker change.
func (b *Backend) RecordMarker(m *core.Marker) error {
	return b.send(streaming.TypeHistoryMarker, m)
}
