// Package storage defines the history recorders that persist overlay
// snapshots and marker changes.
package storage

import "github.com/orasdigital/citymap/pkg/core"

// Backend is the interface all storage implementations must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Recording
	RecordSnapshot(s *core.Snapshot) error
	RecordMarker(m *core.Marker) error
}

// Exportable is an optional interface for backends that write history
// files.
type Exportable interface {
	ExportedFilePath() string
}

// Nop records nothing. Used when storage.type is "none".
type Nop struct{}

func (Nop) Init() error                         { return nil }
func (Nop) Close() error                        { return nil }
func (Nop) RecordSnapshot(*core.Snapshot) error { return nil }
func (Nop) RecordMarker(*core.Marker) error     { return nil }
