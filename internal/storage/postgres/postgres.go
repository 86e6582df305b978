// Package postgres records overlay history in PostgreSQL through the GORM
// backend.
package postgres

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/orasdigital/citymap/internal/config"
	"github.com/orasdigital/citymap/internal/database"
	gormstorage "github.com/orasdigital/citymap/internal/storage/gorm"
	"github.com/orasdigital/citymap/pkg/core"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

var errNotInitialized = errors.New("postgres backend not initialized")

// Dependencies holds all dependencies for the PostgreSQL backend.
type Dependencies struct {
	DB            *gorm.DB // Injected connection; dialed from Config when nil
	Config        config.PostgresConfig
	Logger        *slog.Logger
	DBLogger      zerolog.Logger
	FlushInterval time.Duration
}

// Backend implements storage.Backend on PostgreSQL.
type Backend struct {
	deps Dependencies
	gorm *gormstorage.Backend
}

// New creates a new PostgreSQL storage backend. No connection is made
// before Init.
func New(deps Dependencies) *Backend {
	return &Backend{deps: deps}
}

// Init connects, migrates the schema and starts the DB writer.
func (b *Backend) Init() error {
	db := b.deps.DB
	if db == nil {
		var err error
		db, err = database.GetPostgresDB(b.deps.Config, b.deps.DBLogger)
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
	}

	b.gorm = gormstorage.New(gormstorage.Dependencies{
		DB:            db,
		Logger:        b.deps.Logger,
		DBLogger:      b.deps.DBLogger,
		FlushInterval: b.deps.FlushInterval,
	})
	return b.gorm.Init()
}

// Close flushes pending rows and stops the writer.
func (b *Backend) Close() error {
	if b.gorm == nil {
		return nil
	}
	return b.gorm.Close()
}

// RecordSnapshot queues a fetch snapshot.
func (b *Backend) RecordSnapshot(s *core.Snapshot) error {
	if b.gorm == nil {
		return errNotInitialized
	}
	return b.gorm.RecordSnapshot(s)
}

// RecordMarker queues a marker state.
func (b *Backend) RecordMarker(m *core.Marker) error {
	if b.gorm == nil {
		return errNotInitialized
	}
	return b.gorm.RecordMarker(m)
}
