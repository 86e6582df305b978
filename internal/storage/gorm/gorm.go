// Package gormstorage records overlay history through GORM with internal
// queues and a background DB writer goroutine. The sqlite and postgres
// backends wrap it.
package gormstorage

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orasdigital/citymap/internal/database"
	"github.com/orasdigital/citymap/internal/queue"
	"github.com/orasdigital/citymap/pkg/core"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

const (
	defaultFlushInterval = 5 * time.Second
	maxPending           = 100_000
)

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB            *gorm.DB
	Logger        *slog.Logger
	DBLogger      zerolog.Logger
	FlushInterval time.Duration
}

// Backend implements storage.Backend with queue-based batch writes.
// Without a DB it only queues, which is what unit tests use.
type Backend struct {
	deps      Dependencies
	log       *slog.Logger
	snapshots *queue.Queue[SnapshotRecord]
	states    *queue.Queue[MarkerState]
	written   atomic.Uint64

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.FlushInterval <= 0 {
		deps.FlushInterval = defaultFlushInterval
	}
	return &Backend{
		deps:      deps,
		log:       deps.Logger.With("component", "storage"),
		snapshots: queue.NewBounded[SnapshotRecord](maxPending),
		states:    queue.NewBounded[MarkerState](maxPending),
	}
}

// DB returns the underlying connection.
func (b *Backend) DB() *gorm.DB { return b.deps.DB }

// Init migrates the schema and starts the DB writer goroutine.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		return nil
	}
	if err := database.Migrate(b.deps.DB, b.deps.DBLogger, Models...); err != nil {
		return fmt.Errorf("failed to setup DB: %w", err)
	}

	b.stop = make(chan struct{})
	b.done = make(chan struct{})
	go b.writeLoop()
	return nil
}

// Close stops the writer and flushes what is still queued.
func (b *Backend) Close() error {
	b.closeOnce.Do(func() {
		if b.stop == nil {
			return
		}
		close(b.stop)
		<-b.done
		b.closeErr = b.Flush()
	})
	return b.closeErr
}

// RecordSnapshot queues a fetch snapshot.
func (b *Backend) RecordSnapshot(s *core.Snapshot) error {
	b.snapshots.Push(ToSnapshotRecord(*s))
	return nil
}

// RecordMarker queues a marker state.
func (b *Backend) RecordMarker(m *core.Marker) error {
	state, err := ToMarkerState(*m)
	if err != nil {
		return err
	}
	b.states.Push(state)
	return nil
}

// Pending returns the number of queued snapshots and marker states.
func (b *Backend) Pending() (snapshots, states int) {
	return b.snapshots.Len(), b.states.Len()
}

// Written returns the number of rows committed so far.
func (b *Backend) Written() uint64 {
	return b.written.Load()
}

// Flush writes every queued row. Failed batches stay queued.
func (b *Backend) Flush() error {
	if b.deps.DB == nil {
		return nil
	}
	return errors.Join(
		writeQueue(b, b.snapshots, "snapshots"),
		writeQueue(b, b.states, "marker states"),
	)
}

// writeQueue writes all items from a queue to the database in a transaction.
func writeQueue[T any](b *Backend, q *queue.Queue[T], name string) error {
	items := q.Drain()
	if len(items) == 0 {
		return nil
	}

	tx := b.deps.DB.Begin()
	if err := tx.Create(&items).Error; err != nil {
		tx.Rollback()
		q.Requeue(items...)
		return fmt.Errorf("error creating %s: %w", name, err)
	}
	if err := tx.Commit().Error; err != nil {
		q.Requeue(items...)
		return fmt.Errorf("error committing %s: %w", name, err)
	}

	b.written.Add(uint64(len(items)))
	b.log.Debug("History written", "table", name, "rows", len(items))
	return nil
}

// writeLoop periodically drains the queues into the DB.
func (b *Backend) writeLoop() {
	defer close(b.done)
	ticker := time.NewTicker(b.deps.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			if err := b.Flush(); err != nil {
				b.log.Error("DB write failed", "error", err)
			}
		}
	}
}
