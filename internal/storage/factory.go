package storage

import (
	"fmt"
	"log/slog"

	"github.com/orasdigital/citymap/internal/config"
	"github.com/orasdigital/citymap/internal/storage/memory"
	"github.com/orasdigital/citymap/internal/storage/postgres"
	sqlitestorage "github.com/orasdigital/citymap/internal/storage/sqlite"
	"github.com/orasdigital/citymap/internal/storage/websocket"
	"github.com/rs/zerolog"
)

// Options carries what the backends need besides their own config.
type Options struct {
	Storage  config.StorageConfig
	Postgres config.PostgresConfig
	Logger   *slog.Logger
	DBLogger zerolog.Logger
}

// NewBackend creates a storage backend based on configuration
func NewBackend(opts Options) (Backend, error) {
	cfg := opts.Storage
	switch cfg.Type {
	case "", "none":
		return Nop{}, nil
	case "memory":
		return memory.New(cfg.Memory, opts.Logger), nil
	case "sqlite":
		return sqlitestorage.New(sqlitestorage.Config{
			DumpInterval:  cfg.SQLite.DumpInterval,
			DumpPath:      cfg.SQLite.DumpPath,
			FlushInterval: cfg.FlushInterval,
		}, opts.Logger, opts.DBLogger)
	case "postgres":
		return postgres.New(postgres.Dependencies{
			Config:        opts.Postgres,
			Logger:        opts.Logger,
			DBLogger:      opts.DBLogger,
			FlushInterval: cfg.FlushInterval,
		}), nil
	case "websocket":
		if cfg.Remote.URL == "" {
			return nil, fmt.Errorf("websocket backend requires storage.remote.url")
		}
		return websocket.New(websocket.Config{
			URL:    cfg.Remote.URL,
			Secret: cfg.Remote.Secret,
			Source: cfg.Remote.Source,
		}, opts.Logger), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
