package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/orasdigital/citymap/internal/config"
	"github.com/orasdigital/citymap/internal/logging"
	intOtel "github.com/orasdigital/citymap/internal/otel"
	"github.com/rs/zerolog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// logs bundles the loggers of one serve session and what must be closed
// on exit.
type logs struct {
	manager  *logging.SlogManager
	zlog     zerolog.Logger
	file     *os.File
	provider *intOtel.Provider
	closers  []io.Closer
}

func setupLogging(sessionStart time.Time) (*logs, error) {
	l := &logs{manager: logging.NewSlogManager()}
	level := config.GetString("logLevel")

	logsDir := config.GetString("logsDir")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create logs dir: %w", err)
	}
	path := logging.LogFilePath(logsDir, appName, sessionStart)
	if _, err := os.Stat(path); err == nil {
		_ = os.Rename(path, path+".old")
	}
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	l.file = file

	otelCfg := config.GetOTelConfig()
	var provider *sdklog.LoggerProvider
	var otelErr error
	if otelCfg.Enabled {
		l.provider, otelErr = intOtel.New(intOtel.Config{
			Enabled:      otelCfg.Enabled,
			ServiceName:  otelCfg.ServiceName,
			BatchTimeout: otelCfg.BatchTimeout,
			LogWriter:    file,
			Endpoint:     otelCfg.Endpoint,
			Insecure:     otelCfg.Insecure,
		})
		if l.provider != nil {
			provider = l.provider.LoggerProvider()
		}
	}

	var sinks []slog.Handler
	var gelfErr error
	if gl := config.GetGraylogConfig(); gl.Enabled {
		h, closer, err := logging.NewGELFHandler(gl.Address, level)
		if err != nil {
			gelfErr = err
		} else {
			sinks = append(sinks, h)
			l.closers = append(l.closers, closer)
		}
	}

	l.manager.Setup(io.MultiWriter(os.Stdout, file), level, provider, sinks...)
	log := l.manager.Logger()
	log.Info("Logging to file", "path", path)
	if otelErr != nil {
		log.Error("Failed to initialize OTel provider", "error", otelErr)
	} else if l.provider != nil {
		log.Info("OTel provider initialized", "endpoint", otelCfg.Endpoint)
	}
	if gelfErr != nil {
		log.Error("Failed to initialize Graylog sink", "error", gelfErr)
	}

	zlevel, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		zlevel = zerolog.InfoLevel
	}
	zerolog.TimestampFunc = func() time.Time { return time.Now().UTC() }
	l.zlog = zerolog.New(zerolog.MultiLevelWriter(
		zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339},
		zerolog.ConsoleWriter{Out: file, TimeFormat: time.RFC3339, NoColor: true},
	)).Level(zlevel).With().Timestamp().Logger()

	return l, nil
}

func (l *logs) Close(ctx context.Context) {
	if err := l.manager.Flush(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "flush logs: %v\n", err)
	}
	if l.provider != nil {
		if err := l.provider.Shutdown(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "shutdown otel: %v\n", err)
		}
	}
	for _, c := range l.closers {
		_ = c.Close()
	}
	_ = l.file.Close()
}
