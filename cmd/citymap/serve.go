package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/orasdigital/citymap/internal/api"
	"github.com/orasdigital/citymap/internal/config"
	"github.com/orasdigital/citymap/internal/dataset"
	"github.com/orasdigital/citymap/internal/dispatcher"
	"github.com/orasdigital/citymap/internal/handlers"
	"github.com/orasdigital/citymap/internal/influx"
	"github.com/orasdigital/citymap/internal/locate"
	"github.com/orasdigital/citymap/internal/logging"
	"github.com/orasdigital/citymap/internal/mapview"
	"github.com/orasdigital/citymap/internal/monitor"
	"github.com/orasdigital/citymap/internal/overlay"
	"github.com/orasdigital/citymap/internal/overlay/airquality"
	"github.com/orasdigital/citymap/internal/overlay/parking"
	"github.com/orasdigital/citymap/internal/overlay/transit"
	"github.com/orasdigital/citymap/internal/overlay/waste"
	"github.com/orasdigital/citymap/internal/server"
	"github.com/orasdigital/citymap/internal/storage"
	"github.com/orasdigital/citymap/internal/stream"
)

func serve(parent context.Context, configDir string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessionStart := time.Now()
	configErr := config.Load(configDir)

	l, err := setupLogging(sessionStart)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		l.Close(flushCtx)
	}()

	log := l.manager.Logger()
	log.Info("Starting citymap", "version", Version, "build", BuildDate)
	if configErr != nil {
		log.Warn("Failed to load config, using defaults!", "error", configErr)
	} else {
		log.Info("Loaded config", "dir", configDir)
	}

	// Storage
	recorder, closeStorage := openStorage(l)
	defer closeStorage()

	// Map session
	bus := stream.NewBus()
	canvas := mapview.New(bus, l.manager.Component("mapview"))
	registry, err := buildRegistry(l, canvas, recorder)
	if err != nil {
		return err
	}
	defer registry.Close()

	tracker := locate.New(canvas, locate.Options{
		Timeout:  config.GetLocateConfig().Timeout,
		Messages: config.Messages(),
		Logger:   l.manager.Logger(),
	})
	defer tracker.Stop()

	// Client commands
	d, err := dispatcher.New(logging.NewDispatcherLogger(l.zlog.With().Str("component", "dispatcher").Logger()))
	if err != nil {
		return fmt.Errorf("create dispatcher: %w", err)
	}
	defer d.Close()
	handlers.NewService(ctx, handlers.Dependencies{
		Registry: registry,
		Canvas:   canvas,
		Tracker:  tracker,
		Logger:   l.manager.Logger(),
	}).RegisterHandlers(d)

	registry.InitAll(ctx)
	log.Info("Overlays initialized", "overlays", registry.Names())

	srv := server.New(server.Dependencies{
		Config:     config.GetServerConfig(),
		APIURL:     config.GetAPIConfig().URL,
		Center:     config.GetLocateConfig().Center,
		Labels:     config.Labels(),
		Messages:   config.Messages(),
		Registry:   registry,
		Canvas:     canvas,
		Bus:        bus,
		Dispatcher: d,
		Logger:     l.manager.Logger(),
	})

	// Status reporting
	var sink monitor.Sink
	if influxCfg := config.GetInfluxConfig(); influxCfg.Enabled {
		backup := filepath.Join(config.GetString("logsDir"),
			fmt.Sprintf("influx_backup_%s.lp.gz", sessionStart.Format("20060102_150405")))
		manager := influx.NewManager(influxCfg, backup, l.zlog.With().Str("component", "influx").Logger())
		if err := manager.Connect(ctx); err != nil {
			log.Error("Failed to connect to InfluxDB", "url", manager.URL(), "error", err)
		} else {
			sink = manager
		}
		defer func() {
			if err := manager.Close(); err != nil {
				log.Warn("Failed to close InfluxDB", "error", err)
			}
		}()
	}

	monitorCfg := config.GetMonitorConfig()
	statusPath := ""
	if monitorCfg.StatusFile != "" {
		statusPath = filepath.Join(config.GetString("logsDir"), monitorCfg.StatusFile)
	}
	mon := monitor.NewService(monitor.Dependencies{
		Source: registry,
		Sink:   sink,
		Stats: func() map[string]float64 {
			return map[string]float64{
				"clients":     float64(srv.Clients()),
				"subscribers": float64(bus.Subscribers()),
				"busDropped":  float64(bus.Dropped()),
			}
		},
		Logger:     l.manager.Logger(),
		StatusPath: statusPath,
		Interval:   monitorCfg.Interval,
	})
	mon.Start(ctx)
	defer mon.Stop()

	if err := srv.ListenAndServe(ctx); err != nil {
		return err
	}
	log.Info("Shutting down")
	return nil
}

// openStorage initializes the configured history backend. A backend that
// fails to start is replaced by one that records nothing.
func openStorage(l *logs) (storage.Backend, func()) {
	log := l.manager.Component("storage")
	cfg := config.GetStorageConfig()

	backend, err := storage.NewBackend(storage.Options{
		Storage:  cfg,
		Postgres: config.GetPostgresConfig(),
		Logger:   log,
		DBLogger: l.zlog.With().Str("component", "database").Logger(),
	})
	if err == nil {
		err = backend.Init()
	}
	if err != nil {
		log.Error("Failed to initialize storage backend, history disabled", "type", cfg.Type, "error", err)
		return storage.Nop{}, func() {}
	}
	log.Info("Storage backend initialized", "type", cfg.Type)

	return backend, func() {
		if err := backend.Close(); err != nil {
			log.Error("Failed to close storage backend", "error", err)
			return
		}
		if e, ok := backend.(storage.Exportable); ok && e.ExportedFilePath() != "" {
			log.Info("History exported", "path", e.ExportedFilePath())
		}
	}
}

func register[R any](reg *dataset.Registry, spec dataset.Spec[R], fetcher dataset.Fetcher, canvas dataset.Map, opts dataset.Options) error {
	e, err := dataset.New(spec, fetcher, canvas, opts)
	if err != nil {
		return fmt.Errorf("create overlay %s: %w", spec.Name, err)
	}
	return reg.Register(e)
}

// buildRegistry creates a controller for every enabled overlay.
func buildRegistry(l *logs, canvas *mapview.Canvas, recorder dataset.Recorder) (*dataset.Registry, error) {
	log := l.manager.Logger()
	apiCfg := config.GetAPIConfig()
	client := api.New(apiCfg.URL, apiCfg.Timeout)
	labels, messages := config.Labels(), config.Messages()
	display := config.GetDisplayConfig()

	loc, err := time.LoadLocation(display.Timezone)
	if err != nil {
		log.Warn("Unknown display timezone, using UTC", "timezone", display.Timezone, "error", err)
		loc = time.UTC
	}

	options := func(name string) (overlay.Options, dataset.Options) {
		cfg := config.GetOverlayConfig(name)
		return overlay.Options{
				Resource: cfg.Resource,
				Labels:   labels,
				Messages: messages,
				Location: loc,
			}, dataset.Options{
				IdleInterval:   cfg.IdleInterval,
				ActiveInterval: cfg.ActiveInterval,
				Retry:          dataset.RetryPolicy(config.GetRetryConfig()),
				Messages:       messages,
				Recorder:       recorder,
				Logger:         l.manager.Component(name),
			}
	}
	enabled := func(name string) bool { return config.GetOverlayConfig(name).Enabled }

	reg := dataset.NewRegistry()
	var errs []error
	if enabled(config.OverlayAirQuality) {
		o, d := options(config.OverlayAirQuality)
		errs = append(errs, register(reg, airquality.Spec(o, display.City), client, canvas, d))
	}
	if enabled(config.OverlayParking) {
		o, d := options(config.OverlayParking)
		errs = append(errs, register(reg, parking.Spec(o), client, canvas, d))
	}
	if enabled(config.OverlayTransit) {
		o, d := options(config.OverlayTransit)
		t := transit.New(client, transit.Config{
			Options:       o,
			TripsResource: config.GetString("transit.tripsResource"),
			TripsInterval: config.GetDuration("transit.tripsInterval"),
			RoutesURL:     apiCfg.RoutesURL,
			Logger:        l.manager.Logger(),
		})
		errs = append(errs, register(reg, t.Spec(), client, canvas, d))
	}
	if enabled(config.OverlayWaste) {
		o, d := options(config.OverlayWaste)
		errs = append(errs, register(reg, waste.Spec(o), client, canvas, d))
	}
	if enabled(config.OverlayTraffic) {
		errs = append(errs, reg.Register(dataset.NewLayer(config.OverlayTraffic, canvas)))
	}
	if err := errors.Join(errs...); err != nil {
		reg.Close()
		return nil, err
	}
	return reg, nil
}
