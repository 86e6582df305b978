// Package monitor periodically reports overlay statuses to the log, a
// status file and InfluxDB.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/orasdigital/citymap/pkg/core"
)

// StatusSource provides the overlay statuses, usually the registry.
type StatusSource interface {
	Statuses() []core.OverlayStatus
}

// Sink receives the statuses of every tick, usually the influx manager.
type Sink interface {
	WriteStatuses(statuses []core.OverlayStatus, t time.Time) error
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Source     StatusSource
	Sink       Sink // optional
	Stats      func() map[string]float64
	Logger     *slog.Logger
	StatusPath string
	Interval   time.Duration
	Now        func() time.Time
}

// Status is the content of the status file.
type Status struct {
	Time       time.Time            `json:"time"`
	Overlays   []core.OverlayStatus `json:"overlays"`
	Stats      map[string]float64   `json:"stats,omitempty"`
	Goroutines int                  `json:"goroutines"`
	HeapAlloc  uint64               `json:"heapAlloc"`
}

// Service manages status monitoring
type Service struct {
	deps Dependencies
	log  *slog.Logger

	mu        sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Interval <= 0 {
		deps.Interval = time.Minute
	}
	return &Service{deps: deps, log: deps.Logger.With("component", "monitor")}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// Collect builds the current status.
func (s *Service) Collect() Status {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	status := Status{
		Time:       s.deps.Now().UTC(),
		Overlays:   s.deps.Source.Statuses(),
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  mem.HeapAlloc,
	}
	if s.deps.Stats != nil {
		status.Stats = s.deps.Stats()
	}
	return status
}

// Tick collects and reports the status once.
func (s *Service) Tick() (Status, error) {
	status := s.Collect()

	visible := 0
	markers := 0
	for _, o := range status.Overlays {
		if o.Visible {
			visible++
		}
		markers += o.Attached
	}
	s.log.Info("Status", "overlays", len(status.Overlays), "visible", visible, "markers", markers,
		"goroutines", status.Goroutines)

	if s.deps.StatusPath != "" {
		if err := writeStatus(s.deps.StatusPath, status); err != nil {
			return status, err
		}
	}
	if s.deps.Sink != nil {
		if err := s.deps.Sink.WriteStatuses(status.Overlays, status.Time); err != nil {
			return status, fmt.Errorf("write statuses: %w", err)
		}
	}
	return status, nil
}

func writeStatus(path string, status Status) error {
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write status file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace status file: %w", err)
	}
	return nil
}

// Start starts the status monitor goroutine
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.isRunning = true

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()

		s.log.Debug("Starting status monitor", "interval", s.deps.Interval)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.Tick(); err != nil {
					s.log.Error("Status report failed", "error", err)
				}
			}
		}
	}(s.done)
}

// Stop stops the status monitor and waits for the goroutine to exit
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
}
