package dataset

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/orasdigital/citymap/internal/dataset"

const (
	resultOK      = "ok"
	resultFailed  = "failed"
	resultSkipped = "skipped"
)

type metrics struct {
	fetches       metric.Int64Counter
	attachedGauge metric.Int64Gauge
}

func newMetrics() (*metrics, error) {
	m := otel.Meter(instrumentationName)

	fetches, err := m.Int64Counter(
		"dataset.fetches",
		metric.WithDescription("Snapshot fetches by overlay and result"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating fetch counter: %w", err)
	}

	attached, err := m.Int64Gauge(
		"dataset.markers.attached",
		metric.WithDescription("Markers currently attached to the map"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating attached gauge: %w", err)
	}

	return &metrics{fetches: fetches, attachedGauge: attached}, nil
}

func (m *metrics) fetched(ctx context.Context, overlay, result string) {
	m.fetches.Add(ctx, 1, metric.WithAttributes(
		attribute.String("overlay", overlay),
		attribute.String("result", result),
	))
}

func (m *metrics) attached(ctx context.Context, overlay string, n int) {
	m.attachedGauge.Record(ctx, int64(n), metric.WithAttributes(attribute.String("overlay", overlay)))
}
