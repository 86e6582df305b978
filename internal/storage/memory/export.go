package memory

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/orasdigital/citymap/internal/geo"
	"github.com/paulmach/orb/geojson"
)

// HistoryExport is the root JSON structure
type HistoryExport struct {
	Started  time.Time       `json:"started"`
	Exported time.Time       `json:"exported"`
	Overlays []OverlayExport `json:"overlays"`
}

// OverlayExport holds the history of one overlay
type OverlayExport struct {
	Name      string                     `json:"name"`
	Snapshots []SnapshotJSON             `json:"snapshots"`
	Markers   *geojson.FeatureCollection `json:"markers"`
	// Changes is keyed by marker ID; each entry is
	// [dateUpdated, lat, lng, color, visible]
	Changes map[string][][]any `json:"changes"`
}

// SnapshotJSON is a retained fetch
type SnapshotJSON struct {
	Resource  string          `json:"resource"`
	FetchedAt time.Time       `json:"fetchedAt"`
	Records   int             `json:"records"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Export writes the history to the output directory and returns the file
// path.
func (b *Backend) Export() (string, error) {
	export := b.buildExport()

	b.mu.RLock()
	timestamp := b.started.UTC().Format("20060102_150405")
	b.mu.RUnlock()

	filename := fmt.Sprintf("citymap_%s.json", timestamp)
	if b.cfg.CompressOutput {
		filename += ".gz"
	}
	outputPath := filepath.Join(b.cfg.OutputDir, filename)

	// Ensure output directory exists
	if err := os.MkdirAll(b.cfg.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := writeJSON(outputPath, export, b.cfg.CompressOutput); err != nil {
		return "", err
	}

	b.mu.Lock()
	b.lastExportPath = outputPath
	b.mu.Unlock()
	return outputPath, nil
}

func (b *Backend) buildExport() HistoryExport {
	b.mu.RLock()
	started := b.started
	b.mu.RUnlock()

	export := HistoryExport{
		Started:  started.UTC(),
		Exported: b.now().UTC(),
		Overlays: make([]OverlayExport, 0),
	}

	for _, name := range b.Overlays() {
		o := OverlayExport{
			Name:      name,
			Snapshots: make([]SnapshotJSON, 0),
			Markers:   geo.FeatureCollection(b.Latest(name)),
			Changes:   make(map[string][][]any),
		}

		for _, s := range b.Snapshots(name) {
			snap := SnapshotJSON{
				Resource:  s.Resource,
				FetchedAt: s.FetchedAt.UTC(),
				Records:   s.Records,
			}
			if json.Valid(s.Payload) {
				snap.Payload = s.Payload
			}
			o.Snapshots = append(o.Snapshots, snap)
		}

		for _, m := range b.Latest(name) {
			changes := b.Changes(name, m.ID)
			sort.SliceStable(changes, func(i, j int) bool {
				return changes[i].DateUpdated.Before(changes[j].DateUpdated)
			})
			rows := make([][]any, 0, len(changes))
			for _, c := range changes {
				rows = append(rows, []any{
					c.DateUpdated.UTC().Format(time.RFC3339),
					c.Position.Lat,
					c.Position.Lng,
					c.Style.Background,
					c.Visible,
				})
			}
			o.Changes[m.ID] = rows
		}

		export.Overlays = append(export.Overlays, o)
	}
	return export
}

func writeJSON(path string, data HistoryExport, compress bool) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	var w io.Writer = f
	if compress {
		gzWriter := gzip.NewWriter(f)
		defer gzWriter.Close()
		w = gzWriter
	}

	if err := json.NewEncoder(w).Encode(data); err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}
	return nil
}
