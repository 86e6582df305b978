package logging

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/Graylog2/go-gelf/gelf"
)

// NewGELFHandler returns a JSON handler that ships each record to a Graylog
// UDP input at addr. Close the returned writer on shutdown.
func NewGELFHandler(addr, level string) (slog.Handler, io.Closer, error) {
	w, err := gelf.NewWriter(addr)
	if err != nil {
		return nil, nil, fmt.Errorf("gelf writer %s: %w", addr, err)
	}
	w.Facility = serviceName
	h := slog.NewJSONHandler(w, handlerOptions(parseLevel(level)))
	return h, w, nil
}
