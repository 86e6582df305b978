// Package overlay holds the helpers shared by the concrete overlay specs:
// record decoding, popup templating and display formatting.
package overlay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"strconv"
	"strings"
	"time"

	"github.com/orasdigital/citymap/internal/config"
)

// Options configures a concrete overlay spec.
type Options struct {
	Resource string
	Labels   config.Text
	Messages config.Text
	// Location renders popup timestamps; nil means UTC.
	Location *time.Location
}

// Label returns a label, falling back to the key itself.
func (o Options) Label(key string) string {
	if v := o.Labels.Get(key); v != "" {
		return v
	}
	return key
}

// Message returns a message or an empty string.
func (o Options) Message(key string) string {
	return o.Messages.Get(key)
}

// Time formats t for a popup in the configured location.
func (o Options) Time(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	loc := o.Location
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("Mon, 02 Jan 2006 15:04")
}

// Decode parses a JSON array of records. A null body decodes to no records.
func Decode[R any](raw []byte) ([]R, error) {
	var out []R
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	return out, nil
}

// Render executes a popup template. Template errors render an empty body.
func Render(tmpl *template.Template, data any) string {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return ""
	}
	return buf.String()
}

// Number formats v without trailing zeros.
func Number(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Fill replaces a {{TOKEN}} placeholder in a translated label.
func Fill(label, token, value string) string {
	return strings.ReplaceAll(label, "{{"+token+"}}", value)
}
