// Package util holds the lenient JSON scalars used by record schemas and
// small time helpers.
package util

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

var null = []byte("null")

// Float decodes a JSON number, a numeric string, or null (zero).
// Unparseable strings also decode to zero.
type Float float64

func (f *Float) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, null) {
		*f = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(s, ",", ".")), 64)
		if err != nil {
			*f = 0
			return nil
		}
		*f = Float(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = Float(v)
	return nil
}

// Int truncates the decoded value.
func (f Float) Int() int { return int(f) }

// String decodes a JSON string, a number (rendered without exponent), or null.
type String string

func (s *String) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, null) {
		*s = ""
		return nil
	}
	if data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = String(strings.TrimSpace(v))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if i, err := n.Int64(); err == nil {
		*s = String(strconv.FormatInt(i, 10))
		return nil
	}
	*s = String(n.String())
	return nil
}

// Timestamp decodes epoch seconds or milliseconds (number or string) and the
// usual date-time layouts. Unknown layouts decode to the zero time.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var raw String
	if err := raw.UnmarshalJSON(data); err != nil {
		return err
	}
	t.Time = ParseTimestamp(string(raw))
	return nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"20060102150405",
}

// ParseTimestamp parses epoch seconds, epoch milliseconds or a date-time
// string. Zone-less layouts are read as UTC.
func ParseTimestamp(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	if ts, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if ts > 1_000_000_000_000 {
			return time.UnixMilli(ts).UTC()
		}
		return time.Unix(ts, 0).UTC()
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return time.Unix(int64(f), 0).UTC()
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC()
		}
	}
	return time.Time{}
}

// MinutesSince returns the whole minutes between t and now in either
// direction. A zero t is infinitely old.
func MinutesSince(t, now time.Time) int {
	if t.IsZero() {
		return int(^uint(0) >> 1)
	}
	d := now.Sub(t)
	if d < 0 {
		d = -d
	}
	return int(d / time.Minute)
}
