package model

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Timestamp is a point in time stored as epoch milliseconds.
//
// It decodes from a JSON/YAML number, an ISO-8601 string, or null. Values that cannot be
// parsed decode to 0 rather than failing: a bad created_at must never break a list view.
type Timestamp int64

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

func NewTimestamp(t time.Time) Timestamp {
	if t.IsZero() {
		return 0
	}
	return Timestamp(t.UnixMilli())
}

func Now() Timestamp { return NewTimestamp(time.Now().UTC()) }

func (ts Timestamp) Millis() int64 { return int64(ts) }

func (ts Timestamp) Time() time.Time {
	if ts == 0 {
		return time.Time{}
	}
	return time.UnixMilli(int64(ts)).UTC()
}

func (ts Timestamp) IsZero() bool { return ts == 0 }

func (ts Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatInt(int64(ts), 10)), nil
}

func (ts *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*ts = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			*ts = 0
			return nil
		}
		*ts = Timestamp(parseMillisString(s))
		return nil
	}
	*ts = Timestamp(parseMillisString(string(b)))
	return nil
}

func (ts Timestamp) MarshalYAML() (any, error) {
	return int64(ts), nil
}

func (ts *Timestamp) UnmarshalYAML(n *yaml.Node) error {
	if n == nil || n.Tag == "!!null" {
		*ts = 0
		return nil
	}
	// yaml.v3 resolves unquoted ISO dates to !!timestamp; Value keeps the raw text either way.
	*ts = Timestamp(parseMillisString(n.Value))
	return nil
}

// MillisOf normalizes a raw created_at value (number, time, string, Timestamp or nil) to epoch
// milliseconds. Unknown or unparsable values yield 0.
func MillisOf(v any) int64 {
	switch t := v.(type) {
	case nil:
		return 0
	case Timestamp:
		return int64(t)
	case *Timestamp:
		if t == nil {
			return 0
		}
		return int64(*t)
	case int:
		return int64(t)
	case int64:
		return t
	case int32:
		return int64(t)
	case float64:
		return floatMillis(t)
	case float32:
		return floatMillis(float64(t))
	case json.Number:
		return parseMillisString(t.String())
	case time.Time:
		if t.IsZero() {
			return 0
		}
		return t.UnixMilli()
	case *time.Time:
		if t == nil || t.IsZero() {
			return 0
		}
		return t.UnixMilli()
	case string:
		return parseMillisString(t)
	default:
		return 0
	}
}

func parseMillisString(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return floatMillis(f)
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UnixMilli()
		}
	}
	return 0
}

func floatMillis(f float64) int64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return int64(math.Floor(f))
}
