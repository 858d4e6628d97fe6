package model

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
	"time"
)

// Layouts tried in order for string timestamps. Layouts without a zone
// are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// Epoch values above this are taken as milliseconds.
const epochMillisThreshold = 1e12

// Timestamp is an event time decoded leniently. It accepts RFC 3339,
// zone-less ISO 8601 (with or without fractional seconds, T or space
// separated) and epoch seconds or milliseconds. A value that cannot be
// parsed leaves Time zero and keeps the original text in Raw.
type Timestamp struct {
	time.Time
	Raw string // Original value when it could not be parsed
}

// ParseTimestamp parses s with the lenient layouts.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// UnmarshalJSON never fails: unknown shapes are kept in Raw.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	*t = Timestamp{}

	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			t.Raw = string(data)
			return nil
		}
		if s == "" {
			return nil
		}
		if parsed, ok := ParseTimestamp(s); ok {
			t.Time = parsed
		} else {
			t.Raw = s
		}
		return nil
	}

	var epoch float64
	if err := json.Unmarshal(data, &epoch); err != nil || math.IsNaN(epoch) || math.IsInf(epoch, 0) {
		t.Raw = string(data)
		return nil
	}
	t.Time = fromEpoch(epoch)
	return nil
}

// MarshalJSON writes RFC 3339, the raw value when unparsed, or null.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	switch {
	case !t.Time.IsZero():
		return json.Marshal(t.Time.Format(time.RFC3339Nano))
	case t.Raw != "":
		return json.Marshal(t.Raw)
	default:
		return []byte("null"), nil
	}
}

func fromEpoch(v float64) time.Time {
	if math.Abs(v) >= epochMillisThreshold {
		return time.UnixMilli(int64(v)).UTC()
	}
	sec, frac := math.Modf(v)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC()
}
