package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FirstPresent returns the value of the first candidate field that is set
// on r with a non-empty value.
func FirstPresent(r Record, names []string) (any, bool) {
	for _, name := range names {
		v, ok := r[name]
		if !ok || v == nil {
			continue
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			continue
		}
		return v, true
	}
	return nil, false
}

// String resolves names on r and renders the value as a trimmed string.
func (r Record) String(names []string) string {
	v, ok := FirstPresent(r, names)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", t))
	}
}

// Float resolves names on r as a number. Numeric strings are accepted.
func (r Record) Float(names []string) (float64, bool) {
	v, ok := FirstPresent(r, names)
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(t), ",", ""), 64)
		return f, err == nil
	}
	return 0, false
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// Time resolves names on r as a timestamp or calendar date (UTC).
func (r Record) Time(names []string) (time.Time, bool) {
	s := r.String(names)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
