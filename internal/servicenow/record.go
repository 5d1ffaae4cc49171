package servicenow

import (
	"strconv"
	"strings"
	"time"
)

// Record is a loosely-typed ServiceNow row. Reference fields arrive either as
// plain strings or as {"display_value": ..., "value": ...} objects depending
// on sysparm_display_value; the accessors normalize both shapes.
type Record map[string]any

// GetString returns the field as a string, preferring the display value for
// reference objects. Missing or null fields return "".
func (r Record) GetString(field string) string {
	v, ok := r[field]
	if !ok || v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case map[string]any:
		if dv, ok := val["display_value"].(string); ok && dv != "" {
			return dv
		}
		if raw, ok := val["value"].(string); ok {
			return raw
		}
		return ""
	case bool:
		if val {
			return "true"
		}
		return "false"
	case float64:
		// ServiceNow numerics come back as JSON numbers under some views.
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return ""
	}
}

// GetBool interprets ServiceNow's stringly-typed booleans ("true"/"1"/"yes").
func (r Record) GetBool(field string) bool {
	switch v := r[field].(type) {
	case bool:
		return v
	default:
		s := strings.ToLower(r.GetString(field))
		return s == "true" || s == "1" || s == "yes"
	}
}

// glideDateFormats are the timestamp layouts the table API emits.
var glideDateFormats = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	time.RFC3339,
}

// GetTime parses a glide datetime field. Returns nil when the field is empty
// or unparsable; the collector's fail-safe policy handles the nil.
func (r Record) GetTime(field string) *time.Time {
	s := r.GetString(field)
	if s == "" {
		return nil
	}
	for _, layout := range glideDateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			utc := t.UTC()
			return &utc
		}
	}
	return nil
}
