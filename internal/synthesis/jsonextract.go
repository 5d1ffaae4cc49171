package synthesis

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoJSON is returned when no parseable JSON object can be recovered from
// a model response.
var ErrNoJSON = errors.New("no JSON object found in response")

// ExtractJSON recovers a JSON object from free-form model output. Models are
// asked for bare JSON but routinely wrap it in prose or a fenced code block,
// so extraction tries three strategies in order:
//
//  1. parse the whole response as JSON
//  2. parse the contents of the first fenced code block
//  3. scan for the first balanced {...} object and parse that
//
// The result is the raw object bytes; the caller unmarshals into its own
// shape. A pure function: no logging, no fallback policy.
func ExtractJSON(text string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, ErrNoJSON
	}

	if raw, ok := tryParse(trimmed); ok {
		return raw, nil
	}

	if block, ok := fencedBlock(trimmed); ok {
		if raw, ok := tryParse(block); ok {
			return raw, nil
		}
	}

	if obj, ok := firstBalancedObject(trimmed); ok {
		if raw, ok := tryParse(obj); ok {
			return raw, nil
		}
	}

	return nil, ErrNoJSON
}

func tryParse(s string) (json.RawMessage, bool) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &probe); err != nil {
		return nil, false
	}
	return json.RawMessage(s), true
}

// fencedBlock returns the contents of the first ``` fenced block, tolerating
// a language tag on the opening fence.
func fencedBlock(s string) (string, bool) {
	start := strings.Index(s, "```")
	if start < 0 {
		return "", false
	}
	rest := s[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		// Drop the language tag line ("json", "JSON", or empty).
		rest = rest[nl+1:]
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

// firstBalancedObject scans for the first '{' and returns the substring up
// to its matching '}', respecting strings and escapes.
func firstBalancedObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
			// string contents are opaque
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
