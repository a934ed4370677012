package engine

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Params holds the structured parameters of one verb. Values use the JSON
// decoding types (float64 numbers, []interface{} lists) so MCP arguments can
// be passed through unchanged; the CLI passes native Go values.
type Params map[string]interface{}

// Bool extracts a boolean parameter with a default value
func (p Params) Bool(key string, defaultValue bool) bool {
	if val, ok := p[key].(bool); ok {
		return val
	}
	return defaultValue
}

// Int extracts an integer parameter with a default value
func (p Params) Int(key string, defaultValue int) int {
	switch val := p[key].(type) {
	case float64:
		return int(val)
	case int:
		return val
	case int64:
		return int(val)
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return int(n)
		}
	}
	return defaultValue
}

// String extracts a trimmed string parameter with a default value
func (p Params) String(key string, defaultValue string) string {
	if val, ok := p[key].(string); ok {
		return strings.TrimSpace(val)
	}
	return defaultValue
}

// First returns the first non-empty string among keys
func (p Params) First(keys ...string) string {
	for _, k := range keys {
		if v := p.String(k, ""); v != "" {
			return v
		}
	}
	return ""
}

// Require returns a non-empty string parameter or an ErrInvalidParams error
func (p Params) Require(key string) (string, error) {
	v := p.String(key, "")
	if v == "" {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidParams, key)
	}
	return v, nil
}

// Strings extracts a list parameter. A single string is split on commas.
func (p Params) Strings(key string) []string {
	var raw []string
	switch val := p[key].(type) {
	case string:
		raw = strings.Split(val, ",")
	case []string:
		raw = val
	case []interface{}:
		for _, item := range val {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			}
		}
	}
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
