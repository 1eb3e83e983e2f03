// Package mapping projects fields out of arbitrary JSON values using dot paths.
//
// A dot path is a sequence of plain object keys separated by '.'. There is no
// array indexing, escaping or wildcard: "a.b" reads key "b" of the object
// stored under key "a".
package mapping

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Undefined marks a mapped field whose path did not resolve. It stays in the
// result map and encodes as JSON null.
type Undefined struct{}

// MarshalJSON encodes the marker as null.
func (Undefined) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// Missing is the value stored for unresolved paths.
var Missing = Undefined{}

// IsMissing reports whether v is the unresolved marker.
func IsMissing(v any) bool {
	_, ok := v.(Undefined)
	return ok
}

// Lookup walks path through data. The second result is false when a hop does
// not find an object holding the next key.
func Lookup(data any, path string) (any, bool) {
	value := data
	for _, key := range strings.Split(path, ".") {
		obj, ok := value.(map[string]any)
		if !ok {
			return Missing, false
		}
		next, ok := obj[key]
		if !ok {
			return Missing, false
		}
		value = next
	}
	return value, true
}

// Apply evaluates every output field against data. Unresolved paths yield
// Missing rather than being dropped.
func Apply(data any, fields map[string]string) map[string]any {
	result := make(map[string]any, len(fields))
	for out, path := range fields {
		v, _ := Lookup(data, path)
		result[out] = v
	}
	return result
}

// ApplyJSON decodes raw and applies fields to it.
func ApplyJSON(raw []byte, fields map[string]string) (map[string]any, error) {
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to decode mapping input: %w", err)
	}
	return Apply(data, fields), nil
}
