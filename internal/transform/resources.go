// Package transform implements the content pass applied to files while they
// are mirrored: a flattened resource table of delimited keys, and a streaming
// line rewriter that substitutes every key occurrence with its value.
package transform

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/goccy/go-json"
)

// Default delimiters: a nested key a -> b -> c is matched as "@{a.b.c}".
const (
	DefaultOpen      = "@{"
	DefaultClose     = "}"
	DefaultSeparator = "."
)

// Delimiters controls how nested resource keys are joined and wrapped.
type Delimiters struct {
	Open      string
	Close     string
	Separator string
}

// DefaultDelimiters returns the "@{a.b.c}" key syntax.
func DefaultDelimiters() Delimiters {
	return Delimiters{
		Open:      DefaultOpen,
		Close:     DefaultClose,
		Separator: DefaultSeparator,
	}
}

// ResourceMap maps a fully delimited key (e.g. "@{a.b}") to its replacement.
// It is built once and never mutated afterwards.
type ResourceMap map[string]string

// Flatten turns a nested key/value structure into a ResourceMap. Nested
// objects contribute compound keys joined by d.Separator; every other value
// is a leaf. Colliding flattened keys are resolved arbitrarily.
func Flatten(resources map[string]any, d Delimiters) ResourceMap {
	flat := make(map[string]string)
	flattenInto(flat, "", resources, d.Separator)

	out := make(ResourceMap, len(flat))
	for key, value := range flat {
		out[d.Open+key+d.Close] = value
	}

	return out
}

func flattenInto(out map[string]string, prefix string, node map[string]any, sep string) {
	for key, value := range node {
		full := key
		if prefix != "" {
			full = prefix + sep + key
		}

		if child, ok := asObject(value); ok {
			flattenInto(out, full, child, sep)
			continue
		}

		out[full] = leafString(value)
	}
}

// asObject accepts both decoder shapes for nested objects: map[string]any
// (JSON, TOML, YAML with string keys) and map[any]any (YAML with mixed keys).
func asObject(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		converted := make(map[string]any, len(m))
		for k, val := range m {
			converted[fmt.Sprint(k)] = val
		}

		return converted, true
	default:
		return nil, false
	}
}

// leafString renders a scalar in its literal text form.
func leafString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(val)
	case fmt.Stringer:
		return val.String()
	default:
		encoded, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}

		return string(encoded)
	}
}

// Keys returns the delimited keys in match priority order: longest first,
// equal lengths in lexical order.
func (m ResourceMap) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}

		return keys[i] < keys[j]
	})

	return keys
}
