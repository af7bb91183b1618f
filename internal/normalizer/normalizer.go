// Package normalizer forces untrusted JSON — typically the output of a
// generative model — into a value that strictly matches a bounded schema
// description. Missing or wrong-typed data is replaced by type-correct
// defaults rather than raising: availability over strictness. Schemas, by
// contrast, are developer-controlled and fail loudly when malformed.
package normalizer

import (
	"encoding/json"
	"fmt"
	"math"
)

// Schema is the sanitized, tagged-variant form of a JSON-Schema-like
// description. Only the types below are supported.
type Schema struct {
	Type       string             `json:"type"`
	Enum       []string           `json:"enum,omitempty"`       // string only
	Items      *Schema            `json:"items,omitempty"`      // array only
	Properties map[string]*Schema `json:"properties,omitempty"` // object only
}

// Bounds on accepted schemas and coerced values.
const (
	MaxSchemaDepth      = 6
	MaxSchemaProperties = 200 // counted across the whole tree
	MaxArrayItems       = 200
)

// SanitizeSchema validates a raw schema description and returns its tagged
// form. An invalid schema is a caller bug and returns an error.
func SanitizeSchema(raw any) (*Schema, error) {
	counter := 0
	return sanitize(raw, 0, &counter)
}

func sanitize(raw any, depth int, propCounter *int) (*Schema, error) {
	if depth > MaxSchemaDepth {
		return nil, fmt.Errorf("schema exceeds max depth %d", MaxSchemaDepth)
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("schema node must be an object")
	}
	typ, ok := obj["type"].(string)
	if !ok {
		return nil, fmt.Errorf("schema node is missing a type")
	}

	s := &Schema{Type: typ}
	switch typ {
	case "string":
		if rawEnum, present := obj["enum"]; present {
			items, ok := rawEnum.([]any)
			if !ok {
				return nil, fmt.Errorf("enum must be an array")
			}
			for _, item := range items {
				str, ok := item.(string)
				if !ok {
					return nil, fmt.Errorf("enum values must be strings")
				}
				s.Enum = append(s.Enum, str)
			}
		}
	case "number", "integer", "boolean":
		// no extra shape
	case "array":
		items, err := sanitize(obj["items"], depth+1, propCounter)
		if err != nil {
			return nil, fmt.Errorf("items: %w", err)
		}
		s.Items = items
	case "object":
		props, ok := obj["properties"].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("object schema requires properties")
		}
		s.Properties = make(map[string]*Schema, len(props))
		for name, rawProp := range props {
			*propCounter++
			if *propCounter > MaxSchemaProperties {
				return nil, fmt.Errorf("schema exceeds %d total properties", MaxSchemaProperties)
			}
			prop, err := sanitize(rawProp, depth+1, propCounter)
			if err != nil {
				return nil, fmt.Errorf("property %q: %w", name, err)
			}
			s.Properties[name] = prop
		}
	default:
		return nil, fmt.Errorf("unsupported schema type %q", typ)
	}
	return s, nil
}

// Coerce projects an arbitrary decoded JSON value onto a sanitized schema.
// It never panics and every schema-typed leaf receives a value.
func Coerce(value any, s *Schema) any {
	switch s.Type {
	case "string":
		str, ok := value.(string)
		if len(s.Enum) > 0 {
			if ok {
				for _, allowed := range s.Enum {
					if str == allowed {
						return str
					}
				}
			}
			return s.Enum[0]
		}
		if ok {
			return str
		}
		return ""
	case "number":
		if n, ok := asNumber(value); ok {
			return n
		}
		return float64(0)
	case "integer":
		if n, ok := asNumber(value); ok {
			return int64(math.Trunc(n))
		}
		return int64(0)
	case "boolean":
		if b, ok := value.(bool); ok {
			return b
		}
		return false
	case "array":
		items, ok := value.([]any)
		if !ok {
			return []any{}
		}
		if len(items) > MaxArrayItems {
			items = items[:MaxArrayItems]
		}
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = Coerce(item, s.Items)
		}
		return out
	case "object":
		obj, _ := value.(map[string]any)
		out := make(map[string]any, len(s.Properties))
		for name, prop := range s.Properties {
			out[name] = Coerce(obj[name], prop) // extra input keys are dropped
		}
		return out
	}
	return nil
}

func asNumber(value any) (float64, bool) {
	n, ok := value.(float64)
	if !ok || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

// NormalizeText sanitizes a raw schema and coerces a JSON text blob against
// it. Text that fails to parse is treated as null input, not an error: the
// caller still gets a fully-shaped default value.
func NormalizeText(rawSchema any, text string) (any, error) {
	schema, err := SanitizeSchema(rawSchema)
	if err != nil {
		return nil, err
	}
	var value any
	if err := json.Unmarshal([]byte(text), &value); err != nil {
		value = nil
	}
	return Coerce(value, schema), nil
}
