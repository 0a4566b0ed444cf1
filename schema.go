// schema.go: Declarative plugin configuration schemas
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package harvest

import (
	"fmt"
	"time"
)

// FieldType enumerates the value types a schema field may declare.
type FieldType string

const (
	FieldString   FieldType = "string"
	FieldInt      FieldType = "int"
	FieldFloat    FieldType = "float"
	FieldBool     FieldType = "bool"
	FieldDuration FieldType = "duration"
)

// FieldSpec declares one configuration field of a plugin descriptor.
type FieldSpec struct {
	Type     FieldType `json:"type" yaml:"type"`
	Required bool      `json:"required,omitempty" yaml:"required,omitempty"`
	Default  any       `json:"default,omitempty" yaml:"default,omitempty"`
}

// ConfigSchema maps field names to their declared specifications. A nil or
// empty schema accepts any configuration.
type ConfigSchema map[string]FieldSpec

// Apply validates config against the schema and returns a copy with
// defaults filled in for absent optional fields. The input map is never
// mutated; load failures leave existing supervisor state untouched.
func (s ConfigSchema) Apply(pluginID string, config map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(config)+len(s))
	for k, v := range config {
		out[k] = v
	}
	for name, spec := range s {
		value, present := out[name]
		if !present {
			if spec.Required {
				return nil, NewConfigSchemaError(pluginID, name, "required field missing")
			}
			if spec.Default != nil {
				out[name] = spec.Default
			}
			continue
		}
		normalized, err := spec.check(value)
		if err != nil {
			return nil, NewConfigSchemaError(pluginID, name, err.Error())
		}
		out[name] = normalized
	}
	return out, nil
}

// check verifies that value is assignable to the declared field type and
// returns the normalized value (duration strings are parsed). Numeric
// widening (int → float) is accepted; YAML and JSON decoders produce a
// mix of int, int64, and float64 for numbers.
func (f FieldSpec) check(value any) (any, error) {
	switch f.Type {
	case FieldString:
		if _, ok := value.(string); !ok {
			return nil, fmt.Errorf("expected string, got %T", value)
		}
	case FieldDuration:
		switch v := value.(type) {
		case time.Duration:
		case string:
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, fmt.Errorf("invalid duration %q", v)
			}
			return d, nil
		default:
			return nil, fmt.Errorf("expected duration, got %T", value)
		}
	case FieldInt:
		switch value.(type) {
		case int, int32, int64:
		default:
			return nil, fmt.Errorf("expected int, got %T", value)
		}
	case FieldFloat:
		switch value.(type) {
		case int, int32, int64, float32, float64:
		default:
			return nil, fmt.Errorf("expected float, got %T", value)
		}
	case FieldBool:
		if _, ok := value.(bool); !ok {
			return nil, fmt.Errorf("expected bool, got %T", value)
		}
	default:
		return nil, fmt.Errorf("unknown field type %q", f.Type)
	}
	return value, nil
}
