/**
 * @description
 * Declarative input schemas for tools. A Schema renders itself as JSON Schema for
 * discovery and validates raw input against that same document with
 * santhosh-tekuri/jsonschema. Defaulting and upper-casing happen around it.
 *
 * @notes
 * - Field names are checked in sorted order and validation stops at the first
 *   violation, so the reported field is stable for a given input.
 * - Schemas are closed unless Passthrough is set: unknown fields are rejected.
 */

package tools

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/gammarips/tool-service/internal/domain"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// FieldType is the JSON type a field must carry.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeInteger FieldType = "integer"
	TypeNumber  FieldType = "number"
	TypeBoolean FieldType = "boolean"
	TypeArray   FieldType = "array"
)

// Field describes one input property. Arrays always hold strings.
type Field struct {
	Name        string
	Type        FieldType
	Description string
	Required    bool
	Enum        []string
	Default     any
	Min         *float64
	Max         *float64
	MaxLength   int
	// Uppercase upper-cases string values (and array items) before enum checks.
	Uppercase bool
}

// Schema is the closed set of fields a tool accepts.
type Schema struct {
	Fields      []Field
	Passthrough bool

	compiled *compiledSchema
}

// Bound returns a pointer for Field.Min and Field.Max literals.
func Bound(v float64) *float64 {
	return &v
}

func (s Schema) field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Compile builds the validators for s. Registry.Register compiles every descriptor so
// schema mistakes surface at startup. Validate compiles on demand otherwise.
func (s Schema) Compile() (Schema, error) {
	doc, err := json.Marshal(s.JSONSchema())
	if err != nil {
		return s, fmt.Errorf("render schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, bytes.NewReader(doc)); err != nil {
		return s, fmt.Errorf("load schema: %w", err)
	}

	fields := make(map[string]*jsonschema.Schema, len(s.Fields))
	for _, f := range s.Fields {
		sch, err := c.Compile(schemaURL + "#/properties/" + f.Name)
		if err != nil {
			return s, fmt.Errorf("compile field %s: %w", f.Name, err)
		}
		fields[f.Name] = sch
	}
	s.compiled = &compiledSchema{fields: fields}
	return s, nil
}

const schemaURL = "mem://tool-input.json"

type compiledSchema struct {
	fields map[string]*jsonschema.Schema
}

// Validate checks raw against the schema and returns the normalised input.
// The error is always a *domain.ToolError of kind InvalidInput.
func (s Schema) Validate(raw map[string]any) (Input, error) {
	if s.compiled == nil {
		compiled, err := s.Compile()
		if err != nil {
			return nil, domain.NewInvalidInput("", "input schema is invalid")
		}
		s = compiled
	}

	names := make(map[string]struct{}, len(raw)+len(s.Fields))
	for name := range raw {
		names[name] = struct{}{}
	}
	for _, f := range s.Fields {
		names[f.Name] = struct{}{}
	}
	ordered := make([]string, 0, len(names))
	for name := range names {
		ordered = append(ordered, name)
	}
	sort.Strings(ordered)

	out := make(Input, len(ordered))
	for _, name := range ordered {
		value, present := raw[name]
		f, declared := s.field(name)
		if !declared {
			if !s.Passthrough {
				return nil, domain.NewInvalidInput(name, "unknown field")
			}
			out[name] = value
			continue
		}

		if !present || value == nil {
			if f.Required {
				return nil, domain.NewInvalidInput(name, "field is required")
			}
			if f.Default != nil {
				out[name] = f.Default
			}
			continue
		}

		normalised, ok := f.normalise(value)
		if !ok {
			return nil, domain.NewInvalidInput(name, "has an unsupported value")
		}
		if err := s.compiled.fields[name].Validate(normalised); err != nil {
			return nil, domain.NewInvalidInput(name, validationMessage(err))
		}
		out[name] = f.convert(normalised)
	}
	return out, nil
}

// normalise trims strings and applies Uppercase, so enums compare against the
// canonical form. It reports false for values that are not JSON shaped.
func (f Field) normalise(value any) (any, bool) {
	switch v := value.(type) {
	case string:
		return f.normaliseString(v), true
	case []string:
		items := make([]any, len(v))
		for i, item := range v {
			items[i] = f.normaliseString(item)
		}
		return items, true
	case []any:
		items := make([]any, len(v))
		for i, item := range v {
			if str, ok := item.(string); ok {
				items[i] = f.normaliseString(str)
				continue
			}
			if !jsonShaped(item) {
				return nil, false
			}
			items[i] = item
		}
		return items, true
	}
	return value, jsonShaped(value)
}

func (f Field) normaliseString(v string) string {
	v = strings.TrimSpace(v)
	if f.Uppercase {
		v = strings.ToUpper(v)
	}
	return v
}

func jsonShaped(value any) bool {
	switch v := value.(type) {
	case nil, bool, string, float64, float32, int, int64, json.Number:
		return true
	case []any:
		for _, item := range v {
			if !jsonShaped(item) {
				return false
			}
		}
		return true
	case map[string]any:
		for _, item := range v {
			if !jsonShaped(item) {
				return false
			}
		}
		return true
	}
	return false
}

// convert turns a validated value into the Go type handlers read through Input.
func (f Field) convert(value any) any {
	switch f.Type {
	case TypeInteger:
		n, _ := asNumber(value)
		return int(n)
	case TypeNumber:
		n, _ := asNumber(value)
		return n
	case TypeArray:
		items, _ := value.([]any)
		out := make([]string, 0, len(items))
		for _, item := range items {
			str, _ := item.(string)
			out = append(out, str)
		}
		return out
	}
	return value
}

// validationMessage returns the innermost reason, which names the failed keyword.
func validationMessage(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return "is invalid"
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	return ve.Message
}

func asNumber(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// JSONSchema renders the schema for tool discovery.
func (s Schema) JSONSchema() map[string]any {
	props := make(map[string]any, len(s.Fields))
	required := []string{}
	for _, f := range s.Fields {
		prop := map[string]any{"type": string(f.Type)}
		if f.Description != "" {
			prop["description"] = f.Description
		}
		if f.Type == TypeArray {
			items := map[string]any{"type": "string"}
			if len(f.Enum) > 0 {
				items["enum"] = f.Enum
			}
			prop["items"] = items
			if f.Max != nil {
				prop["maxItems"] = int64(*f.Max)
			}
		} else {
			if len(f.Enum) > 0 {
				prop["enum"] = f.Enum
			}
			if f.Min != nil {
				prop["minimum"] = *f.Min
			}
			if f.Max != nil {
				prop["maximum"] = *f.Max
			}
		}
		if f.MaxLength > 0 {
			prop["maxLength"] = f.MaxLength
		}
		if f.Required && f.Type == TypeString {
			prop["minLength"] = 1
		}
		if f.Default != nil {
			prop["default"] = f.Default
		}
		props[f.Name] = prop
		if f.Required {
			required = append(required, f.Name)
		}
	}
	sort.Strings(required)

	out := map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": s.Passthrough,
	}
	return out
}
