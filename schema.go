package toolloop

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	invopop "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ParamType is the declared primitive type of a tool parameter.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	// typeAny marks non-primitive properties of reflected schemas; they are left
	// to schema validation only.
	typeAny ParamType = ""
)

func (t ParamType) valid() bool {
	switch t {
	case TypeString, TypeInteger, TypeNumber, TypeBoolean:
		return true
	}
	return false
}

// Parameter declares one named, typed tool parameter.
type Parameter struct {
	Name        string
	Type        ParamType
	Description string
	Optional    bool
	// Enum restricts the value to the listed constants (after type coercion).
	Enum []any
}

// buildParamsSchema produces the JSON Schema object for declared parameters.
// Unknown properties are rejected (additionalProperties: false).
func buildParamsSchema(params []Parameter) (map[string]any, error) {
	props := make(map[string]any, len(params))
	required := make([]any, 0, len(params))
	seen := make(map[string]struct{}, len(params))
	for _, p := range params {
		if p.Name == "" {
			return nil, fmt.Errorf("%w: parameter name must not be empty", ErrInvalidTool)
		}
		if _, dup := seen[p.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate parameter %q", ErrInvalidTool, p.Name)
		}
		seen[p.Name] = struct{}{}
		if !p.Type.valid() {
			return nil, fmt.Errorf("%w: parameter %q has unsupported type %q", ErrInvalidTool, p.Name, p.Type)
		}
		prop := map[string]any{"type": string(p.Type)}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			prop["enum"] = slices.Clone(p.Enum)
		}
		props[p.Name] = prop
		if !p.Optional {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema, nil
}

// reflectSchema produces a JSON Schema map for struct type T. Field tags follow
// invopop/jsonschema conventions (json names, `jsonschema:"description=...,enum=..."`);
// fields without omitempty are required.
func reflectSchema[T any]() (map[string]any, error) {
	r := &invopop.Reflector{ExpandedStruct: true, DoNotReference: true}
	s := r.Reflect(new(T))
	if s == nil {
		return nil, errNilSchema
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var schemaMap map[string]any
	if err := json.Unmarshal(data, &schemaMap); err != nil {
		return nil, err
	}
	if schemaMap["type"] != "object" {
		return nil, fmt.Errorf("%w: arguments type %T must be a struct", ErrInvalidTool, *new(T))
	}
	stripSchemaIDs(schemaMap)
	return schemaMap, nil
}

// paramsFromSchema derives parameter declarations from a JSON Schema object, sorted by name.
// Properties that are not a single primitive type become typeAny.
func paramsFromSchema(schemaMap map[string]any) []Parameter {
	props, _ := schemaMap["properties"].(map[string]any)
	required := make(map[string]bool)
	if req, ok := schemaMap["required"].([]any); ok {
		for _, r := range req {
			if s, ok := r.(string); ok {
				required[s] = true
			}
		}
	}
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	slices.Sort(names)
	params := make([]Parameter, 0, len(names))
	for _, name := range names {
		p := Parameter{Name: name, Optional: !required[name]}
		if prop, ok := props[name].(map[string]any); ok {
			if t, ok := prop["type"].(string); ok && ParamType(t).valid() {
				p.Type = ParamType(t)
			}
			p.Description, _ = prop["description"].(string)
		}
		params = append(params, p)
	}
	return params
}

var errNilSchema = errors.New("schema reflection returned nil")

// compileSchema compiles a raw JSON Schema map into a validator. The map is not mutated.
func compileSchema(schemaMap map[string]any) (*jsonschema.Schema, error) {
	data, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("args.json", doc); err != nil {
		return nil, err
	}
	return c.Compile("args.json")
}

// stripSchemaIDs removes $schema and $id from the root so compilation does not depend on them.
func stripSchemaIDs(schemaMap map[string]any) {
	delete(schemaMap, "$id")
	delete(schemaMap, "$schema")
	if _, ok := schemaMap["id"].(string); ok {
		delete(schemaMap, "id")
	}
}

// schemaErrorDetail flattens a multi-line validation error into one line for the model.
func schemaErrorDetail(err error) string {
	lines := strings.Split(strings.TrimSpace(err.Error()), "\n")
	if len(lines) > 1 {
		lines = lines[1:]
	}
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		l = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(l), "- "))
		if l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "; ")
}
