package toolloop

import (
	"encoding/json"
	"maps"
	"reflect"
	"slices"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Extractor provides JSON Schema generation and layered validation (coercion, schema,
// Validatable) for type T without binding to a Tool. NewTool uses it for typed arguments;
// callers can use it directly to parse structured model output such as a JSON final answer.
type Extractor[T any] struct {
	schemaMap map[string]any
	params    []Parameter
	compiled  *jsonschema.Schema
}

// NewExtractor creates an Extractor for struct type T.
func NewExtractor[T any]() (*Extractor[T], error) {
	schemaMap, err := reflectSchema[T]()
	if err != nil {
		return nil, err
	}
	compiled, err := compileSchema(schemaMap)
	if err != nil {
		return nil, err
	}
	return &Extractor[T]{
		schemaMap: schemaMap,
		params:    paramsFromSchema(schemaMap),
		compiled:  compiled,
	}, nil
}

// Schema returns a shallow copy of the JSON Schema (top-level keys only).
// Nested maps are shared; callers must not mutate them.
func (e *Extractor[T]) Schema() map[string]any {
	return maps.Clone(e.schemaMap)
}

// Parameters returns the top-level parameters derived from the schema, sorted by name.
func (e *Extractor[T]) Parameters() []Parameter {
	return slices.Clone(e.params)
}

// Decode coerces and validates args, decodes them into T and runs Validatable.
// Failures are ClientErrors wrapping ErrInvalidArguments.
func (e *Extractor[T]) Decode(args Args) (T, error) {
	var zero T
	coerced, err := coerceArgs(e.params, args)
	if err != nil {
		return zero, err
	}
	if err := validateAgainstSchema(e.compiled, coerced); err != nil {
		return zero, err
	}
	data, err := json.Marshal(coerced)
	if err != nil {
		return zero, invalidArgs("%v", err)
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return zero, invalidArgs("%v", err)
	}
	if err := runLayer2Validation(out); err != nil {
		if IsClientError(err) {
			return zero, err
		}
		return zero, invalidArgs("%v", err)
	}
	return out, nil
}

// ParseAndValidate parses a JSON object (optionally wrapped in a Markdown code fence,
// as models tend to emit) and runs Decode on it.
func (e *Extractor[T]) ParseAndValidate(text string) (T, error) {
	var zero T
	var args Args
	dec := json.NewDecoder(strings.NewReader(stripCodeFence(text)))
	dec.UseNumber()
	if err := dec.Decode(&args); err != nil {
		return zero, invalidArgs("json parse error: %v", err)
	}
	return e.Decode(args)
}

func stripCodeFence(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// runLayer2Validation runs Validatable.Validate() on args; if args does not implement Validatable,
// it tries &args for value types (pointer receiver). Never calls Validate twice for the same receiver.
func runLayer2Validation[T any](args T) error {
	if err := validateCustom(any(args)); err != nil {
		return err
	}
	if _, ok := any(args).(Validatable); ok {
		return nil
	}
	typ := reflect.TypeOf(args)
	if typ == nil || typ.Kind() == reflect.Pointer {
		return nil
	}
	return validateCustom(any(&args))
}
