package toolloop

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// Tool is a named, locally executable function the model may request.
type Tool interface {
	Name() string
	Description() string
	// Parameters returns the JSON Schema object describing the arguments.
	Parameters() map[string]any
	// Execute validates args and runs the behavior. Validation failures are ClientErrors
	// wrapping ErrInvalidArguments, in which case the behavior is not called.
	Execute(ctx context.Context, args Args) (string, error)
}

// ToolMetadata is implemented by tools built in this package and by middleware wrappers.
type ToolMetadata interface {
	Timeout() time.Duration
	Tags() []string
}

// Behavior is the executable part of a tool built with NewFuncTool or NewDynamicTool.
type Behavior func(ctx context.Context, args Args) (string, error)

// tool is the internal implementation of Tool.
type tool struct {
	name        string
	description string
	schema      map[string]any
	execute     Behavior
	opts        toolOptions
}

// NewFuncTool builds a Tool from declared parameters and a behavior. Arguments are
// coerced to the declared primitive types and validated (required, enum, no extras)
// before fn runs; fn receives the coerced mapping (int for integer, float64 for number).
func NewFuncTool(name, description string, params []Parameter, fn Behavior, opts ...ToolOption) (Tool, error) {
	if err := checkToolHeader(name, fn != nil); err != nil {
		return nil, err
	}
	schemaMap, err := buildParamsSchema(params)
	if err != nil {
		return nil, fmt.Errorf("tool %q: %w", name, err)
	}
	compiled, err := compileSchema(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("tool %q: compile schema: %w", name, err)
	}
	declared := slices.Clone(params)
	return newTool(name, description, schemaMap, func(ctx context.Context, args Args) (string, error) {
		coerced, err := coerceArgs(declared, args)
		if err != nil {
			return "", err
		}
		if err := validateAgainstSchema(compiled, coerced); err != nil {
			return "", err
		}
		return fn(ctx, coerced)
	}, opts), nil
}

// NewTool builds a Tool from a typed function. T must be a struct; its schema is reflected
// once. A string result is returned as is, any other result is marshaled to JSON.
func NewTool[T any, R any](
	name, description string,
	fn func(ctx context.Context, args T) (R, error),
	opts ...ToolOption,
) (Tool, error) {
	if err := checkToolHeader(name, fn != nil); err != nil {
		return nil, err
	}
	ext, err := NewExtractor[T]()
	if err != nil {
		return nil, fmt.Errorf("tool %q: %w", name, err)
	}
	return newTool(name, description, ext.Schema(), func(ctx context.Context, args Args) (string, error) {
		typed, err := ext.Decode(args)
		if err != nil {
			return "", err
		}
		res, err := fn(ctx, typed)
		if err != nil {
			return "", err
		}
		if s, ok := any(res).(string); ok {
			return s, nil
		}
		b, err := json.Marshal(res)
		if err != nil {
			return "", &SystemError{Err: err}
		}
		return string(b), nil
	}, opts), nil
}

// NewDynamicTool creates a Tool from a raw JSON Schema object, for tools whose shape is
// only known at runtime. Top-level primitive properties are coerced like NewFuncTool;
// the whole mapping is then validated against the schema. schemaMap is not mutated.
func NewDynamicTool(name, description string, schemaMap map[string]any, fn Behavior, opts ...ToolOption) (Tool, error) {
	if err := checkToolHeader(name, fn != nil); err != nil {
		return nil, err
	}
	if schemaMap == nil {
		return nil, fmt.Errorf("%w: tool %q: schema must not be nil", ErrInvalidTool, name)
	}
	// Deep copy before any modification so the caller's map is never mutated.
	data, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("tool %q: copy schema: %w", name, err)
	}
	var schemaCopy map[string]any
	if err := json.Unmarshal(data, &schemaCopy); err != nil {
		return nil, fmt.Errorf("tool %q: copy schema: %w", name, err)
	}
	stripSchemaIDs(schemaCopy)
	compiled, err := compileSchema(schemaCopy)
	if err != nil {
		return nil, fmt.Errorf("tool %q: compile schema: %w", name, err)
	}
	params := paramsFromSchema(schemaCopy)
	return newTool(name, description, schemaCopy, func(ctx context.Context, args Args) (string, error) {
		coerced, err := coerceArgs(params, args)
		if err != nil {
			return "", err
		}
		if err := validateAgainstSchema(compiled, coerced); err != nil {
			return "", err
		}
		return fn(ctx, coerced)
	}, opts), nil
}

func newTool(name, description string, schema map[string]any, execute Behavior, opts []ToolOption) *tool {
	var o toolOptions
	for _, opt := range opts {
		opt(&o)
	}
	return &tool{
		name:        name,
		description: description,
		schema:      schema,
		execute:     execute,
		opts:        o,
	}
}

func checkToolHeader(name string, hasBehavior bool) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name must not be empty", ErrInvalidTool)
	}
	if !hasBehavior {
		return fmt.Errorf("%w: tool %q: behavior must not be nil", ErrInvalidTool, name)
	}
	return nil
}

func (t *tool) Name() string        { return t.name }
func (t *tool) Description() string { return t.description }

// Parameters returns a shallow copy of the JSON Schema (top-level keys only).
// Nested maps (e.g. under "properties") are shared; callers must not mutate them.
func (t *tool) Parameters() map[string]any { return maps.Clone(t.schema) }

func (t *tool) Execute(ctx context.Context, args Args) (string, error) {
	return t.execute(ctx, args)
}

func (t *tool) Timeout() time.Duration { return t.opts.timeout }
func (t *tool) Tags() []string         { return append([]string(nil), t.opts.tags...) }

// MustTool panics if err is not nil. For package-level tool declarations.
func MustTool(t Tool, err error) Tool {
	if err != nil {
		panic("toolloop: " + err.Error())
	}
	return t
}

var (
	_ Tool         = (*tool)(nil)
	_ ToolMetadata = (*tool)(nil)
)
