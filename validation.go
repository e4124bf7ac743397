package toolloop

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Validatable is implemented by typed argument structs that need business validation.
// Called after coercion, schema validation and decoding.
type Validatable interface {
	Validate() error
}

// coerceArgs checks presence of required parameters, rejects undeclared ones and converts
// every supplied value to its declared primitive type. Layer 1 of argument validation.
func coerceArgs(params []Parameter, args Args) (Args, error) {
	declared := make(map[string]struct{}, len(params))
	for _, p := range params {
		declared[p.Name] = struct{}{}
	}
	var unexpected []string
	for k := range args {
		if _, ok := declared[k]; !ok {
			unexpected = append(unexpected, k)
		}
	}
	if len(unexpected) > 0 {
		slices.Sort(unexpected)
		return nil, invalidArgs("unexpected parameter %q", unexpected[0])
	}
	out := make(Args, len(args))
	for _, p := range params {
		v, ok := args[p.Name]
		if !ok || v == nil {
			if !p.Optional {
				return nil, invalidArgs("missing required parameter %q", p.Name)
			}
			continue
		}
		cv, err := coerceValue(p.Type, v)
		if err != nil {
			return nil, invalidArgs("parameter %q: %v", p.Name, err)
		}
		out[p.Name] = cv
	}
	return out, nil
}

func coerceValue(t ParamType, v any) (any, error) {
	switch t {
	case TypeString:
		switch x := v.(type) {
		case string:
			return x, nil
		case json.Number:
			return x.String(), nil
		case bool, int, int64, float64:
			return fmt.Sprint(x), nil
		}
	case TypeInteger:
		switch x := v.(type) {
		case int:
			return x, nil
		case int64:
			return int(x), nil
		case float64:
			if n, ok := wholeInt(x); ok {
				return n, nil
			}
		case json.Number:
			if n, err := x.Int64(); err == nil {
				return int(n), nil
			}
			if f, err := x.Float64(); err == nil {
				if n, ok := wholeInt(f); ok {
					return n, nil
				}
			}
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(x)); err == nil {
				return n, nil
			}
		}
	case TypeNumber:
		switch x := v.(type) {
		case float64:
			return x, nil
		case int:
			return float64(x), nil
		case int64:
			return float64(x), nil
		case json.Number:
			if f, err := x.Float64(); err == nil {
				return f, nil
			}
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
				return f, nil
			}
		}
	case TypeBoolean:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			if b, err := strconv.ParseBool(strings.TrimSpace(x)); err == nil {
				return b, nil
			}
		}
	case typeAny:
		return v, nil
	}
	return nil, fmt.Errorf("cannot convert %s to %s", describeValue(v), t)
}

// wholeInt converts f to int when it is integral and within int64 range.
func wholeInt(f float64) (int, bool) {
	if f != math.Trunc(f) || f < -(1<<63) || f >= 1<<63 {
		return 0, false
	}
	return int(f), true
}

func describeValue(v any) string {
	if s, ok := v.(string); ok {
		return strconv.Quote(s)
	}
	return fmt.Sprintf("%v (%T)", v, v)
}

// validateAgainstSchema runs schema validation (Layer 2) on coerced args.
func validateAgainstSchema(schema *jsonschema.Schema, args Args) error {
	data, err := json.Marshal(args)
	if err != nil {
		return invalidArgs("%v", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return invalidArgs("%v", err)
	}
	if err := schema.Validate(inst); err != nil {
		return invalidArgs("%s", schemaErrorDetail(err))
	}
	return nil
}

// validateCustom runs Validatable if args implements it.
func validateCustom(args any) error {
	if v, ok := args.(Validatable); ok {
		return v.Validate()
	}
	return nil
}

// String returns the string argument name, or "" when absent or of another type.
func (a Args) String(name string) string {
	s, _ := a[name].(string)
	return s
}

// Int returns the integer argument name, or 0.
func (a Args) Int(name string) int {
	switch x := a[name].(type) {
	case int:
		return x
	case float64:
		return int(x)
	}
	return 0
}

// Float returns the number argument name, or 0.
func (a Args) Float(name string) float64 {
	switch x := a[name].(type) {
	case float64:
		return x
	case int:
		return float64(x)
	}
	return 0
}

// Bool returns the boolean argument name, or false.
func (a Args) Bool(name string) bool {
	b, _ := a[name].(bool)
	return b
}
