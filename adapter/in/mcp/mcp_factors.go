package mcp

import (
	"fmt"

	"github.com/goccy/go-json"

	"outlook_mcp_server/core/domain"
	"outlook_mcp_server/pkg/apperr"
)

// MergeFactors builds the service call site from caller arguments and the
// tool's declared factors:
//
//  1. internal factors ignore the caller and bind their defaults;
//  2. signature_defaults factors prefer the caller's value, falling back
//     to the defaults;
//  3. every factor binds under its targetParam (which may differ from the
//     factor key); remaining caller args are copied under their own names.
func MergeFactors(tool *Tool, args map[string]any) (map[string]any, error) {
	merged := make(map[string]any, len(args)+len(tool.Factors))
	consumed := make(map[string]bool, len(tool.Factors))

	for key, f := range tool.Factors {
		var caller any
		if f.Source == sourceSignatureDefaults {
			caller = args[key]
		}
		value, err := factorValue(&f, caller)
		if err != nil {
			return nil, apperr.ValidationFailed(fmt.Sprintf("factor %q: %v", key, err))
		}
		merged[f.TargetParam] = value
		consumed[key] = true
	}

	for name, value := range args {
		if consumed[name] {
			continue
		}
		if _, taken := merged[name]; taken {
			continue
		}
		merged[name] = value
	}
	return merged, nil
}

// factorValue resolves one factor to its bound value. Composite type names
// instantiate structured parameter objects; everything else binds the raw
// primitive.
func factorValue(f *Factor, caller any) (any, error) {
	if isCompositeType(f.Type) {
		raw := caller
		if raw == nil {
			raw = f.parameterDefaults()
		}
		return instantiateComposite(f.Type, raw)
	}
	if caller != nil {
		return caller, nil
	}
	return f.Default, nil
}

// parameterDefaults folds the factor's parameters into a plain map.
func (f *Factor) parameterDefaults() map[string]any {
	defaults := make(map[string]any, len(f.Parameters))
	for _, p := range f.Parameters {
		if p.Default != nil {
			defaults[p.Name] = p.Default
		}
	}
	return defaults
}

func isCompositeType(name string) bool {
	switch name {
	case "FilterParams", "ExcludeParams", "SelectParams":
		return true
	}
	return false
}

// instantiateComposite round-trips a decoded map through JSON into the
// typed parameter object. Already-typed values pass through.
func instantiateComposite(typeName string, raw any) (any, error) {
	switch v := raw.(type) {
	case *domain.FilterParams, *domain.ExcludeParams, *domain.SelectParams:
		return v, nil
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode %s value: %w", typeName, err)
	}
	switch typeName {
	case "FilterParams":
		v := &domain.FilterParams{}
		if err := json.Unmarshal(data, v); err != nil {
			return nil, fmt.Errorf("decode FilterParams: %w", err)
		}
		return v, nil
	case "ExcludeParams":
		v := &domain.ExcludeParams{}
		if err := json.Unmarshal(data, v); err != nil {
			return nil, fmt.Errorf("decode ExcludeParams: %w", err)
		}
		return v, nil
	case "SelectParams":
		v := &domain.SelectParams{}
		if err := json.Unmarshal(data, v); err != nil {
			return nil, fmt.Errorf("decode SelectParams: %w", err)
		}
		return v, nil
	}
	return nil, fmt.Errorf("unknown composite type %q", typeName)
}

// Typed accessors over the merged argument map. JSON and YAML decoding
// produce float64/int for numbers, so the numeric accessor accepts both.

func argString(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func argBool(args map[string]any, key string) bool {
	b, _ := args[key].(bool)
	return b
}

func argInt(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case uint64:
		return int(v)
	}
	return 0
}

func argStrings(args map[string]any, key string) ([]string, error) {
	list, err := domain.StringListFromAny(args[key])
	if err != nil {
		return nil, apperr.ValidationFailed(fmt.Sprintf("%s: %v", key, err))
	}
	return list, nil
}

func argFilter(args map[string]any, key string) (*domain.FilterParams, error) {
	return coerceComposite[domain.FilterParams](args, key, "FilterParams")
}

func argExclude(args map[string]any, key string) (*domain.ExcludeParams, error) {
	return coerceComposite[domain.ExcludeParams](args, key, "ExcludeParams")
}

func argSelect(args map[string]any, key string) (*domain.SelectParams, error) {
	return coerceComposite[domain.SelectParams](args, key, "SelectParams")
}

func coerceComposite[T any](args map[string]any, key, typeName string) (*T, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return nil, nil
	}
	if typed, ok := raw.(*T); ok {
		return typed, nil
	}
	value, err := instantiateComposite(typeName, raw)
	if err != nil {
		return nil, apperr.ValidationFailed(fmt.Sprintf("%s: %v", key, err))
	}
	typed, ok := value.(*T)
	if !ok {
		return nil, apperr.ValidationFailed(fmt.Sprintf("%s: unexpected type", key))
	}
	return typed, nil
}
