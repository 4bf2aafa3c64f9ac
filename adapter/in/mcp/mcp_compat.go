package mcp

// Some LLM runtimes reject boolean JSON Schema types. The compatibility
// transform rewrites every boolean property in the externally visible tool
// list to a string enum ["enabled", "disabled"]; dispatch normalizes the
// enum strings back to booleans, while callers that send real booleans are
// untouched.

const (
	enumEnabled  = "enabled"
	enumDisabled = "disabled"
)

// ApplyBoolEnumCompat returns a deep copy of schema with boolean properties
// rewritten to enabled/disabled string enums. The input is never mutated.
func ApplyBoolEnumCompat(schema map[string]any) map[string]any {
	out := deepCopyMap(schema)
	rewriteBoolProps(out)
	return out
}

func rewriteBoolProps(schema map[string]any) {
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		return
	}
	for _, raw := range props {
		prop, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if prop["type"] == "boolean" {
			prop["type"] = "string"
			prop["enum"] = []any{enumEnabled, enumDisabled}
			if d, ok := prop["default"].(bool); ok {
				if d {
					prop["default"] = enumEnabled
				} else {
					prop["default"] = enumDisabled
				}
			}
			continue
		}
		// Recurse into nested object properties.
		rewriteBoolProps(prop)
	}
}

// NormalizeBoolArgs maps "enabled"/"disabled" strings back to booleans for
// every argument the schema declares as boolean. Raw booleans pass through.
func NormalizeBoolArgs(schema, args map[string]any) map[string]any {
	if len(args) == 0 {
		return args
	}
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		return args
	}
	out := make(map[string]any, len(args))
	for name, value := range args {
		prop, ok := props[name].(map[string]any)
		if !ok {
			out[name] = value
			continue
		}
		if prop["type"] == "boolean" {
			switch value {
			case enumEnabled:
				out[name] = true
				continue
			case enumDisabled:
				out[name] = false
				continue
			}
		}
		if nested, ok := value.(map[string]any); ok && prop["type"] == "object" {
			out[name] = NormalizeBoolArgs(prop, nested)
			continue
		}
		out[name] = value
	}
	return out
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}
