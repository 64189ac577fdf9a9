// Package jsonschema implements the narrow subset of JSON Schema that Mind
// responses are validated against: type, properties, required,
// additionalProperties, items, enum, minimum, maximum, anyOf. It is a
// best-effort validator, not a general-purpose schema engine — MI's own
// schemas never use more than this subset (spec.md §4.2).
package jsonschema

import (
	"fmt"
	"sort"
)

// Validate checks obj against schema and returns a list of human-readable
// error strings (empty when obj satisfies schema). Errors are ordered by
// discovery and are suitable to embed verbatim in a Mind repair-turn prompt.
func Validate(obj any, schema map[string]any) []string {
	return validateAt(obj, schema, "$")
}

func validateAt(obj any, schema map[string]any, path string) []string {
	if schema == nil {
		return []string{path + ": schema is not an object"}
	}

	if rawAnyOf, ok := schema["anyOf"]; ok {
		subs, ok := rawAnyOf.([]any)
		if !ok || len(subs) == 0 {
			return []string{path + ": anyOf must be a non-empty array"}
		}
		var subErrs [][]string
		for i, rawSub := range subs {
			sub, ok := rawSub.(map[string]any)
			if !ok {
				subErrs = append(subErrs, []string{fmt.Sprintf("%s: anyOf[%d] is not an object schema", path, i)})
				continue
			}
			errs := validateAt(obj, sub, path)
			if len(errs) == 0 {
				return nil
			}
			subErrs = append(subErrs, errs)
		}
		sort.Slice(subErrs, func(i, j int) bool { return len(subErrs[i]) < len(subErrs[j]) })
		if len(subErrs) == 0 {
			return []string{path + ": anyOf did not match"}
		}
		return subErrs[0]
	}

	if rawEnum, ok := schema["enum"]; ok {
		if enum, ok := rawEnum.([]any); ok {
			if !containsAny(enum, obj) {
				return []string{fmt.Sprintf("%s: expected one of %v, got %s=%v", path, enum, typeName(obj), obj)}
			}
		}
	}

	expectedType, _ := schema["type"].(string)
	switch expectedType {
	case "object":
		m, ok := obj.(map[string]any)
		if !ok {
			return []string{fmt.Sprintf("%s: expected object, got %s", path, typeName(obj))}
		}
		var errs []string
		if required, ok := schema["required"].([]any); ok {
			for _, rawKey := range required {
				key, ok := rawKey.(string)
				if !ok {
					continue
				}
				if _, present := m[key]; !present {
					errs = append(errs, fmt.Sprintf("%s: missing required key %q", path, key))
				}
			}
		}
		props, _ := schema["properties"].(map[string]any)
		additional, hasAdditional := schema["additionalProperties"].(bool)
		if hasAdditional && !additional && props != nil {
			allowed := make(map[string]struct{}, len(props))
			for k := range props {
				allowed[k] = struct{}{}
			}
			for k := range m {
				if _, ok := allowed[k]; !ok {
					errs = append(errs, fmt.Sprintf("%s: unexpected key %q", path, k))
				}
			}
		}
		if props != nil {
			for k, rawSub := range props {
				v, present := m[k]
				if !present {
					continue
				}
				sub, ok := rawSub.(map[string]any)
				if !ok {
					errs = append(errs, fmt.Sprintf("%s.%s: invalid subschema", path, k))
					continue
				}
				errs = append(errs, validateAt(v, sub, path+"."+k)...)
			}
		}
		return errs

	case "array":
		arr, ok := obj.([]any)
		if !ok {
			return []string{fmt.Sprintf("%s: expected array, got %s", path, typeName(obj))}
		}
		var errs []string
		if items, ok := schema["items"].(map[string]any); ok {
			for i, item := range arr {
				errs = append(errs, validateAt(item, items, fmt.Sprintf("%s[%d]", path, i))...)
			}
		}
		return errs

	case "string":
		if _, ok := obj.(string); !ok {
			return []string{fmt.Sprintf("%s: expected string, got %s", path, typeName(obj))}
		}
		return nil

	case "number":
		n, ok := asNumber(obj)
		if !ok {
			return []string{fmt.Sprintf("%s: expected number, got %s", path, typeName(obj))}
		}
		var errs []string
		if mn, ok := asNumber(schema["minimum"]); ok && n < mn {
			errs = append(errs, fmt.Sprintf("%s: expected >= %v, got %v", path, mn, n))
		}
		if mx, ok := asNumber(schema["maximum"]); ok && n > mx {
			errs = append(errs, fmt.Sprintf("%s: expected <= %v, got %v", path, mx, n))
		}
		return errs

	case "boolean":
		if _, ok := obj.(bool); !ok {
			return []string{fmt.Sprintf("%s: expected boolean, got %s", path, typeName(obj))}
		}
		return nil

	case "null":
		if obj != nil {
			return []string{fmt.Sprintf("%s: expected null, got %s", path, typeName(obj))}
		}
		return nil
	}

	// Schema has no (or an unrecognized) type keyword: MI only ever emits
	// typed schemas, so accept rather than guess.
	return nil
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64, int, int64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func containsAny(list []any, v any) bool {
	for _, item := range list {
		if fmt.Sprintf("%v", item) == fmt.Sprintf("%v", v) {
			return true
		}
	}
	return false
}
