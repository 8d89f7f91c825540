package compat

import (
	"fmt"
	"regexp"
	"strings"

	"mercator-hq/janus/pkg/config"
)

// transformFunc applies one registered transform to a value.
type transformFunc func(spec *config.TransformSpec, value interface{}) (interface{}, error)

// transformRegistry is the closed set of named transforms. Unknown names are
// rejected at configuration load time, so lookups here cannot miss at
// request time. Populated in init because applyArrayTransform recurses
// through applyTransform back into the registry.
var transformRegistry map[string]transformFunc

func init() {
	transformRegistry = map[string]transformFunc{
		"mapping":          applyMapping,
		"string_transform": applyStringTransform,
		"array_transform":  applyArrayTransform,
	}
}

// applyTransform dispatches to the registered transform.
func applyTransform(spec *config.TransformSpec, value interface{}) (interface{}, error) {
	fn, ok := transformRegistry[spec.Name]
	if !ok {
		return nil, fmt.Errorf("unknown transform %q", spec.Name)
	}
	return fn(spec, value)
}

// applyMapping looks the value up in the declared key→value table.
// Misses fall back to the declared default, or pass through when none is set.
func applyMapping(spec *config.TransformSpec, value interface{}) (interface{}, error) {
	key := fmt.Sprintf("%v", value)
	if mapped, ok := spec.Table[key]; ok {
		return mapped, nil
	}
	if spec.Default != "" {
		return spec.Default, nil
	}
	return value, nil
}

// applyStringTransform applies the declared string operation.
func applyStringTransform(spec *config.TransformSpec, value interface{}) (interface{}, error) {
	s, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("string_transform requires a string value, got %T", value)
	}

	switch spec.Op {
	case "prefix":
		return spec.Value + s, nil
	case "suffix":
		return s + spec.Value, nil
	case "upper":
		return strings.ToUpper(s), nil
	case "lower":
		return strings.ToLower(s), nil
	case "replace":
		re, err := regexp.Compile(spec.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid replace pattern: %w", err)
		}
		return re.ReplaceAllString(s, spec.Replacement), nil
	default:
		return nil, fmt.Errorf("unknown string_transform op %q", spec.Op)
	}
}

// applyArrayTransform applies a per-field sub-mapping to each array element.
func applyArrayTransform(spec *config.TransformSpec, value interface{}) (interface{}, error) {
	items, ok := value.([]interface{})
	if !ok {
		return nil, fmt.Errorf("array_transform requires an array value, got %T", value)
	}

	out := make([]interface{}, len(items))
	for i, item := range items {
		element, ok := item.(map[string]interface{})
		if !ok {
			// Scalar elements pass through untouched.
			out[i] = item
			continue
		}
		mapped, err := applyFieldMappings(element, spec.Fields, true)
		if err != nil {
			return nil, fmt.Errorf("array element %d: %w", i, err)
		}
		out[i] = mapped
	}
	return out, nil
}
