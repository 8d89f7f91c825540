package compat

import (
	"encoding/json"
	"fmt"

	"mercator-hq/janus/pkg/config"
	"mercator-hq/janus/pkg/providers"
)

// Mapper applies a per-provider field mapping table to requests on the way
// out and responses on the way back. Tables operate on generic JSON
// documents so dotted source and target paths can address nested fields.
type Mapper struct {
	table *config.MappingTable
}

// NewMapper builds a mapper for one provider's mapping table. A nil table
// behaves as pass-through.
func NewMapper(table *config.MappingTable) *Mapper {
	return &Mapper{table: table}
}

// PassThrough reports whether the mapper performs no structural changes.
func (m *Mapper) PassThrough() bool {
	return m.table == nil || m.table.PassThrough
}

// MapRequest applies the request mappings to a normalized request.
// Pass-through tables return the input unchanged.
func (m *Mapper) MapRequest(req *providers.CompletionRequest) (*providers.CompletionRequest, error) {
	if m.PassThrough() || len(m.table.Request) == 0 {
		return req, nil
	}
	doc, err := toDocument(req)
	if err != nil {
		return nil, err
	}
	mapped, err := applyFieldMappings(doc, m.table.Request, m.table.PreserveUnknownFields)
	if err != nil {
		return nil, err
	}
	out := &providers.CompletionRequest{}
	if err := fromDocument(mapped, out); err != nil {
		return nil, err
	}
	return out, nil
}

// MapResponse applies the response mappings to a normalized response.
func (m *Mapper) MapResponse(resp *providers.CompletionResponse) (*providers.CompletionResponse, error) {
	if m.PassThrough() || len(m.table.Response) == 0 {
		return resp, nil
	}
	doc, err := toDocument(resp)
	if err != nil {
		return nil, err
	}
	mapped, err := applyFieldMappings(doc, m.table.Response, m.table.PreserveUnknownFields)
	if err != nil {
		return nil, err
	}
	out := &providers.CompletionResponse{}
	if err := fromDocument(mapped, out); err != nil {
		return nil, err
	}
	return out, nil
}

// MapDocument applies the request mappings to a raw JSON document. Generic
// providers that speak a bespoke wire shape use this form directly so mapped
// fields at arbitrary paths survive without a normalized struct in between.
func (m *Mapper) MapDocument(doc map[string]interface{}) (map[string]interface{}, error) {
	if m.PassThrough() || len(m.table.Request) == 0 {
		return doc, nil
	}
	return applyFieldMappings(doc, m.table.Request, m.table.PreserveUnknownFields)
}

// applyFieldMappings runs the mapping rules over one document and returns
// the mapped document. With preserveUnknown the output starts as a copy of
// the input with consumed source fields removed; otherwise only mapped
// targets appear.
func applyFieldMappings(doc map[string]interface{}, mappings []config.FieldMapping, preserveUnknown bool) (map[string]interface{}, error) {
	var out map[string]interface{}
	if preserveUnknown {
		out = deepCopyMap(doc)
		for _, fm := range mappings {
			if fm.Source != "" && fm.Source != fm.Target {
				deletePath(out, fm.Source)
			}
		}
	} else {
		out = make(map[string]interface{})
	}

	for _, fm := range mappings {
		value, found := getPath(doc, fm.Source)
		if !found {
			if fm.Required {
				return nil, &providers.ValidationError{
					Field:   fm.Source,
					Message: fmt.Sprintf("required field %q missing", fm.Source),
				}
			}
			if fm.Default == nil {
				continue
			}
			value = fm.Default
		}

		if fm.Transform != nil {
			transformed, err := applyTransform(fm.Transform, value)
			if err != nil {
				return nil, &providers.ValidationError{
					Field:   fm.Source,
					Message: fmt.Sprintf("transform %q failed: %v", fm.Transform.Name, err),
				}
			}
			value = transformed
		}

		target := fm.Target
		if target == "" {
			target = fm.Source
		}
		setPath(out, target, value)
	}
	return out, nil
}

// toDocument converts a typed value to a generic JSON document.
func toDocument(v interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding for mapping: %w", err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decoding for mapping: %w", err)
	}
	return doc, nil
}

// fromDocument converts a generic JSON document back to a typed value.
func fromDocument(doc map[string]interface{}, v interface{}) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding mapped document: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decoding mapped document: %w", err)
	}
	return nil
}

func deepCopyMap(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v interface{}) interface{} {
	switch tv := v.(type) {
	case map[string]interface{}:
		return deepCopyMap(tv)
	case []interface{}:
		cp := make([]interface{}, len(tv))
		for i, item := range tv {
			cp[i] = deepCopyValue(item)
		}
		return cp
	default:
		return v
	}
}
