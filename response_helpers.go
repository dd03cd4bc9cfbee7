package main

import (
	"encoding/json"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
)

// toolDescriptorFromMCP builds a ToolDescriptor from an mcp-go Tool the
// way the upstream proxy's toolDescriptorFromServer builds its own
// wire-format descriptor, generalized to carry our own Parameter list
// instead of a raw JSON schema blob.
func toolDescriptorFromMCP(tool mcp.Tool) ToolDescriptor {
	schema := schemaAsMap(tool)
	return ToolDescriptor{
		Name:        tool.Name,
		Description: tool.Description,
		Parameters:  paramsFromSchema(schema),
		Annotations: normalizeToolAnnotations(tool),
	}
}

func schemaAsMap(tool mcp.Tool) map[string]any {
	if len(tool.RawInputSchema) > 0 {
		var m map[string]any
		if err := json.Unmarshal(tool.RawInputSchema, &m); err == nil {
			return m
		}
	}
	props := make(map[string]any, len(tool.InputSchema.Properties))
	for k, v := range tool.InputSchema.Properties {
		props[k] = v
	}
	required := make([]any, 0, len(tool.InputSchema.Required))
	for _, r := range tool.InputSchema.Required {
		required = append(required, r)
	}
	return map[string]any{
		"type":       tool.InputSchema.Type,
		"properties": props,
		"required":   required,
	}
}

// paramsFromSchema derives the Parameter list spec.md §3 attaches to
// every ToolDescriptor, reading an input JSON schema's top-level
// properties/required the way a JSON-Schema-aware client would.
func paramsFromSchema(schema map[string]any) []Parameter {
	if schema == nil {
		return nil
	}
	props, _ := schema["properties"].(map[string]any)
	if len(props) == 0 {
		return nil
	}
	required := make(map[string]struct{}, len(props))
	if req, ok := schema["required"].([]any); ok {
		for _, r := range req {
			if name, ok := r.(string); ok {
				required[name] = struct{}{}
			}
		}
	}

	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	params := make([]Parameter, 0, len(names))
	for _, name := range names {
		def, _ := props[name].(map[string]any)
		_, isRequired := required[name]
		params = append(params, Parameter{
			Name:        name,
			Type:        schemaType(def),
			Description: schemaDescription(def),
			Required:    isRequired,
		})
	}
	return params
}

func schemaType(def map[string]any) string {
	switch t := def["type"].(type) {
	case string:
		return t
	case []any:
		if len(t) > 0 {
			if s, ok := t[0].(string); ok {
				return s
			}
		}
	}
	return "string"
}

func schemaDescription(def map[string]any) string {
	if s, ok := def["description"].(string); ok {
		return s
	}
	return ""
}
