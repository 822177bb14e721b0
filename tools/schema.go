package tools

import (
	"sort"

	"github.com/switchboard-llm/switchboard/llm"
)

// SpecFor renders a capability as a provider-neutral tool spec.
func SpecFor(cap Capability) llm.ToolSpec {
	return llm.ToolSpec{
		Name:        cap.ID,
		Description: cap.Description,
		Schema:      BuildSchema(cap.Parameters),
	}
}

// BuildSchema converts a capability's parameter declaration into a tool
// schema. A declaration that is already a full JSON-Schema object (carries
// type: "object") passes through unchanged. Otherwise it is a flat map of
// {name: {type, description, enum?, default?, required?}} and a schema is
// synthesized from it, collecting every required: true field into the
// required array.
func BuildSchema(params map[string]interface{}) llm.ToolSchema {
	if len(params) == 0 {
		return llm.ToolSchema{Type: "object", Properties: map[string]interface{}{}}
	}

	if t, ok := params["type"].(string); ok && t == "object" {
		return passthroughSchema(params)
	}
	return synthesizeSchema(params)
}

func passthroughSchema(params map[string]interface{}) llm.ToolSchema {
	schema := llm.ToolSchema{Type: "object"}
	if props, ok := params["properties"].(map[string]interface{}); ok {
		schema.Properties = props
	} else {
		schema.Properties = map[string]interface{}{}
	}
	switch req := params["required"].(type) {
	case []string:
		schema.Required = req
	case []interface{}:
		for _, v := range req {
			if s, ok := v.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	for k, v := range params {
		if k == "type" || k == "properties" || k == "required" {
			continue
		}
		if schema.ExtraFields == nil {
			schema.ExtraFields = map[string]interface{}{}
		}
		schema.ExtraFields[k] = v
	}
	return schema
}

func synthesizeSchema(params map[string]interface{}) llm.ToolSchema {
	schema := llm.ToolSchema{
		Type:       "object",
		Properties: make(map[string]interface{}, len(params)),
	}

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		field, ok := params[name].(map[string]interface{})
		if !ok {
			continue
		}
		prop := map[string]interface{}{}
		if t, ok := field["type"].(string); ok {
			prop["type"] = t
		} else {
			prop["type"] = "string"
		}
		if d, ok := field["description"].(string); ok && d != "" {
			prop["description"] = d
		}
		if enum, ok := field["enum"]; ok {
			prop["enum"] = enum
		}
		if def, ok := field["default"]; ok {
			prop["default"] = def
		}
		schema.Properties[name] = prop

		if req, ok := field["required"].(bool); ok && req {
			schema.Required = append(schema.Required, name)
		}
	}
	return schema
}
