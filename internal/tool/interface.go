package tool

import (
	"toolwire/internal/validate"
)

// Schema 表示工具的 JSON Schema（供 LLM function-calling 使用）
type Schema struct {
	Type        string                    `json:"type,omitempty"`
	Description string                    `json:"description,omitempty"`
	Properties  map[string]SchemaProperty `json:"properties,omitempty"`
	Required    []string                  `json:"required,omitempty"`
}

// SchemaProperty 表示 Schema 中单个属性的描述
type SchemaProperty struct {
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
	Enum        []any  `json:"enum,omitempty"`
	Default     any    `json:"default,omitempty"`
	Pattern     string `json:"pattern,omitempty"`
}

// Tool 声明式工具：只描述名称与参数，执行发生在 toolwire 之外
type Tool interface {
	Name() string
	Description() string
	Declaration() *validate.ToolSchema
}

// Declared adapts a ToolSchema to Tool.
type Declared struct {
	S *validate.ToolSchema
}

// Declare wraps s.
func Declare(s *validate.ToolSchema) Declared { return Declared{S: s} }

// Name 实现 tool.Tool
func (d Declared) Name() string { return d.S.ToolID }

// Description 实现 tool.Tool
func (d Declared) Description() string { return d.S.Description }

// Declaration 实现 tool.Tool
func (d Declared) Declaration() *validate.ToolSchema { return d.S }

// JSONSchema renders a declaration as the JSON Schema object sent to models.
func JSONSchema(s *validate.ToolSchema) Schema {
	out := Schema{Type: "object", Description: s.Description}
	if len(s.Parameters) > 0 {
		out.Properties = make(map[string]SchemaProperty, len(s.Parameters))
	}
	for _, p := range s.Parameters {
		typ := string(p.Type)
		if typ == "" {
			typ = string(validate.TypeString)
		}
		out.Properties[p.Name] = SchemaProperty{
			Type:        typ,
			Description: p.Description,
			Enum:        p.AllowedValues,
			Default:     p.Default,
			Pattern:     p.Pattern,
		}
		if p.Required {
			out.Required = append(out.Required, p.Name)
		}
	}
	return out
}
