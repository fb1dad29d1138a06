// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package validate

import (
	"fmt"
	"os"
	"regexp"
	"sort"

	"github.com/cloudwego/eino/schema"
	"gopkg.in/yaml.v3"

	"toolwire/pkg/errors"
)

// ParamType is a declared parameter type.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeArray   ParamType = "array"
	TypeObject  ParamType = "object"
)

func (t ParamType) known() bool {
	switch t {
	case "", TypeString, TypeInteger, TypeNumber, TypeBoolean, TypeArray, TypeObject:
		return true
	}
	return false
}

// ParameterSpec declares one tool parameter.
type ParameterSpec struct {
	Name          string    `yaml:"name" json:"name"`
	Type          ParamType `yaml:"type" json:"type"`
	Required      bool      `yaml:"required" json:"required,omitempty"`
	Min           *float64  `yaml:"min" json:"min,omitempty"`
	Max           *float64  `yaml:"max" json:"max,omitempty"`
	MinLength     *int      `yaml:"min_length" json:"min_length,omitempty"`
	MaxLength     *int      `yaml:"max_length" json:"max_length,omitempty"`
	Pattern       string    `yaml:"pattern" json:"pattern,omitempty"`
	AllowedValues []any     `yaml:"allowed_values" json:"allowed_values,omitempty"`
	Default       any       `yaml:"default" json:"default,omitempty"`
	Description   string    `yaml:"description" json:"description,omitempty"`
}

// ToolSchema declares a tool's parameters. Aliases map a supplied key to a
// declared parameter name for this tool only.
type ToolSchema struct {
	ToolID      string            `yaml:"name" json:"name"`
	Description string            `yaml:"description" json:"description,omitempty"`
	Parameters  []ParameterSpec   `yaml:"parameters" json:"parameters"`
	Aliases     map[string]string `yaml:"aliases" json:"aliases,omitempty"`
}

// Param returns the declared parameter called name.
func (s *ToolSchema) Param(name string) (*ParameterSpec, bool) {
	for i := range s.Parameters {
		if s.Parameters[i].Name == name {
			return &s.Parameters[i], true
		}
	}
	return nil, false
}

// Check reports declaration errors: empty or duplicate names, unknown
// types and patterns that do not compile.
func (s *ToolSchema) Check() error {
	if s.ToolID == "" {
		return errors.Wrap(errors.ErrInvalidArg, "tool schema without name")
	}
	seen := make(map[string]struct{}, len(s.Parameters))
	for _, p := range s.Parameters {
		if p.Name == "" {
			return errors.Wrapf(errors.ErrInvalidArg, "tool %s: parameter without name", s.ToolID)
		}
		if _, dup := seen[p.Name]; dup {
			return errors.Wrapf(errors.ErrInvalidArg, "tool %s: duplicate parameter %s", s.ToolID, p.Name)
		}
		seen[p.Name] = struct{}{}
		if !p.Type.known() {
			return errors.Wrapf(errors.ErrInvalidArg, "tool %s: parameter %s has unknown type %q", s.ToolID, p.Name, p.Type)
		}
		if p.Pattern != "" {
			if _, err := regexp.Compile(p.Pattern); err != nil {
				return errors.Wrapf(err, "tool %s: parameter %s", s.ToolID, p.Name)
			}
		}
	}
	for alias, target := range s.Aliases {
		if _, ok := seen[target]; !ok {
			return errors.Wrapf(errors.ErrInvalidArg, "tool %s: alias %s targets undeclared %s", s.ToolID, alias, target)
		}
	}
	return nil
}

type schemaFile struct {
	Tools []*ToolSchema `yaml:"tools"`
}

// ParseSchemas decodes a YAML document with a top-level "tools" list.
func ParseSchemas(data []byte) ([]*ToolSchema, error) {
	var f schemaFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, "parse tool schemas")
	}
	for _, s := range f.Tools {
		if err := s.Check(); err != nil {
			return nil, err
		}
	}
	return f.Tools, nil
}

// LoadSchemas reads tool schemas from a YAML file.
func LoadSchemas(path string) ([]*ToolSchema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read tool schemas %s", path)
	}
	return ParseSchemas(data)
}

// ToToolInfo converts s to the eino tool description handed to chat models.
func ToToolInfo(s *ToolSchema) *schema.ToolInfo {
	params := make(map[string]*schema.ParameterInfo, len(s.Parameters))
	for _, p := range s.Parameters {
		info := &schema.ParameterInfo{
			Type:     dataType(p.Type),
			Desc:     p.Description,
			Required: p.Required,
		}
		for _, v := range p.AllowedValues {
			info.Enum = append(info.Enum, fmt.Sprint(v))
		}
		if p.Type == TypeArray {
			info.ElemInfo = &schema.ParameterInfo{Type: schema.String}
		}
		params[p.Name] = info
	}
	return &schema.ToolInfo{
		Name:        s.ToolID,
		Desc:        s.Description,
		ParamsOneOf: schema.NewParamsOneOfByParams(params),
	}
}

// FromParams builds a schema from eino parameter descriptions. Parameters
// are ordered by name since the map carries no order.
func FromParams(toolID, desc string, params map[string]*schema.ParameterInfo) *ToolSchema {
	names := make([]string, 0, len(params))
	for n := range params {
		names = append(names, n)
	}
	sort.Strings(names)
	s := &ToolSchema{ToolID: toolID, Description: desc}
	for _, n := range names {
		info := params[n]
		if info == nil {
			continue
		}
		p := ParameterSpec{
			Name:        n,
			Type:        ParamType(info.Type),
			Required:    info.Required,
			Description: info.Desc,
		}
		for _, e := range info.Enum {
			p.AllowedValues = append(p.AllowedValues, e)
		}
		s.Parameters = append(s.Parameters, p)
	}
	return s
}

func dataType(t ParamType) schema.DataType {
	switch t {
	case TypeInteger:
		return schema.Integer
	case TypeNumber:
		return schema.Number
	case TypeBoolean:
		return schema.Boolean
	case TypeArray:
		return schema.Array
	case TypeObject:
		return schema.Object
	default:
		return schema.String
	}
}
