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

package registry

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/cloudwego/eino/schema"

	"toolwire/internal/tool"
	"toolwire/internal/validate"
)

// Registry 工具注册表：注册、发现、供 LLM 使用的 Schema 列表；只读查询供校验使用
type Registry struct {
	mu    sync.RWMutex
	tools map[string]tool.Tool
}

// New 创建新的 ToolRegistry
func New() *Registry {
	return &Registry{
		tools: make(map[string]tool.Tool),
	}
}

// FromSchemas creates a registry holding one declared tool per schema.
func FromSchemas(schemas []*validate.ToolSchema) *Registry {
	r := New()
	for _, s := range schemas {
		r.Register(tool.Declare(s))
	}
	return r
}

// Register 注册工具
func (r *Registry) Register(t tool.Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get 按名称获取工具
func (r *Registry) Get(name string) (tool.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Schema returns the declaration of toolID.
func (r *Registry) Schema(toolID string) (*validate.ToolSchema, bool) {
	t, ok := r.Get(toolID)
	if !ok {
		return nil, false
	}
	return t.Declaration(), true
}

// List 返回所有已注册工具，按名称排序
func (r *Registry) List() []tool.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]tool.Tool, 0, len(r.tools))
	for _, t := range r.tools {
		list = append(list, t)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name() < list[j].Name() })
	return list
}

// ToolInfos returns eino tool descriptions for binding to a chat model.
func (r *Registry) ToolInfos() []*schema.ToolInfo {
	list := r.List()
	out := make([]*schema.ToolInfo, 0, len(list))
	for _, t := range list {
		out = append(out, validate.ToToolInfo(t.Declaration()))
	}
	return out
}

// ToolSchemaForLLM 单个工具供 LLM 使用的描述（name, description, parameters）
type ToolSchemaForLLM struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  tool.Schema `json:"parameters"`
}

// SchemasForLLM 返回所有工具的 Schema 列表（JSON 序列化供 Planner/LLM 使用）
func (r *Registry) SchemasForLLM() ([]byte, error) {
	list := r.List()
	out := make([]ToolSchemaForLLM, 0, len(list))
	for _, t := range list {
		out = append(out, ToolSchemaForLLM{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  tool.JSONSchema(t.Declaration()),
		})
	}
	return json.Marshal(out)
}
