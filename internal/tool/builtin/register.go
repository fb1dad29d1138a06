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

package builtin

import (
	"toolwire/internal/tool"
	"toolwire/internal/tool/registry"
	"toolwire/internal/validate"
)

func f64(v float64) *float64 { return &v }

// Schemas 内置工具声明：常见的文件与命令类工具
func Schemas() []*validate.ToolSchema {
	return []*validate.ToolSchema{
		{
			ToolID:      "read_file",
			Description: "Read a text file, optionally a line window of it.",
			Parameters: []validate.ParameterSpec{
				{Name: "file_path", Type: validate.TypeString, Required: true, Description: "Path relative to the workspace"},
				{Name: "offset", Type: validate.TypeInteger, Min: f64(0), Description: "First line, 0-based"},
				{Name: "limit", Type: validate.TypeInteger, Min: f64(1), Description: "Maximum number of lines"},
			},
		},
		{
			ToolID:      "write_file",
			Description: "Create or overwrite a file.",
			Parameters: []validate.ParameterSpec{
				{Name: "file_path", Type: validate.TypeString, Required: true},
				{Name: "content", Type: validate.TypeString, Required: true},
			},
		},
		{
			ToolID:      "edit_file",
			Description: "Replace text in a file.",
			Parameters: []validate.ParameterSpec{
				{Name: "file_path", Type: validate.TypeString, Required: true},
				{Name: "old_string", Type: validate.TypeString, Required: true},
				{Name: "new_string", Type: validate.TypeString, Required: true},
				{Name: "replace_all", Type: validate.TypeBoolean, Default: false},
			},
		},
		{
			ToolID:      "list_dir",
			Description: "List directory entries.",
			Parameters: []validate.ParameterSpec{
				{Name: "path", Type: validate.TypeString, Default: "."},
				{Name: "recursive", Type: validate.TypeBoolean},
			},
		},
		{
			ToolID:      "grep",
			Description: "Search file contents with a regular expression.",
			Parameters: []validate.ParameterSpec{
				{Name: "pattern", Type: validate.TypeString, Required: true},
				{Name: "path", Type: validate.TypeString},
				{Name: "include", Type: validate.TypeArray},
				{Name: "max_results", Type: validate.TypeInteger, Min: f64(1), Max: f64(1000)},
			},
		},
		{
			ToolID:      "shell",
			Description: "Run a shell command in the workspace.",
			Parameters: []validate.ParameterSpec{
				{Name: "command", Type: validate.TypeString, Required: true},
				{Name: "timeout_seconds", Type: validate.TypeNumber, Min: f64(1), Max: f64(600)},
			},
		},
	}
}

// RegisterBuiltin 注册内置工具声明
func RegisterBuiltin(reg *registry.Registry) {
	if reg == nil {
		return
	}
	for _, s := range Schemas() {
		reg.Register(tool.Declare(s))
	}
}

// RegisterBuiltinWithTools 仅注册给定工具（用于测试或最小装配）
func RegisterBuiltinWithTools(reg *registry.Registry, tools ...tool.Tool) {
	if reg == nil {
		return
	}
	for _, t := range tools {
		reg.Register(t)
	}
}
