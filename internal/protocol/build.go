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

package protocol

import (
	"toolwire/internal/extract"
	"toolwire/internal/history"
	"toolwire/internal/tool/builtin"
	"toolwire/internal/tool/registry"
	"toolwire/internal/validate"
	"toolwire/pkg/config"
)

// LoadRegistry returns a registry of the schemas in path, or of the
// builtin tools when path is empty.
func LoadRegistry(path string) (*registry.Registry, error) {
	if path == "" {
		reg := registry.New()
		builtin.RegisterBuiltin(reg)
		return reg, nil
	}
	schemas, err := validate.LoadSchemas(path)
	if err != nil {
		return nil, err
	}
	return registry.FromSchemas(schemas), nil
}

// FromConfig builds a Pipeline with every collaborator configured from cfg.
func FromConfig(cfg config.ProtocolConfig, opts ...Option) (*Pipeline, error) {
	families, err := extract.FamiliesFromConfig(cfg.Extract)
	if err != nil {
		return nil, err
	}
	reg, err := LoadRegistry(cfg.ToolsFile)
	if err != nil {
		return nil, err
	}
	return New(
		extract.New(extract.WithFamilies(families), extract.WithTagNames(cfg.Extract.TagNames...)),
		validate.New(validate.WithAliases(cfg.Validation.Aliases)),
		reg,
		history.NewManager(history.WithConfig(cfg.History)),
		opts...,
	), nil
}
