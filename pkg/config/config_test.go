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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_FromFile(t *testing.T) {
	dir := t.TempDir()
	yaml := `
api:
  port: 9000
  host: "127.0.0.1"
log:
  level: "debug"
protocol:
  history:
    max_context_tokens: 1000
    keep_recent: 4
  extract:
    families:
      qwen:
        prefixes: ["qwen", "Qwen"]
        strategies: ["tagged", "bare"]
  validation:
    aliases:
      read_file:
        filename: file_path
`
	path := filepath.Join(dir, "test.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.API.Port)
	assert.Equal(t, "127.0.0.1", cfg.API.Host)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 4, cfg.Protocol.History.KeepRecent)
	assert.Equal(t, 800, cfg.Protocol.History.CompressThreshold())
	assert.Equal(t, 20000, cfg.Protocol.History.MaxToolResultChars, "default should survive partial section")
	require.Contains(t, cfg.Protocol.Extract.Families, "qwen")
	assert.Equal(t, []string{"tagged", "bare"}, cfg.Protocol.Extract.Families["qwen"].Strategies)
	assert.Equal(t, "file_path", cfg.Protocol.Validation.Aliases["read_file"]["filename"])
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 10, cfg.Protocol.History.KeepRecent)
	assert.Equal(t, 32000, cfg.Protocol.History.MaxContextTokens)
	assert.Equal(t, 25600, cfg.Protocol.History.CompressThreshold())
	assert.Equal(t, "memory", cfg.Storage.History.Type)
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("TOOLWIRE_TEST_REDIS_PW", "s3cret")
	assert.Equal(t, "s3cret", expandEnv("${TOOLWIRE_TEST_REDIS_PW}"))
	assert.Equal(t, "plain", expandEnv("plain"))
	assert.Equal(t, "${TOOLWIRE_UNSET_VAR_X}", expandEnv("${TOOLWIRE_UNSET_VAR_X}"))
}
