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
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config is the application configuration.
type Config struct {
	API        APIConfig        `mapstructure:"api"`
	Protocol   ProtocolConfig   `mapstructure:"protocol"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Log        LogConfig        `mapstructure:"log"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// ProtocolConfig groups the tool-call protocol layer settings.
type ProtocolConfig struct {
	History    HistoryConfig    `mapstructure:"history"`
	Extract    ExtractConfig    `mapstructure:"extract"`
	Validation ValidationConfig `mapstructure:"validation"`
	ToolsFile  string           `mapstructure:"tools_file"` // YAML tool schemas, optional
}

// HistoryConfig token budget and retention for the conversation history.
type HistoryConfig struct {
	MaxContextTokens   int    `mapstructure:"max_context_tokens"`
	CompressAtTokens   int    `mapstructure:"compress_at_tokens"` // <=0: 80% of max_context_tokens
	KeepRecent         int    `mapstructure:"keep_recent"`
	MaxToolResultChars int    `mapstructure:"max_tool_result_chars"`
	SystemPrompt       string `mapstructure:"system_prompt"`
}

// ExtractConfig model-family strategy table overrides.
type ExtractConfig struct {
	DefaultFamily string                  `mapstructure:"default_family"`
	TagNames      []string                `mapstructure:"tag_names"`
	Families      map[string]FamilyConfig `mapstructure:"families"`
}

// FamilyConfig one entry of the model-family strategy table.
type FamilyConfig struct {
	Prefixes   []string `mapstructure:"prefixes"`
	Strategies []string `mapstructure:"strategies"` // tagged | fenced | wrapper | bare | pipe | invoke
	Cleanup    []string `mapstructure:"cleanup"`    // collapse_separators | drop_stray_braces | strip_thinking
}

// ValidationConfig per-tool alias tables: tool -> alias -> declared parameter.
type ValidationConfig struct {
	Aliases map[string]map[string]string `mapstructure:"aliases"`
}

// APIConfig diagnostic HTTP API.
type APIConfig struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
}

// StorageConfig storage backends.
type StorageConfig struct {
	History HistoryStoreConfig `mapstructure:"history"`
}

// HistoryStoreConfig where conversation snapshots are persisted.
type HistoryStoreConfig struct {
	Type     string `mapstructure:"type"` // memory | redis | postgres
	Addr     string `mapstructure:"addr"`
	DB       int    `mapstructure:"db"`
	Password string `mapstructure:"password"`
	DSN      string `mapstructure:"dsn"`
	TTL      string `mapstructure:"ttl"` // e.g. "24h"; empty means no expiry
}

// LogConfig logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// MonitoringConfig monitoring.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// TracingConfig OpenTelemetry tracing.
type TracingConfig struct {
	Enable         bool   `mapstructure:"enable"`
	ServiceName    string `mapstructure:"service_name"`
	ExportEndpoint string `mapstructure:"export_endpoint"`
	Insecure       bool   `mapstructure:"insecure"`
}

// PrometheusConfig Prometheus.
type PrometheusConfig struct {
	Enable bool `mapstructure:"enable"`
	Port   int  `mapstructure:"port"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.host", "127.0.0.1")
	v.SetDefault("api.port", 8088)
	v.SetDefault("protocol.history.max_context_tokens", 32000)
	v.SetDefault("protocol.history.keep_recent", 10)
	v.SetDefault("protocol.history.max_tool_result_chars", 20000)
	v.SetDefault("protocol.extract.default_family", "default")
	v.SetDefault("storage.history.type", "memory")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("monitoring.tracing.service_name", "toolwire")
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// defaults only; decoding plain scalars cannot fail
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// LoadConfig reads the configuration file at configPath; environment variables
// override file values (TOOLWIRE_PROTOCOL_HISTORY_KEEP_RECENT etc.).
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("toolwire")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config file: %w", err)
	}
	replaceEnvVars(&cfg)
	return &cfg, nil
}

// replaceEnvVars expands ${VAR} references in secret-bearing fields.
func replaceEnvVars(cfg *Config) {
	cfg.Storage.History.Password = expandEnv(cfg.Storage.History.Password)
	cfg.Storage.History.DSN = expandEnv(cfg.Storage.History.DSN)
	cfg.Storage.History.Addr = expandEnv(cfg.Storage.History.Addr)
}

func expandEnv(s string) string {
	if !strings.HasPrefix(s, "$") {
		return s
	}
	envVar := strings.TrimPrefix(strings.TrimSuffix(s, "}"), "${")
	envVar = strings.TrimPrefix(envVar, "$")
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	return s
}

// CompressThreshold returns the token total at which history compression triggers.
func (h HistoryConfig) CompressThreshold() int {
	if h.CompressAtTokens > 0 {
		return h.CompressAtTokens
	}
	return h.MaxContextTokens * 4 / 5
}
