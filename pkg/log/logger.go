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

package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog for internal use.
type Logger struct {
	*slog.Logger
	closer io.Closer
}

// Config is the logging configuration (mirrors config.LogConfig).
type Config struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// ParseLevel maps a config level string to slog.Level; unknown values map to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds a Logger from cfg; a nil cfg yields JSON at info level on stdout.
func NewLogger(cfg *Config) (*Logger, error) {
	level := slog.LevelInfo
	var out io.Writer = os.Stdout
	var closer io.Closer
	if cfg != nil {
		level = ParseLevel(cfg.Level)
		if cfg.File != "" {
			f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
			if err != nil {
				return nil, fmt.Errorf("open log file: %w", err)
			}
			out = f
			closer = f
		}
	}
	return &Logger{Logger: slog.New(newHandler(cfg, out, level)), closer: closer}, nil
}

// NewWithWriter builds a Logger writing to w; used by tests and the CLI.
func NewWithWriter(cfg *Config, w io.Writer) *Logger {
	level := slog.LevelInfo
	if cfg != nil {
		level = ParseLevel(cfg.Level)
	}
	return &Logger{Logger: slog.New(newHandler(cfg, w, level))}
}

func newHandler(cfg *Config, w io.Writer, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if cfg != nil && cfg.Format == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l == nil || l.closer == nil {
		return nil
	}
	return l.closer.Close()
}
