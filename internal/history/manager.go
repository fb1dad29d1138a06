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

package history

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"

	"toolwire/internal/observe"
	"toolwire/internal/toolcall"
	"toolwire/pkg/config"
	"toolwire/pkg/errors"
	"toolwire/pkg/metrics"
	"toolwire/pkg/utils"
)

const (
	component = "history"

	DefaultKeepRecent         = 10
	DefaultMaxToolResultChars = 20000
)

// Manager 对话历史管理：追加、配对裁剪、按 token 预算压缩
type Manager struct {
	mu           sync.RWMutex
	cfg          config.HistoryConfig
	systemPrompt string
	entries      []*Entry
	now          func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithConfig sets budgets and the initial system prompt.
func WithConfig(cfg config.HistoryConfig) Option {
	return func(m *Manager) { m.cfg = cfg }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates an empty history.
func NewManager(opts ...Option) *Manager {
	m := &Manager{now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	m.cfg.KeepRecent = utils.DefaultInt(m.cfg.KeepRecent, DefaultKeepRecent)
	m.cfg.MaxToolResultChars = utils.DefaultInt(m.cfg.MaxToolResultChars, DefaultMaxToolResultChars)
	m.systemPrompt = m.cfg.SystemPrompt
	return m
}

// SetSystemPrompt replaces the system instruction counted against the budget.
func (m *Manager) SetSystemPrompt(prompt string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.systemPrompt = prompt
}

// SystemPrompt returns the current system instruction.
func (m *Manager) SystemPrompt() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.systemPrompt
}

// AppendUser appends a user message.
func (m *Manager) AppendUser(ctx context.Context, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendLocked(ctx, &Entry{Role: schema.User, Content: content})
}

// AppendAssistant appends a model response with the calls it requested.
// Calls are copied; a nil call is a programmer error.
func (m *Manager) AppendAssistant(ctx context.Context, content string, calls []*toolcall.Invocation) error {
	e := &Entry{Role: schema.Assistant, Content: content}
	for i, c := range calls {
		if c == nil {
			return errors.Wrapf(errors.ErrNilInvocation, "assistant call %d", i)
		}
		e.ToolCalls = append(e.ToolCalls, c.Clone())
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendLocked(ctx, e)
	return nil
}

// AppendToolResult appends the result of call callID. Content longer than
// MaxToolResultChars is cut and the number of dropped characters recorded.
func (m *Manager) AppendToolResult(ctx context.Context, toolID, callID, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := &Entry{Role: schema.Tool, Content: content, ToolCallID: callID, ToolName: toolID}
	if limit := m.cfg.MaxToolResultChars; utf8.RuneCountInString(content) > limit {
		r := []rune(content)
		e.DroppedChars = len(r) - limit
		e.Content = string(r[:limit]) + truncationMarker(e.DroppedChars)
		observe.Emit(ctx, component, observe.KindResultTruncated, "tool result truncated",
			slog.String("tool", toolID),
			slog.String("call_id", callID),
			slog.Int("dropped_chars", e.DroppedChars),
		)
	}
	m.appendLocked(ctx, e)
}

func truncationMarker(dropped int) string {
	return "\n[... " + strconv.Itoa(dropped) + " characters truncated]"
}

func (m *Manager) appendLocked(ctx context.Context, e *Entry) {
	e.Timestamp = m.now()
	if n := len(m.entries); n > 0 && e.Timestamp.Before(m.entries[n-1].Timestamp) {
		e.Timestamp = m.entries[n-1].Timestamp
	}
	e.TokenEstimate = estimateEntry(e)
	m.entries = append(m.entries, e)

	total := m.totalLocked()
	metrics.HistoryTokens.Set(float64(total))
	if threshold := m.cfg.CompressThreshold(); threshold > 0 && total > threshold {
		m.compressLocked(ctx)
	}
}

// Entries returns a copy of every stored entry, orphans included.
func (m *Manager) Entries() []*Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Entry, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.clone()
	}
	return out
}

// Len returns the number of stored entries.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// TotalTokens is the estimate over all entries plus the system prompt.
func (m *Manager) TotalTokens() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totalLocked()
}

func (m *Manager) totalLocked() int {
	n := EstimateTokens(m.systemPrompt)
	for _, e := range m.entries {
		n += e.TokenEstimate
	}
	return n
}

// Clear drops every entry; the system prompt is kept.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = nil
}
