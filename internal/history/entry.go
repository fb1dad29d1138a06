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

// Package history keeps the ordered conversation (user, assistant and tool
// entries), prunes unpaired tool calls and results from the view sent to the
// model, and compresses older entries under a token budget without ever
// separating a call from its result.
package history

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"toolwire/internal/toolcall"
)

// Entry 一条历史记录；追加后不可变，只有压缩会整段替换
type Entry struct {
	Role          schema.RoleType        `json:"role"`
	Content       string                 `json:"content"`
	Timestamp     time.Time              `json:"timestamp"`
	TokenEstimate int                    `json:"token_estimate"`
	ToolCalls     []*toolcall.Invocation `json:"tool_calls,omitempty"`
	ToolCallID    string                 `json:"tool_call_id,omitempty"`
	ToolName      string                 `json:"tool_name,omitempty"`
	DroppedChars  int                    `json:"dropped_chars,omitempty"`
	Summary       *Summary               `json:"summary,omitempty"`
}

// Summary describes the entries a compression replaced.
type Summary struct {
	Entries    int            `json:"entries"`
	ToolCounts map[string]int `json:"tool_counts,omitempty"`
	Topics     []string       `json:"topics,omitempty"`
}

// EstimateTokens is the approximate token count of text: one token per four bytes.
func EstimateTokens(text string) int {
	return len(text) / 4
}

func estimateEntry(e *Entry) int {
	n := EstimateTokens(e.Content)
	for _, c := range e.ToolCalls {
		n += EstimateTokens(c.ToolID) + EstimateTokens(c.ArgumentsJSON())
	}
	return n
}

// CallIDs returns the call ids of an assistant entry, in order.
func (e *Entry) CallIDs() []string {
	if e == nil || len(e.ToolCalls) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.ToolCalls))
	for _, c := range e.ToolCalls {
		out = append(out, c.CallID)
	}
	return out
}

func (e *Entry) clone() *Entry {
	out := *e
	if len(e.ToolCalls) > 0 {
		out.ToolCalls = make([]*toolcall.Invocation, 0, len(e.ToolCalls))
		for _, c := range e.ToolCalls {
			if c != nil {
				out.ToolCalls = append(out.ToolCalls, c.Clone())
			}
		}
	}
	if e.Summary != nil {
		out.Summary = e.Summary.clone()
	}
	return &out
}

func (s *Summary) clone() *Summary {
	out := &Summary{Entries: s.Entries, Topics: append([]string(nil), s.Topics...)}
	if s.ToolCounts != nil {
		out.ToolCounts = make(map[string]int, len(s.ToolCounts))
		for k, v := range s.ToolCounts {
			out.ToolCounts[k] = v
		}
	}
	return out
}

func (s *Summary) merge(o *Summary) {
	s.Entries += o.Entries
	for k, v := range o.ToolCounts {
		s.ToolCounts[k] += v
	}
	for _, t := range o.Topics {
		s.addTopic(t)
	}
}

func (s *Summary) addTopic(t string) {
	if t == "" {
		return
	}
	for _, have := range s.Topics {
		if have == t {
			return
		}
	}
	s.Topics = append(s.Topics, t)
}

const topicLen = 60

// topicOf reduces a user message to a comparable topic: first line,
// lower-cased, whitespace collapsed, cut to topicLen runes.
func topicOf(content string) string {
	line := strings.TrimSpace(content)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.ToLower(strings.Join(strings.Fields(line), " "))
	if r := []rune(line); len(r) > topicLen {
		line = string(r[:topicLen])
	}
	return line
}

// render is the text the model sees in place of the replaced entries.
func (s *Summary) render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[Earlier conversation compressed: %d entries", s.Entries)
	if len(s.ToolCounts) > 0 {
		names := make([]string, 0, len(s.ToolCounts))
		for name := range s.ToolCounts {
			names = append(names, name)
		}
		sort.Strings(names)
		parts := make([]string, len(names))
		for i, name := range names {
			parts[i] = fmt.Sprintf("%s x%d", name, s.ToolCounts[name])
		}
		fmt.Fprintf(&b, "; tool calls: %s", strings.Join(parts, ", "))
	}
	fmt.Fprintf(&b, "; distinct user topics: %d]", len(s.Topics))
	return b.String()
}
