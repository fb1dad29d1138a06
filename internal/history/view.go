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
	"strings"

	"github.com/cloudwego/eino/schema"

	"toolwire/internal/observe"
	"toolwire/internal/toolcall"
	"toolwire/pkg/metrics"
)

// callRef identifies one call: the assistant entry that issued it and its id.
type callRef struct {
	entry int
	id    string
}

// pairs matches tool results to the calls they answer. A result answers the
// most recent earlier assistant entry that issued its id; only the first
// result for a given call counts.
type pairs struct {
	answered map[callRef]int // call -> index of its result
	results  map[int]callRef // result index -> call
}

func matchPairs(entries []*Entry) pairs {
	p := pairs{answered: make(map[callRef]int), results: make(map[int]callRef)}
	issuer := make(map[string]int)
	for i, e := range entries {
		switch e.Role {
		case schema.Assistant:
			for _, c := range e.ToolCalls {
				if c.CallID != "" {
					issuer[c.CallID] = i
				}
			}
		case schema.Tool:
			if e.ToolCallID == "" {
				continue
			}
			at, ok := issuer[e.ToolCallID]
			if !ok {
				continue
			}
			ref := callRef{entry: at, id: e.ToolCallID}
			if _, dup := p.answered[ref]; dup {
				continue
			}
			p.answered[ref] = i
			p.results[i] = ref
		}
	}
	return p
}

// BuildRequestView returns the entries to serialize into the next model
// request, with every unpaired call and result removed. Stored entries are
// not modified: a call still waiting for its result reappears once the
// result is appended.
func (m *Manager) BuildRequestView(ctx context.Context) []*Entry {
	m.mu.RLock()
	entries := make([]*Entry, len(m.entries))
	copy(entries, m.entries)
	m.mu.RUnlock()

	return pruneOrphans(ctx, entries)
}

func pruneOrphans(ctx context.Context, entries []*Entry) []*Entry {
	p := matchPairs(entries)
	view := make([]*Entry, 0, len(entries))

	for i, e := range entries {
		switch e.Role {
		case schema.Tool:
			if _, ok := p.results[i]; ok {
				view = append(view, e.clone())
				continue
			}
			dropResult(ctx, e, entries, i)

		case schema.Assistant:
			if len(e.ToolCalls) == 0 {
				view = append(view, e.clone())
				continue
			}
			kept := make([]*toolcall.Invocation, 0, len(e.ToolCalls))
			seen := make(map[string]bool, len(e.ToolCalls))
			for _, c := range e.ToolCalls {
				_, ok := p.answered[callRef{entry: i, id: c.CallID}]
				if ok && !seen[c.CallID] {
					seen[c.CallID] = true
					kept = append(kept, c.Clone())
					continue
				}
				metrics.OrphansDropped.WithLabelValues("call").Inc()
				observe.Emit(ctx, component, observe.KindOrphanCall, "tool call without result pruned",
					slog.String("tool", c.ToolID),
					slog.String("call_id", c.CallID),
					slog.Int("entry", i),
				)
			}
			if len(kept) == 0 && strings.TrimSpace(e.Content) == "" {
				continue
			}
			out := *e
			out.ToolCalls = kept
			if len(kept) == 0 {
				out.ToolCalls = nil
			}
			if e.Summary != nil {
				out.Summary = e.Summary.clone()
			}
			view = append(view, &out)

		default:
			view = append(view, e.clone())
		}
	}
	return view
}

func dropResult(ctx context.Context, e *Entry, entries []*Entry, i int) {
	kind, msg := observe.KindOrphanResult, "tool result without matching call pruned"
	switch {
	case e.ToolCallID == "":
		kind, msg = observe.KindMissingCallID, "tool result without call id pruned"
	case issuedBefore(entries, i, e.ToolCallID):
		kind, msg = observe.KindDuplicateResult, "duplicate tool result pruned"
	}
	metrics.OrphansDropped.WithLabelValues("result").Inc()
	observe.Emit(ctx, component, kind, msg,
		slog.String("tool", e.ToolName),
		slog.String("call_id", e.ToolCallID),
		slog.Int("entry", i),
	)
}

func issuedBefore(entries []*Entry, i int, id string) bool {
	for j := i - 1; j >= 0; j-- {
		if entries[j].Role != schema.Assistant {
			continue
		}
		for _, c := range entries[j].ToolCalls {
			if c.CallID == id {
				return true
			}
		}
	}
	return false
}
