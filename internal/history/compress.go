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

	"github.com/cloudwego/eino/schema"

	"toolwire/internal/observe"
	"toolwire/pkg/metrics"
	"toolwire/pkg/tracing"
)

// Compress replaces everything older than the most recent KeepRecent
// entries with one summary entry. The cut moves toward older entries until
// no call is separated from its result. Reports whether anything changed.
func (m *Manager) Compress(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.compressLocked(ctx)
}

func (m *Manager) compressLocked(ctx context.Context) bool {
	n := len(m.entries)
	if n <= m.cfg.KeepRecent {
		return false
	}
	cut := safeCut(m.entries, n-m.cfg.KeepRecent)
	if cut <= 0 || (cut == 1 && m.entries[0].Summary != nil) {
		return false
	}

	before := m.totalLocked()
	ctx, span := tracing.StartCompressSpan(ctx, n, before)
	defer span.End()

	sum := summarize(m.entries[:cut])
	head := &Entry{
		Role:      schema.Assistant,
		Content:   sum.render(),
		Timestamp: m.entries[cut-1].Timestamp,
		Summary:   sum,
	}
	head.TokenEstimate = estimateEntry(head)

	kept := make([]*Entry, 0, n-cut+1)
	kept = append(kept, head)
	kept = append(kept, m.entries[cut:]...)
	m.entries = kept

	after := m.totalLocked()
	metrics.CompressionsTotal.Inc()
	metrics.HistoryTokens.Set(float64(after))
	observe.Emit(ctx, component, observe.KindCompressed, "history compressed",
		slog.Int("replaced", cut),
		slog.Int("kept", n-cut),
		slog.Int("tokens_before", before),
		slog.Int("tokens_after", after),
	)
	return true
}

// safeCut lowers cut until no answered call at index < cut has its result
// at index >= cut.
func safeCut(entries []*Entry, cut int) int {
	p := matchPairs(entries)
	for moved := true; moved && cut > 0; {
		moved = false
		for ref, result := range p.answered {
			if ref.entry < cut && result >= cut {
				cut = ref.entry
				moved = true
			}
		}
	}
	return cut
}

func summarize(prefix []*Entry) *Summary {
	sum := &Summary{ToolCounts: make(map[string]int)}
	for _, e := range prefix {
		if e.Summary != nil {
			sum.merge(e.Summary)
			continue
		}
		sum.Entries++
		switch e.Role {
		case schema.User:
			sum.addTopic(topicOf(e.Content))
		case schema.Assistant:
			for _, c := range e.ToolCalls {
				sum.ToolCounts[c.ToolID]++
			}
		}
	}
	return sum
}
