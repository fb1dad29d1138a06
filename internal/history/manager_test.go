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
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolwire/internal/observe"
	"toolwire/internal/toolcall"
	"toolwire/pkg/config"
)

func collect() (context.Context, *observe.Collector) {
	bus := observe.NewBus()
	c := &observe.Collector{}
	bus.SubscribeAll(c)
	em := observe.NewEmitter(
		observe.WithBus(bus),
		observe.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	return observe.WithEmitter(context.Background(), em), c
}

func ticker() func() time.Time {
	t := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func call(tool, id string) *toolcall.Invocation {
	return toolcall.New(tool, id).Set("file_path", "a.txt")
}

// checkPairing fails unless every tool entry answers a call of an earlier
// assistant entry and every assistant call has a later result.
func checkPairing(t *testing.T, view []*Entry) {
	t.Helper()
	for i, e := range view {
		switch e.Role {
		case schema.Tool:
			require.NotEmpty(t, e.ToolCallID, "entry %d", i)
			found := false
			for j := i - 1; j >= 0 && !found; j-- {
				for _, c := range view[j].ToolCalls {
					if c.CallID == e.ToolCallID {
						found = true
					}
				}
			}
			require.True(t, found, "tool entry %d (%s) has no earlier call", i, e.ToolCallID)
		case schema.Assistant:
			for _, c := range e.ToolCalls {
				found := false
				for k := i + 1; k < len(view) && !found; k++ {
					found = view[k].Role == schema.Tool && view[k].ToolCallID == c.CallID
				}
				require.True(t, found, "call %s in entry %d has no result", c.CallID, i)
			}
		}
	}
}

func TestAppendToolResult_Truncates(t *testing.T) {
	ctx, events := collect()
	m := NewManager(WithConfig(config.HistoryConfig{MaxToolResultChars: 10}))

	m.AppendToolResult(ctx, "read_file", "c1", strings.Repeat("x", 25))
	e := m.Entries()[0]
	assert.Equal(t, 15, e.DroppedChars)
	assert.True(t, strings.HasPrefix(e.Content, strings.Repeat("x", 10)+"\n"))
	assert.Contains(t, e.Content, "15 characters truncated")
	assert.Equal(t, []string{observe.KindResultTruncated}, events.Kinds())

	m.AppendToolResult(ctx, "read_file", "c2", "short")
	assert.Equal(t, 0, m.Entries()[1].DroppedChars)
	assert.Equal(t, "short", m.Entries()[1].Content)
}

func TestAppendToolResult_NegativeLimitUsesDefault(t *testing.T) {
	ctx, _ := collect()
	m := NewManager(WithConfig(config.HistoryConfig{MaxToolResultChars: -1}))

	m.AppendToolResult(ctx, "read_file", "c1", strings.Repeat("x", DefaultMaxToolResultChars+5))
	e := m.Entries()[0]
	assert.Equal(t, 5, e.DroppedChars)
	assert.True(t, strings.HasPrefix(e.Content, strings.Repeat("x", DefaultMaxToolResultChars)+"\n"))
}

func TestAppend_TimestampsNonDecreasing(t *testing.T) {
	times := []time.Time{
		time.Unix(100, 0), time.Unix(50, 0), time.Unix(200, 0),
	}
	i := 0
	m := NewManager(WithClock(func() time.Time { i++; return times[i-1] }))
	ctx := context.Background()
	m.AppendUser(ctx, "a")
	m.AppendUser(ctx, "b")
	m.AppendUser(ctx, "c")

	es := m.Entries()
	assert.Equal(t, time.Unix(100, 0), es[1].Timestamp)
	assert.Equal(t, time.Unix(200, 0), es[2].Timestamp)
}

func TestAppendAssistant_NilCall(t *testing.T) {
	m := NewManager()
	err := m.AppendAssistant(context.Background(), "x", []*toolcall.Invocation{nil})
	require.Error(t, err)
	assert.Equal(t, 0, m.Len())
}

func TestAppendAssistant_CopiesCalls(t *testing.T) {
	m := NewManager()
	c := call("read_file", "c1")
	require.NoError(t, m.AppendAssistant(context.Background(), "", []*toolcall.Invocation{c}))
	c.Set("file_path", "changed")
	v, _ := m.Entries()[0].ToolCalls[0].Arg("file_path")
	assert.Equal(t, "a.txt", v)
}

func TestTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens("abc"))
	assert.Equal(t, 2, EstimateTokens("abcdefgh"))

	m := NewManager(WithConfig(config.HistoryConfig{SystemPrompt: strings.Repeat("s", 40)}))
	m.AppendUser(context.Background(), strings.Repeat("u", 80))
	assert.Equal(t, 30, m.TotalTokens())
}

func TestBuildRequestView_PrunesOrphans(t *testing.T) {
	ctx, events := collect()
	m := NewManager(WithClock(ticker()))

	m.AppendUser(ctx, "hi")
	require.NoError(t, m.AppendAssistant(ctx, "let me look", []*toolcall.Invocation{
		call("read_file", "c1"), call("grep", "c2"),
	}))
	m.AppendToolResult(ctx, "read_file", "c1", "contents")
	m.AppendToolResult(ctx, "read_file", "c9", "stray")
	m.AppendToolResult(ctx, "read_file", "", "no id")
	m.AppendToolResult(ctx, "read_file", "c1", "again")
	require.NoError(t, m.AppendAssistant(ctx, "", []*toolcall.Invocation{call("shell", "c3")}))

	view := m.BuildRequestView(ctx)
	require.Len(t, view, 3)
	assert.Equal(t, schema.User, view[0].Role)
	assert.Equal(t, []string{"c1"}, view[1].CallIDs())
	assert.Equal(t, "let me look", view[1].Content)
	assert.Equal(t, "c1", view[2].ToolCallID)
	assert.Equal(t, "contents", view[2].Content)
	checkPairing(t, view)

	assert.Equal(t, []string{
		observe.KindOrphanCall,
		observe.KindOrphanResult,
		observe.KindMissingCallID,
		observe.KindDuplicateResult,
		observe.KindOrphanCall,
	}, events.Kinds())

	assert.Equal(t, 7, m.Len(), "stored entries are untouched")
}

func TestBuildRequestView_PendingCallReappears(t *testing.T) {
	ctx := context.Background()
	m := NewManager()
	require.NoError(t, m.AppendAssistant(ctx, "", []*toolcall.Invocation{call("read_file", "c1")}))
	assert.Empty(t, m.BuildRequestView(ctx))

	m.AppendToolResult(ctx, "read_file", "c1", "ok")
	view := m.BuildRequestView(ctx)
	require.Len(t, view, 2)
	checkPairing(t, view)
}

func TestBuildRequestView_ReusedCallID(t *testing.T) {
	ctx := context.Background()
	m := NewManager()
	require.NoError(t, m.AppendAssistant(ctx, "", []*toolcall.Invocation{call("read_file", "c1")}))
	m.AppendToolResult(ctx, "read_file", "c1", "first")
	require.NoError(t, m.AppendAssistant(ctx, "", []*toolcall.Invocation{call("read_file", "c1")}))
	m.AppendToolResult(ctx, "read_file", "c1", "second")

	view := m.BuildRequestView(ctx)
	require.Len(t, view, 4)
	checkPairing(t, view)
}

func randomHistory(r *rand.Rand, m *Manager, ops int) {
	ctx := context.Background()
	tools := []string{"read_file", "grep", "shell"}
	id := func() string {
		switch r.Intn(10) {
		case 0:
			return ""
		case 1:
			return "unknown"
		default:
			return fmt.Sprintf("c%d", r.Intn(8))
		}
	}
	for i := 0; i < ops; i++ {
		switch r.Intn(3) {
		case 0:
			m.AppendUser(ctx, fmt.Sprintf("topic %d", r.Intn(4)))
		case 1:
			var calls []*toolcall.Invocation
			for j := r.Intn(4); j > 0; j-- {
				calls = append(calls, call(tools[r.Intn(len(tools))], id()))
			}
			content := ""
			if r.Intn(2) == 0 {
				content = "thinking"
			}
			_ = m.AppendAssistant(ctx, content, calls)
		default:
			m.AppendToolResult(ctx, tools[r.Intn(len(tools))], id(), "result")
		}
	}
}

func TestPairingInvariant_RandomAppends(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	ctx := context.Background()
	for iter := 0; iter < 300; iter++ {
		m := NewManager()
		randomHistory(r, m, 1+r.Intn(40))
		checkPairing(t, m.BuildRequestView(ctx))
	}
}

func TestCompress_KeepsRecentAndSummarizes(t *testing.T) {
	ctx, events := collect()
	m := NewManager(WithConfig(config.HistoryConfig{KeepRecent: 4}), WithClock(ticker()))

	m.AppendUser(ctx, "Fix the bug")
	require.NoError(t, m.AppendAssistant(ctx, "", []*toolcall.Invocation{call("read_file", "c1")}))
	m.AppendToolResult(ctx, "read_file", "c1", "code")
	m.AppendUser(ctx, "fix the   bug")
	m.AppendUser(ctx, "Add tests")
	require.NoError(t, m.AppendAssistant(ctx, "", []*toolcall.Invocation{
		call("grep", "c2"), call("read_file", "c3"),
	}))
	m.AppendToolResult(ctx, "grep", "c2", "match")
	m.AppendToolResult(ctx, "read_file", "c3", "code")
	m.AppendUser(ctx, "done?")
	require.NoError(t, m.AppendAssistant(ctx, "yes", nil))

	require.True(t, m.Compress(ctx))
	es := m.Entries()
	require.Len(t, es, 6, "cut moves back to keep the c2/c3 pair whole")

	head := es[0]
	require.NotNil(t, head.Summary)
	assert.Equal(t, schema.Assistant, head.Role)
	assert.Equal(t, 5, head.Summary.Entries)
	assert.Equal(t, map[string]int{"read_file": 1}, head.Summary.ToolCounts)
	assert.Equal(t, []string{"fix the bug", "add tests"}, head.Summary.Topics)
	assert.Contains(t, head.Content, "5 entries")
	assert.Contains(t, head.Content, "read_file x1")
	assert.Contains(t, head.Content, "distinct user topics: 2")
	assert.Equal(t, []string{"c2", "c3"}, es[1].CallIDs())
	assert.False(t, head.Timestamp.After(es[1].Timestamp))
	assert.Contains(t, events.Kinds(), observe.KindCompressed)
	checkPairing(t, m.BuildRequestView(ctx))

	// A second compression folds the old summary into the new one.
	m.AppendUser(ctx, "Add tests")
	m.AppendUser(ctx, "new topic")
	require.NoError(t, m.AppendAssistant(ctx, "ok", nil))
	require.True(t, m.Compress(ctx))

	es = m.Entries()
	require.Len(t, es, 5)
	head = es[0]
	assert.Equal(t, 9, head.Summary.Entries)
	assert.Equal(t, map[string]int{"read_file": 2, "grep": 1}, head.Summary.ToolCounts)
	assert.Equal(t, []string{"fix the bug", "add tests", "done?"}, head.Summary.Topics)
	for _, e := range es[1:] {
		assert.Nil(t, e.Summary)
	}
}

func TestCompress_NothingToDo(t *testing.T) {
	ctx := context.Background()

	m := NewManager(WithConfig(config.HistoryConfig{KeepRecent: 5}))
	m.AppendUser(ctx, "a")
	assert.False(t, m.Compress(ctx))

	m = NewManager(WithConfig(config.HistoryConfig{KeepRecent: 1}))
	require.NoError(t, m.AppendAssistant(ctx, "", []*toolcall.Invocation{
		call("read_file", "c1"), call("read_file", "c2"),
	}))
	m.AppendToolResult(ctx, "read_file", "c1", "x")
	m.AppendToolResult(ctx, "read_file", "c2", "y")
	assert.False(t, m.Compress(ctx), "one open pair spans the whole history")
	assert.Equal(t, 3, m.Len())
}

func TestCompress_NeverSplitsPair(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	ctx := context.Background()
	for iter := 0; iter < 100; iter++ {
		base := NewManager()
		randomHistory(r, base, 5+r.Intn(40))
		snap := base.Snapshot("s")

		for keep := 1; keep <= 12; keep++ {
			m := NewManager(WithConfig(config.HistoryConfig{KeepRecent: keep}))
			require.NoError(t, m.Restore(snap))

			before := matchPairs(m.entries)
			answered := make(map[*Entry]bool)
			for i := range before.results {
				answered[m.entries[i]] = true
			}

			m.Compress(ctx)

			after := matchPairs(m.entries)
			for i, e := range m.entries {
				if answered[e] {
					_, ok := after.results[i]
					assert.True(t, ok, "iter %d keep %d: result %s lost its call", iter, keep, e.ToolCallID)
				}
			}
			checkPairing(t, m.BuildRequestView(ctx))
		}
	}
}

func TestAutoCompress(t *testing.T) {
	ctx, events := collect()
	m := NewManager(WithConfig(config.HistoryConfig{MaxContextTokens: 100, KeepRecent: 2}))

	for i := 0; i < 3; i++ {
		m.AppendUser(ctx, strings.Repeat("a", 100))
	}
	assert.Equal(t, 3, m.Len())
	assert.NotContains(t, events.Kinds(), observe.KindCompressed)

	m.AppendUser(ctx, strings.Repeat("a", 100))
	es := m.Entries()
	require.Len(t, es, 3)
	require.NotNil(t, es[0].Summary)
	assert.Equal(t, 2, es[0].Summary.Entries)
	assert.Contains(t, events.Kinds(), observe.KindCompressed)
}

func TestToMessages(t *testing.T) {
	ctx := context.Background()
	m := NewManager(WithConfig(config.HistoryConfig{SystemPrompt: "be brief"}))
	m.AppendUser(ctx, "read a.txt")
	require.NoError(t, m.AppendAssistant(ctx, "", []*toolcall.Invocation{
		call("read_file", "c1"), call("grep", "c2"),
	}))
	m.AppendToolResult(ctx, "read_file", "c1", "hello")

	msgs := m.ToMessages(ctx)
	require.Len(t, msgs, 4)
	assert.Equal(t, schema.System, msgs[0].Role)
	assert.Equal(t, "be brief", msgs[0].Content)
	assert.Equal(t, schema.User, msgs[1].Role)

	require.Len(t, msgs[2].ToolCalls, 1)
	tc := msgs[2].ToolCalls[0]
	assert.Equal(t, "c1", tc.ID)
	assert.Equal(t, "function", tc.Type)
	assert.Equal(t, "read_file", tc.Function.Name)
	assert.JSONEq(t, `{"file_path":"a.txt"}`, tc.Function.Arguments)

	assert.Equal(t, schema.Tool, msgs[3].Role)
	assert.Equal(t, "c1", msgs[3].ToolCallID)
	assert.Equal(t, "read_file", msgs[3].ToolName)
	assert.Equal(t, "hello", msgs[3].Content)
}
