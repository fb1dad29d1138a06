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
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolwire/internal/extract"
	"toolwire/internal/history"
	"toolwire/internal/observe"
	"toolwire/internal/stream"
	"toolwire/internal/toolcall"
	"toolwire/pkg/config"
	"toolwire/pkg/errors"
)

func newPipeline(t *testing.T, opts ...Option) *Pipeline {
	t.Helper()
	reg, err := LoadRegistry("")
	require.NoError(t, err)
	n := 0
	opts = append([]Option{WithIDGenerator(func() string { n++; return fmt.Sprintf("call_%d", n) })}, opts...)
	return New(nil, nil, reg, nil, opts...)
}

func quietCtx() (context.Context, *observe.Bus) {
	bus := observe.NewBus()
	em := observe.NewEmitter(
		observe.WithBus(bus),
		observe.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	return observe.WithEmitter(context.Background(), em), bus
}

func fragments(items ...stream.Fragment) <-chan stream.Fragment {
	ch := make(chan stream.Fragment, len(items))
	for _, f := range items {
		ch <- f
	}
	close(ch)
	return ch
}

func intp(i int) *int { return &i }

func TestProcessResponse_RepairsAliasedParameter(t *testing.T) {
	p := newPipeline(t)
	ctx, _ := quietCtx()

	resp, err := p.ProcessResponse(ctx, `Reading it now.
<tool_call>{"name": "read_file", "arguments": {"path": "a.txt"}}</tool_call>`)
	require.NoError(t, err)
	require.Len(t, resp.Calls, 1)
	assert.NotEmpty(t, resp.CorrelationID)
	assert.Equal(t, extract.StrategyTagged, resp.Strategy)
	assert.Equal(t, "Reading it now.", strings.TrimSpace(resp.Text))

	c := resp.Calls[0]
	assert.True(t, c.Known)
	require.NotNil(t, c.Outcome)
	assert.False(t, c.Outcome.Valid)
	assert.True(t, c.Executable)
	assert.Equal(t, "call_1", c.Invocation.CallID)
	assert.Equal(t, map[string]any{"file_path": "a.txt"}, c.Invocation.Map())
	assert.Equal(t, map[string]any{"path": "a.txt"}, c.Original.Map())
}

func TestProcessResponse_KeepsModelCallID(t *testing.T) {
	p := newPipeline(t)
	resp, err := p.ProcessResponse(context.Background(),
		`{"tool_call": {"id": "abc", "name": "shell", "arguments": {"command": "ls"}}}`)
	require.NoError(t, err)
	require.Len(t, resp.Calls, 1)
	assert.Equal(t, "abc", resp.Calls[0].Invocation.CallID)
	assert.True(t, resp.Calls[0].Outcome.Valid)
	assert.Nil(t, resp.Calls[0].Outcome.Repaired)
	assert.Same(t, resp.Calls[0].Original, resp.Calls[0].Invocation)
}

func TestProcessResponse_UnknownTool(t *testing.T) {
	p := newPipeline(t)
	ctx, bus := quietCtx()
	turn := observe.NewTurn("")
	ctx = observe.WithTurn(ctx, turn)
	events := &observe.Collector{}
	bus.Subscribe(turn.CorrelationID, events)

	resp, err := p.ProcessResponse(ctx, `<tool_call>{"name": "launch_rocket", "arguments": {}}</tool_call>`)
	require.NoError(t, err)
	require.Len(t, resp.Calls, 1)
	assert.False(t, resp.Calls[0].Known)
	assert.False(t, resp.Calls[0].Executable)
	assert.Nil(t, resp.Calls[0].Outcome)
	assert.Equal(t, turn.CorrelationID, resp.CorrelationID)

	require.Equal(t, []string{observe.KindUnknownTool}, events.Kinds())
	assert.Equal(t, turn.CorrelationID, events.Events()[0].CorrelationID)
}

func TestProcessResponse_PlainText(t *testing.T) {
	p := newPipeline(t)
	resp, err := p.ProcessResponse(context.Background(), "Nothing to do here.")
	require.NoError(t, err)
	assert.Empty(t, resp.Calls)
	assert.Equal(t, "Nothing to do here.", resp.Text)
}

func TestProcessResponse_ModelSelectsFamily(t *testing.T) {
	p := newPipeline(t, WithModel("gpt-4o"))
	resp, err := p.ProcessResponse(context.Background(),
		`{"name": "shell", "arguments": {"command": "ls"}}`)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", resp.Model)
	require.Len(t, resp.Calls, 1)
	assert.Equal(t, extract.StrategyBare, resp.Strategy)
}

func TestProcessStream_Reassembles(t *testing.T) {
	p := newPipeline(t)
	resp, err := p.ProcessStream(context.Background(), fragments(
		stream.Fragment{SlotIndex: intp(0), Name: "read_file", ArgumentsDelta: `{"fi`},
		stream.Fragment{SlotIndex: intp(0), ArgumentsDelta: `le_path":`},
		stream.Fragment{SlotIndex: intp(0), ArgumentsDelta: `"a.txt"}`, Finished: true},
	))
	require.NoError(t, err)
	require.Len(t, resp.Calls, 1)
	c := resp.Calls[0]
	assert.True(t, c.Outcome.Valid)
	assert.True(t, c.Executable)
	assert.Equal(t, "read_file", c.Invocation.ToolID)
	assert.Equal(t, map[string]any{"file_path": "a.txt"}, c.Invocation.Map())
	assert.Equal(t, "call_1", c.Invocation.CallID)
}

func TestProcessStream_ClosedWithoutFinished(t *testing.T) {
	p := newPipeline(t)
	resp, err := p.ProcessStream(context.Background(), fragments(
		stream.Fragment{SlotIndex: intp(0), ID: "x1", Name: "shell", ArgumentsDelta: `{"command":"ls"}`},
		stream.Fragment{SlotIndex: intp(1), ID: "x2", Name: "grep", ArgumentsDelta: `{"pattern":"TODO"}`},
	))
	require.NoError(t, err)
	require.Len(t, resp.Calls, 2)
	assert.Equal(t, "x1", resp.Calls[0].Invocation.CallID)
	assert.Equal(t, "x2", resp.Calls[1].Invocation.CallID)
}

func TestProcessStream_Cancelled(t *testing.T) {
	p := newPipeline(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ch := make(chan stream.Fragment)
	resp, err := p.ProcessStream(ctx, ch)
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProcessMessages_NativeToolCalls(t *testing.T) {
	p := newPipeline(t)
	ch := make(chan *schema.Message, 3)
	ch <- &schema.Message{Role: schema.Assistant, ToolCalls: []schema.ToolCall{{
		Index: intp(0), ID: "t1", Type: "function",
		Function: schema.FunctionCall{Name: "shell", Arguments: `{"comm`},
	}}}
	ch <- &schema.Message{Role: schema.Assistant, ToolCalls: []schema.ToolCall{{
		Index: intp(0), Function: schema.FunctionCall{Arguments: `and": "ls"}`},
	}}}
	ch <- &schema.Message{Role: schema.Assistant, ResponseMeta: &schema.ResponseMeta{FinishReason: "tool_calls"}}
	close(ch)

	resp, err := p.ProcessMessages(context.Background(), ch)
	require.NoError(t, err)
	require.Len(t, resp.Calls, 1)
	assert.Equal(t, "t1", resp.Calls[0].Invocation.CallID)
	assert.Equal(t, map[string]any{"command": "ls"}, resp.Calls[0].Invocation.Map())
}

func TestProcessMessages_TextFallback(t *testing.T) {
	p := newPipeline(t)
	ch := make(chan *schema.Message, 2)
	ch <- &schema.Message{Role: schema.Assistant, Content: `<tool_call>{"name": "shell", `}
	ch <- &schema.Message{Role: schema.Assistant, Content: `"arguments": {"command": "pwd"}}</tool_call>`}
	close(ch)

	resp, err := p.ProcessMessages(context.Background(), ch)
	require.NoError(t, err)
	require.Len(t, resp.Calls, 1)
	assert.Equal(t, "shell", resp.Calls[0].Invocation.ToolID)
	assert.Equal(t, extract.StrategyTagged, resp.Strategy)
}

func TestRecordAndMessages(t *testing.T) {
	p := newPipeline(t)
	ctx, _ := quietCtx()
	p.History().AppendUser(ctx, "list files")

	resp, err := p.ProcessResponse(ctx, `<tool_call>{"name": "shell", "arguments": {"command": "ls"}}</tool_call>
<tool_call>{"name": "grep", "arguments": {"pattern": "x"}}</tool_call>`)
	require.NoError(t, err)
	require.Len(t, resp.Calls, 2)
	require.NoError(t, p.RecordAssistant(ctx, resp))
	// Only the first call gets a result.
	require.NoError(t, p.RecordResult(ctx, resp.Calls[0].Invocation, "a.txt"))

	msgs := p.Messages(ctx)
	require.Len(t, msgs, 3)
	assert.Equal(t, schema.User, msgs[0].Role)
	require.Len(t, msgs[1].ToolCalls, 1)
	assert.Equal(t, "call_1", msgs[1].ToolCalls[0].ID)
	assert.Equal(t, "call_1", msgs[2].ToolCallID)

	assert.Error(t, p.RecordAssistant(ctx, nil))
	assert.Error(t, p.RecordResult(ctx, (*toolcall.Invocation)(nil), "x"))
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default().Protocol
	p, err := FromConfig(cfg)
	require.NoError(t, err)
	_, ok := p.Schemas().Schema("read_file")
	assert.True(t, ok)

	dir := t.TempDir()
	path := filepath.Join(dir, "tools.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`tools:
  - name: deploy
    parameters:
      - name: env
        type: string
        required: true
        allowed_values: [staging, prod]
`), 0o644))
	cfg.ToolsFile = path
	p, err = FromConfig(cfg)
	require.NoError(t, err)
	_, ok = p.Schemas().Schema("deploy")
	assert.True(t, ok)
	_, ok = p.Schemas().Schema("read_file")
	assert.False(t, ok)

	cfg.ToolsFile = filepath.Join(dir, "missing.yaml")
	_, err = FromConfig(cfg)
	assert.Error(t, err)
}

func TestWithStore_SavesAndRestoresConversation(t *testing.T) {
	ctx, _ := quietCtx()
	store := history.NewMemoryStore()
	p := newPipeline(t, WithStore(store, "conv-1"))
	require.NoError(t, p.Load(ctx))
	require.NoError(t, p.RecordUser(ctx, "read a.txt"))
	resp, err := p.ProcessResponse(ctx, `<tool_call>{"name": "read_file", "arguments": {"file_path": "a.txt"}}</tool_call>`)
	require.NoError(t, err)
	require.NoError(t, p.RecordAssistant(ctx, resp))
	require.NoError(t, p.RecordResult(ctx, resp.Calls[0].Invocation, "hello"))

	again := newPipeline(t, WithStore(store, "conv-1"))
	require.NoError(t, again.Load(ctx))
	assert.Equal(t, 3, again.History().Len())
	msgs := again.Messages(ctx)
	require.Len(t, msgs, 3)
	require.Len(t, msgs[1].ToolCalls, 1)
	assert.Equal(t, "call_1", msgs[1].ToolCalls[0].ID)
	assert.Equal(t, "call_1", msgs[2].ToolCallID)

	require.NoError(t, again.Forget(ctx))
	assert.Equal(t, 0, again.History().Len())
	fresh := newPipeline(t, WithStore(store, "conv-1"))
	require.NoError(t, fresh.Load(ctx))
	assert.Equal(t, 0, fresh.History().Len())
}

func TestWithStore_RequiresConversationID(t *testing.T) {
	ctx, _ := quietCtx()
	p := newPipeline(t, WithStore(history.NewMemoryStore(), ""))
	err := p.RecordUser(ctx, "hi")
	assert.True(t, errors.Is(err, errors.ErrInvalidArg))
}

func TestLoad_WithoutStoreIsNoop(t *testing.T) {
	p := newPipeline(t)
	p.History().AppendUser(context.Background(), "kept")
	require.NoError(t, p.Load(context.Background()))
	assert.Equal(t, 1, p.History().Len())
}
