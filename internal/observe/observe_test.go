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

package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestTurnContext(t *testing.T) {
	_, ok := TurnFrom(context.Background())
	assert.False(t, ok)
	assert.Empty(t, CorrelationID(context.Background()))

	turn := NewTurn("gpt-4o")
	require.NotEmpty(t, turn.CorrelationID)
	ctx := WithTurn(context.Background(), turn)
	got, ok := TurnFrom(ctx)
	require.True(t, ok)
	assert.Same(t, turn, got)
	assert.Equal(t, turn.CorrelationID, CorrelationID(ctx))

	assert.NotEqual(t, turn.CorrelationID, NewTurn("gpt-4o").CorrelationID)
}

func TestBus_RoutesByCorrelationID(t *testing.T) {
	bus := NewBus()
	var a, b, all Collector
	unsubA := bus.Subscribe("turn-a", &a)
	bus.Subscribe("turn-b", &b)
	bus.SubscribeAll(&all)

	bus.Publish(Event{CorrelationID: "turn-a", Kind: "k1"})
	bus.Publish(Event{CorrelationID: "turn-b", Kind: "k2"})
	bus.Publish(Event{Kind: "k3"})

	assert.Equal(t, []string{"k1"}, a.Kinds())
	assert.Equal(t, []string{"k2"}, b.Kinds())
	assert.Equal(t, []string{"k1", "k2", "k3"}, all.Kinds())

	unsubA()
	bus.Publish(Event{CorrelationID: "turn-a", Kind: "k4"})
	assert.Equal(t, []string{"k1"}, a.Kinds())
}

func TestEmit_FansOut(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	bus := NewBus()
	var sink Collector
	turn := NewTurn("m")
	bus.Subscribe(turn.CorrelationID, &sink)

	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	ctx, span := tp.Tracer("test").Start(context.Background(), "turn")

	ctx = WithTurn(ctx, turn)
	ctx = WithEmitter(ctx, NewEmitter(WithLogger(logger), WithBus(bus)))
	Emit(ctx, "history", KindOrphanCall, "dropped unanswered call", slog.String("call_id", "c1"))
	span.End()

	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "history", events[0].Component)
	assert.Equal(t, KindOrphanCall, events[0].Kind)
	assert.Equal(t, "c1", events[0].Attrs["call_id"])
	assert.Equal(t, turn.CorrelationID, events[0].CorrelationID)

	assert.Contains(t, buf.String(), `"kind":"orphan_call"`)
	assert.Contains(t, buf.String(), turn.CorrelationID)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	require.Len(t, spans[0].Events(), 1)
	assert.Equal(t, KindOrphanCall, spans[0].Events()[0].Name)
}

func TestEmit_RateLimitsLogsNotSinks(t *testing.T) {
	var buf bytes.Buffer
	bus := NewBus()
	var sink Collector
	bus.SubscribeAll(&sink)
	e := NewEmitter(WithLogger(slog.New(slog.NewTextHandler(&buf, nil))), WithBus(bus), WithLogRate(0.0001, 2))

	for i := 0; i < 5; i++ {
		e.Emit(context.Background(), "extract", KindUnparseableBlock, "bad block")
	}
	assert.Len(t, sink.Events(), 5)
	assert.Equal(t, 2, strings.Count(buf.String(), "bad block"))
}

func TestEmit_WithoutEmitterUsesFallback(t *testing.T) {
	assert.NotPanics(t, func() {
		Emit(context.Background(), "stream", KindSlotBoundary, "boundary")
		Emit(nil, "stream", KindSlotBoundary, "boundary") //nolint:staticcheck
	})
}
