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
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"toolwire/pkg/metrics"
)

// Diagnostic kinds.
const (
	KindUnparseableBlock  = "unparseable_block"
	KindUnrecoverableArgs = "unrecoverable_arguments"
	KindSlotBoundary      = "slot_boundary"
	KindOrphanCall        = "orphan_call"
	KindOrphanResult      = "orphan_result"
	KindDuplicateResult   = "duplicate_result"
	KindMissingCallID     = "missing_call_id"
	KindCompressed        = "compressed"
	KindRepaired          = "repaired"
	KindUnknownTool       = "unknown_tool"
	KindResultTruncated   = "result_truncated"
)

// Emitter turns diagnostics into log lines, metric increments, span events
// and bus deliveries. Log lines are rate limited per kind; the other
// outputs are not.
type Emitter struct {
	logger *slog.Logger
	bus    *Bus
	limit  rate.Limit
	burst  int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) EmitterOption {
	return func(e *Emitter) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithBus sets the bus events are published to.
func WithBus(b *Bus) EmitterOption {
	return func(e *Emitter) { e.bus = b }
}

// WithLogRate sets the per-kind log rate.
func WithLogRate(perSecond float64, burst int) EmitterOption {
	return func(e *Emitter) {
		e.limit = rate.Limit(perSecond)
		e.burst = burst
	}
}

// NewEmitter creates an Emitter.
func NewEmitter(opts ...EmitterOption) *Emitter {
	e := &Emitter{
		limit:    rate.Limit(5),
		burst:    10,
		limiters: make(map[string]*rate.Limiter),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Bus returns the emitter's bus, which may be nil.
func (e *Emitter) Bus() *Bus { return e.bus }

// Emit records one diagnostic.
func (e *Emitter) Emit(ctx context.Context, component, kind, msg string, attrs ...slog.Attr) {
	if ctx == nil {
		ctx = context.Background()
	}
	ev := Event{
		CorrelationID: CorrelationID(ctx),
		Component:     component,
		Kind:          kind,
		Message:       msg,
		Time:          time.Now(),
	}
	if len(attrs) > 0 {
		ev.Attrs = make(map[string]any, len(attrs))
		for _, a := range attrs {
			ev.Attrs[a.Key] = a.Value.Any()
		}
	}

	metrics.DiagnosticsTotal.WithLabelValues(component, kind).Inc()

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		kvs := []attribute.KeyValue{
			attribute.String("component", component),
			attribute.String("message", msg),
		}
		for _, a := range attrs {
			kvs = append(kvs, attribute.String(a.Key, a.Value.String()))
		}
		span.AddEvent(kind, trace.WithAttributes(kvs...))
	}

	if e.allow(kind) {
		all := make([]slog.Attr, 0, len(attrs)+3)
		all = append(all,
			slog.String("component", component),
			slog.String("kind", kind),
			slog.String("correlation_id", ev.CorrelationID),
		)
		all = append(all, attrs...)
		logger := e.logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.LogAttrs(ctx, slog.LevelWarn, msg, all...)
	}

	if e.bus != nil {
		e.bus.Publish(ev)
	}
}

func (e *Emitter) allow(kind string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	lim, ok := e.limiters[kind]
	if !ok {
		lim = rate.NewLimiter(e.limit, e.burst)
		e.limiters[kind] = lim
	}
	return lim.Allow()
}

type emitterKey struct{}

// WithEmitter attaches e to ctx; Emit uses it.
func WithEmitter(ctx context.Context, e *Emitter) context.Context {
	if e == nil {
		return ctx
	}
	return context.WithValue(ctx, emitterKey{}, e)
}

var fallback = NewEmitter()

// EmitterFrom returns the emitter on ctx, or a logging-only fallback.
func EmitterFrom(ctx context.Context) *Emitter {
	if ctx != nil {
		if e, ok := ctx.Value(emitterKey{}).(*Emitter); ok && e != nil {
			return e
		}
	}
	return fallback
}

// Emit records a diagnostic through the emitter attached to ctx.
func Emit(ctx context.Context, component, kind, msg string, attrs ...slog.Attr) {
	EmitterFrom(ctx).Emit(ctx, component, kind, msg, attrs...)
}
