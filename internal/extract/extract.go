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

// Package extract locates tool calls in free-form model output.
//
// Several encodings are recognised (delimiter tags, fenced blocks, wrapper
// objects, bare objects, pipe markers and XML invoke blocks). Strategies run
// in the order chosen by the model's Family and the first one that yields
// at least one call wins; results are never merged across strategies.
package extract

import (
	"context"
	"log/slog"
	"time"

	"toolwire/internal/observe"
	"toolwire/internal/toolcall"
	"toolwire/pkg/metrics"
	"toolwire/pkg/tracing"
)

// Issue is a non-fatal problem with one located block.
type Issue struct {
	Strategy Strategy
	Offset   int
	Snippet  string
	Reason   string
}

// Result of one extraction.
type Result struct {
	Invocations []*toolcall.Invocation
	Issues      []Issue
	// Strategy that produced the invocations; empty when none did.
	Strategy Strategy
	// Remainder is the text with the winning strategy's calls removed.
	Remainder string
}

// Extractor finds tool calls in text.
type Extractor struct {
	families *Families
	tagNames []string
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithFamilies sets the model-family table.
func WithFamilies(f *Families) Option {
	return func(e *Extractor) {
		if f != nil {
			e.families = f
		}
	}
}

// WithTagNames sets the delimiter tags for the tagged strategy.
func WithTagNames(tags ...string) Option {
	return func(e *Extractor) {
		if len(tags) > 0 {
			e.tagNames = tags
		}
	}
}

// New creates an Extractor.
func New(opts ...Option) *Extractor {
	e := &Extractor{
		families: BuiltinFamilies(),
		tagNames: DefaultTagNames,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Families returns the extractor's family table.
func (e *Extractor) Families() *Families { return e.families }

// Extract finds tool calls in text using the family selected by the model
// of the turn on ctx (the default family when there is none).
func (e *Extractor) Extract(ctx context.Context, text string) *Result {
	model := ""
	if turn, ok := observe.TurnFrom(ctx); ok {
		model = turn.Model
	}
	return e.ExtractWith(ctx, text, e.families.Select(model))
}

// ExtractWith finds tool calls in text using family.
func (e *Extractor) ExtractWith(ctx context.Context, text string, family Family) *Result {
	ctx, span := tracing.StartExtractSpan(ctx, family.Name, len(text))
	defer span.End()
	began := time.Now()

	if family.has(CleanupStripThinking) {
		text = stripThinking(text)
	}
	res := &Result{}
	var normalized string
	normalizedReady := false

	for _, st := range family.Strategies {
		src := text
		var ms []match
		switch st {
		case StrategyTagged:
			ms = taggedMatches(src, e.tagNames)
		case StrategyFenced:
			ms = fencedMatches(src)
		case StrategyWrapper, StrategyBare:
			if !normalizedReady {
				normalized = normalizeObjects(text, family.has(CleanupCollapseSeparators), family.has(CleanupDropStrayBraces))
				normalizedReady = true
			}
			src = normalized
			if st == StrategyWrapper {
				ms = wrapperMatches(src)
			} else {
				ms = bareMatches(src)
			}
		case StrategyPipe:
			ms = pipeMatches(src)
		case StrategyInvoke:
			ms = invokeMatches(src)
		}

		found := 0
		for _, m := range ms {
			if m.err != nil {
				res.Issues = append(res.Issues, Issue{
					Strategy: st,
					Offset:   m.start,
					Snippet:  snippet(src[m.start:m.end]),
					Reason:   m.err.Error(),
				})
				continue
			}
			found += len(m.invs)
		}
		if found == 0 {
			continue
		}

		seen := make(map[string]struct{})
		for _, m := range ms {
			for _, inv := range m.invs {
				key := inv.CanonicalKey()
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				res.Invocations = append(res.Invocations, inv)
			}
		}
		res.Strategy = st
		res.Remainder = tidyRemainder(cut(src, ms))
		break
	}
	if res.Strategy == "" {
		res.Remainder = tidyRemainder(text)
	}

	for _, is := range res.Issues {
		observe.Emit(ctx, "extract", observe.KindUnparseableBlock, "skipped unparseable tool call block",
			slog.String("strategy", string(is.Strategy)),
			slog.Int("offset", is.Offset),
			slog.String("reason", is.Reason),
			slog.String("snippet", is.Snippet),
		)
	}
	label := string(res.Strategy)
	if label == "" {
		label = "none"
	}
	metrics.ExtractTotal.WithLabelValues(label).Inc()
	metrics.ExtractInvocations.WithLabelValues(label).Add(float64(len(res.Invocations)))
	metrics.ExtractDuration.Observe(time.Since(began).Seconds())
	return res
}

func snippet(s string) string {
	const limit = 120
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
