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

// Package stream reassembles tool calls from incrementally streamed fragments.
package stream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"

	"toolwire/internal/jsonrepair"
	"toolwire/internal/observe"
	"toolwire/internal/toolcall"
	"toolwire/pkg/metrics"
)

// RawArgumentsKey holds an argument buffer that could not be repaired into JSON.
const RawArgumentsKey = "_raw_arguments"

// Fragment is one streamed piece of a tool call.
type Fragment struct {
	SlotIndex      *int
	ID             string
	Name           string
	ArgumentsDelta string
	Finished       bool
}

// Slot is a tool call under construction.
type Slot struct {
	// Index is the stream index the slot was opened for. Reopened is 0 for
	// the slot the stream opened and n for the nth slot opened on that
	// index by the boundary rule.
	Index      int
	Reopened   int
	ID         string
	Name       string
	Arguments  string
	ChunkCount int
	Complete   bool
	StartedAt  time.Time
}

// Accumulator collects fragments into slots for the duration of one response.
// It is safe for a producer and a consumer to use concurrently.
type Accumulator struct {
	mu       sync.Mutex
	slots    map[slotKey]*Slot
	order    []slotKey
	redirect map[int]slotKey
	last     slotKey
	hasLast  bool
	reopened int
	now      func() time.Time
}

// slotKey keeps slots opened by the boundary rule apart from every stream index.
type slotKey struct {
	index    int
	reopened int
}

// NewAccumulator creates an empty Accumulator.
func NewAccumulator() *Accumulator {
	a := &Accumulator{now: time.Now}
	a.reset()
	return a
}

// Accumulate applies one fragment.
//
// A fragment without a slot index goes to the most recently opened slot.
// When a fragment names a different tool than its slot while the slot's
// buffer already holds one complete JSON object, the slot is closed and a
// new one is opened; later fragments for that stream index go to the new
// slot. This boundary rule is a heuristic for providers that reuse indexes.
func (a *Accumulator) Accumulate(ctx context.Context, f Fragment) {
	metrics.StreamFragments.Inc()

	a.mu.Lock()
	if f.Finished && f.ID == "" && f.Name == "" && f.ArgumentsDelta == "" {
		a.finishAll()
		a.mu.Unlock()
		return
	}

	var key slotKey
	switch {
	case f.SlotIndex != nil:
		key = slotKey{index: *f.SlotIndex}
		if r, ok := a.redirect[*f.SlotIndex]; ok {
			key = r
		}
	case a.hasLast:
		key = a.last
	}
	slot, ok := a.slots[key]
	if !ok {
		slot = a.open(key)
	}

	boundary := false
	var prevName string
	var prevIdx int
	if f.Name != "" && slot.Name != "" && f.Name != slot.Name && jsonrepair.IsCompleteObject(slot.Arguments) {
		slot.Complete = true
		boundary, prevName, prevIdx = true, slot.Name, slot.Index
		a.reopened++
		next := slotKey{index: slot.Index, reopened: a.reopened}
		a.redirect[slot.Index] = next
		slot = a.open(next)
	}

	if f.ID != "" {
		slot.ID = f.ID
	}
	if f.Name != "" {
		slot.Name = f.Name
	}
	slot.Arguments += f.ArgumentsDelta
	slot.ChunkCount++
	if f.Finished {
		a.finishAll()
	}
	a.mu.Unlock()

	if boundary {
		observe.Emit(ctx, "stream", observe.KindSlotBoundary, "tool name changed after complete arguments, opened new slot",
			slog.String("previous", prevName),
			slog.String("next", f.Name),
			slog.Int("slot", prevIdx),
		)
	}
}

// DrainCompleted removes and returns complete, named slots as invocations,
// in the order the slots were opened. Complete slots without a name stay
// until Reset.
func (a *Accumulator) DrainCompleted(ctx context.Context) []*toolcall.Invocation {
	a.mu.Lock()
	var drained []*Slot
	kept := a.order[:0]
	for _, key := range a.order {
		s := a.slots[key]
		if s.Complete && s.Name != "" {
			drained = append(drained, s)
			delete(a.slots, key)
			continue
		}
		kept = append(kept, key)
	}
	a.order = kept
	a.mu.Unlock()

	out := make([]*toolcall.Invocation, 0, len(drained))
	for _, s := range drained {
		inv := toolcall.New(s.Name, s.ID)
		args, err := toolcall.ParseArguments(s.Arguments)
		if err != nil {
			inv.Set(RawArgumentsKey, s.Arguments)
			observe.Emit(ctx, "stream", observe.KindUnrecoverableArgs, "argument buffer is not repairable json",
				slog.String("tool", s.Name),
				slog.Int("slot", s.Index),
				slog.String("error", err.Error()),
			)
		} else {
			inv.Arguments = args
		}
		out = append(out, inv)
	}
	return out
}

// PeekAll returns copies of the current slots in open order without
// removing them.
func (a *Accumulator) PeekAll(includeIncomplete bool) []Slot {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Slot, 0, len(a.order))
	for _, key := range a.order {
		s := a.slots[key]
		if !includeIncomplete && !s.Complete {
			continue
		}
		out = append(out, *s)
	}
	return out
}

// Len returns the number of slots held.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.slots)
}

// Reset discards all state. Call it at the start of each response.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reset()
}

func (a *Accumulator) reset() {
	a.slots = make(map[slotKey]*Slot)
	a.order = nil
	a.redirect = make(map[int]slotKey)
	a.last = slotKey{}
	a.hasLast = false
	a.reopened = 0
}

func (a *Accumulator) open(key slotKey) *Slot {
	s := &Slot{Index: key.index, Reopened: key.reopened, StartedAt: a.now()}
	a.slots[key] = s
	a.order = append(a.order, key)
	a.last = key
	a.hasLast = true
	return s
}

func (a *Accumulator) finishAll() {
	for _, s := range a.slots {
		s.Complete = true
	}
}

// FragmentsFromMessage converts an eino streaming chunk into fragments.
// A chunk carrying a finish reason yields a trailing Finished fragment.
func FragmentsFromMessage(msg *schema.Message) []Fragment {
	if msg == nil {
		return nil
	}
	frags := make([]Fragment, 0, len(msg.ToolCalls)+1)
	for _, tc := range msg.ToolCalls {
		f := Fragment{
			ID:             tc.ID,
			Name:           tc.Function.Name,
			ArgumentsDelta: tc.Function.Arguments,
		}
		if tc.Index != nil {
			idx := *tc.Index
			f.SlotIndex = &idx
		}
		frags = append(frags, f)
	}
	if msg.ResponseMeta != nil && msg.ResponseMeta.FinishReason != "" {
		frags = append(frags, Fragment{Finished: true})
	}
	return frags
}
