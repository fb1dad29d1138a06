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
	"sync"
	"time"
)

// Event is a non-fatal diagnostic.
type Event struct {
	CorrelationID string
	Component     string
	Kind          string
	Message       string
	Attrs         map[string]any
	Time          time.Time
}

// Sink receives diagnostics.
type Sink interface {
	Handle(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Handle calls f(e).
func (f SinkFunc) Handle(e Event) { f(e) }

// Bus delivers events to sinks subscribed to a correlation id, and to sinks
// subscribed to every event.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	byTurn map[string]map[int]Sink
	all    map[int]Sink
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		byTurn: make(map[string]map[int]Sink),
		all:    make(map[int]Sink),
	}
}

// Subscribe registers s for events carrying correlationID. The returned
// function removes the subscription.
func (b *Bus) Subscribe(correlationID string, s Sink) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	subs, ok := b.byTurn[correlationID]
	if !ok {
		subs = make(map[int]Sink)
		b.byTurn[correlationID] = subs
	}
	subs[id] = s
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if subs, ok := b.byTurn[correlationID]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(b.byTurn, correlationID)
			}
		}
	}
}

// SubscribeAll registers s for every event.
func (b *Bus) SubscribeAll(s Sink) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.all[id] = s
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.all, id)
	}
}

// Publish delivers e. Sinks run synchronously outside the bus lock.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	sinks := make([]Sink, 0, len(b.all)+len(b.byTurn[e.CorrelationID]))
	for _, s := range b.all {
		sinks = append(sinks, s)
	}
	if e.CorrelationID != "" {
		for _, s := range b.byTurn[e.CorrelationID] {
			sinks = append(sinks, s)
		}
	}
	b.mu.RUnlock()
	for _, s := range sinks {
		s.Handle(e)
	}
}

// Collector is a Sink that keeps every event it receives.
type Collector struct {
	mu     sync.Mutex
	events []Event
}

// Handle records e.
func (c *Collector) Handle(e Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (c *Collector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

// Kinds returns the recorded event kinds in order.
func (c *Collector) Kinds() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	kinds := make([]string, len(c.events))
	for i, e := range c.events {
		kinds[i] = e.Kind
	}
	return kinds
}
