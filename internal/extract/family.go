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

package extract

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"toolwire/pkg/config"
	"toolwire/pkg/errors"
)

// Strategy names one way of encoding tool calls in model text.
type Strategy string

const (
	StrategyTagged  Strategy = "tagged"  // <tool_call>{...}</tool_call>
	StrategyFenced  Strategy = "fenced"  // ```json {...} ```
	StrategyWrapper Strategy = "wrapper" // {"tool_call": {...}}
	StrategyBare    Strategy = "bare"    // {"name": ..., "arguments": {...}}
	StrategyPipe    Strategy = "pipe"    // <|tool_call_begin|> name <|tool_call_argument_begin|> {...} <|tool_call_end|>
	StrategyInvoke  Strategy = "invoke"  // <invoke name="..."><parameter name="...">v</parameter></invoke>
)

// Cleanup names a normalization rule applied before object scanning.
type Cleanup string

const (
	CleanupCollapseSeparators Cleanup = "collapse_separators"
	CleanupDropStrayBraces    Cleanup = "drop_stray_braces"
	CleanupStripThinking      Cleanup = "strip_thinking"
)

// AllStrategies is the most permissive strategy order.
var AllStrategies = []Strategy{
	StrategyTagged, StrategyFenced, StrategyWrapper, StrategyBare, StrategyPipe, StrategyInvoke,
}

// AllCleanups enables every cleanup rule.
var AllCleanups = []Cleanup{CleanupStripThinking, CleanupCollapseSeparators, CleanupDropStrayBraces}

// Family is the extraction behaviour for models whose name starts with one of Prefixes.
type Family struct {
	Name       string
	Prefixes   []string
	Strategies []Strategy
	Cleanup    []Cleanup
}

func (f Family) has(c Cleanup) bool {
	for _, x := range f.Cleanup {
		if x == c {
			return true
		}
	}
	return false
}

// DefaultFamily tries every strategy with every cleanup rule.
func DefaultFamily() Family {
	return Family{
		Name:       "default",
		Strategies: append([]Strategy(nil), AllStrategies...),
		Cleanup:    append([]Cleanup(nil), AllCleanups...),
	}
}

// Families selects a Family by model name.
type Families struct {
	mu       sync.RWMutex
	def      Family
	families map[string]Family
}

// NewFamilies creates a table with def as the fallback.
func NewFamilies(def Family, families ...Family) *Families {
	t := &Families{def: def, families: make(map[string]Family)}
	for _, f := range families {
		t.families[f.Name] = f
	}
	return t
}

// BuiltinFamilies returns the table used when no configuration overrides it.
func BuiltinFamilies() *Families {
	structured := []Strategy{StrategyTagged, StrategyFenced, StrategyWrapper, StrategyBare}
	return NewFamilies(DefaultFamily(),
		Family{
			Name:       "kimi",
			Prefixes:   []string{"kimi", "moonshot"},
			Strategies: append([]Strategy{StrategyPipe}, structured...),
			Cleanup:    AllCleanups,
		},
		Family{
			Name:       "claude",
			Prefixes:   []string{"claude", "anthropic"},
			Strategies: append([]Strategy{StrategyInvoke}, structured...),
			Cleanup:    []Cleanup{CleanupCollapseSeparators, CleanupDropStrayBraces},
		},
		Family{
			Name:       "reasoning",
			Prefixes:   []string{"deepseek", "qwen", "qwq"},
			Strategies: structured,
			Cleanup:    AllCleanups,
		},
		Family{
			Name:       "openai",
			Prefixes:   []string{"gpt", "o1", "o3", "o4"},
			Strategies: []Strategy{StrategyFenced, StrategyWrapper, StrategyBare},
			Cleanup:    []Cleanup{CleanupCollapseSeparators, CleanupDropStrayBraces},
		},
	)
}

// Register adds or replaces a family.
func (t *Families) Register(f Family) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if f.Name == t.def.Name {
		t.def = f
		return
	}
	t.families[f.Name] = f
}

// Default returns the fallback family.
func (t *Families) Default() Family {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.def
}

// Get returns the family registered under name.
func (t *Families) Get(name string) (Family, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if name == t.def.Name {
		return t.def, true
	}
	f, ok := t.families[name]
	return f, ok
}

// Names returns the registered family names, sorted, default first.
func (t *Families) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.families))
	for n := range t.families {
		names = append(names, n)
	}
	sort.Strings(names)
	return append([]string{t.def.Name}, names...)
}

// Select returns the family with the longest prefix of model
// (case-insensitive), or the default family.
func (t *Families) Select(model string) Family {
	t.mu.RLock()
	defer t.mu.RUnlock()
	model = strings.ToLower(strings.TrimSpace(model))
	best, bestLen := t.def, 0
	if model == "" {
		return best
	}
	for _, f := range t.families {
		for _, p := range f.Prefixes {
			p = strings.ToLower(p)
			if p != "" && strings.HasPrefix(model, p) && len(p) > bestLen {
				best, bestLen = f, len(p)
			}
		}
	}
	return best
}

// FamiliesFromConfig overlays configured families on the built-in table.
// A configured family named like the default family (or cfg.DefaultFamily)
// replaces the fallback.
func FamiliesFromConfig(cfg config.ExtractConfig) (*Families, error) {
	table := BuiltinFamilies()
	names := make([]string, 0, len(cfg.Families))
	for n := range cfg.Families {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, name := range names {
		fc := cfg.Families[name]
		f := Family{Name: name, Prefixes: fc.Prefixes}
		for _, s := range fc.Strategies {
			st, err := ParseStrategy(s)
			if err != nil {
				return nil, errors.Wrapf(err, "family %s", name)
			}
			f.Strategies = append(f.Strategies, st)
		}
		if len(f.Strategies) == 0 {
			f.Strategies = append([]Strategy(nil), AllStrategies...)
		}
		for _, c := range fc.Cleanup {
			cl, err := ParseCleanup(c)
			if err != nil {
				return nil, errors.Wrapf(err, "family %s", name)
			}
			f.Cleanup = append(f.Cleanup, cl)
		}
		table.Register(f)
	}
	if cfg.DefaultFamily != "" && cfg.DefaultFamily != table.def.Name {
		f, ok := table.Get(cfg.DefaultFamily)
		if !ok {
			return nil, errors.Wrapf(errors.ErrNotFound, "default family %s", cfg.DefaultFamily)
		}
		table.mu.Lock()
		table.def = f
		table.mu.Unlock()
	}
	return table, nil
}

// ParseStrategy validates a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	st := Strategy(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllStrategies {
		if st == known {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown strategy %q: %w", s, errors.ErrInvalidArg)
}

// ParseCleanup validates a cleanup rule name.
func ParseCleanup(s string) (Cleanup, error) {
	c := Cleanup(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllCleanups {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown cleanup %q: %w", s, errors.ErrInvalidArg)
}
