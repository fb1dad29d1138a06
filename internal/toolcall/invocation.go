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

// Package toolcall holds the invocation model shared by the extractor,
// the validator and the conversation history.
package toolcall

import (
	"bytes"
	"encoding/json"
	"sort"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"toolwire/internal/jsonrepair"
	"toolwire/pkg/errors"
)

// Args is an argument map that remembers insertion order.
type Args = orderedmap.OrderedMap[string, any]

// Invocation 一次工具调用：工具名、有序参数、调用 ID（可为空）
type Invocation struct {
	ToolID    string
	Arguments *Args
	CallID    string
}

// NewArgs returns an empty argument map.
func NewArgs() *Args {
	return orderedmap.New[string, any]()
}

// New creates an invocation with no arguments.
func New(toolID, callID string) *Invocation {
	return &Invocation{ToolID: toolID, CallID: callID, Arguments: NewArgs()}
}

// FromMap builds an invocation whose arguments are m's entries in key order.
func FromMap(toolID, callID string, m map[string]any) *Invocation {
	inv := New(toolID, callID)
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		inv.Arguments.Set(k, m[k])
	}
	return inv
}

// Set adds or replaces an argument and returns the invocation for chaining.
func (inv *Invocation) Set(key string, value any) *Invocation {
	inv.args().Set(key, value)
	return inv
}

// Arg returns the argument stored under key.
func (inv *Invocation) Arg(key string) (any, bool) {
	if inv.Arguments == nil {
		return nil, false
	}
	return inv.Arguments.Get(key)
}

// Keys returns argument names in insertion order.
func (inv *Invocation) Keys() []string {
	if inv.Arguments == nil {
		return nil
	}
	keys := make([]string, 0, inv.Arguments.Len())
	for pair := inv.Arguments.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// Map returns the arguments as a plain map.
func (inv *Invocation) Map() map[string]any {
	out := make(map[string]any)
	if inv.Arguments == nil {
		return out
	}
	for pair := inv.Arguments.Oldest(); pair != nil; pair = pair.Next() {
		out[pair.Key] = plain(pair.Value)
	}
	return out
}

// Clone returns a deep copy.
func (inv *Invocation) Clone() *Invocation {
	if inv == nil {
		return nil
	}
	out := New(inv.ToolID, inv.CallID)
	if inv.Arguments != nil {
		for pair := inv.Arguments.Oldest(); pair != nil; pair = pair.Next() {
			out.Arguments.Set(pair.Key, CloneValue(pair.Value))
		}
	}
	return out
}

// ArgumentsJSON encodes the arguments as a JSON object in insertion order.
func (inv *Invocation) ArgumentsJSON() string {
	if inv.Arguments == nil || inv.Arguments.Len() == 0 {
		return "{}"
	}
	data, err := json.Marshal(inv.Arguments)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// CanonicalKey identifies an invocation by tool and argument content,
// independent of argument order and call id.
func (inv *Invocation) CanonicalKey() string {
	data, err := json.Marshal(inv.Map())
	if err != nil {
		data = []byte(inv.ArgumentsJSON())
	}
	return inv.ToolID + "\x00" + string(data)
}

type wireInvocation struct {
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// MarshalJSON encodes {"id", "name", "arguments"} with arguments in order.
func (inv Invocation) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireInvocation{
		ID:        inv.CallID,
		Name:      inv.ToolID,
		Arguments: json.RawMessage(inv.ArgumentsJSON()),
	})
}

// UnmarshalJSON decodes the MarshalJSON form. Arguments may also be a JSON string.
func (inv *Invocation) UnmarshalJSON(data []byte) error {
	var w wireInvocation
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	inv.ToolID = w.Name
	inv.CallID = w.ID
	inv.Arguments = NewArgs()
	raw := bytes.TrimSpace(w.Arguments)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		args, err := ParseArguments(s)
		if err != nil {
			return err
		}
		inv.Arguments = args
		return nil
	}
	args, err := DecodeObject(raw)
	if err != nil {
		return err
	}
	inv.Arguments = args
	return nil
}

// DecodeObject decodes a JSON object keeping the top-level key order.
func DecodeObject(data []byte) (*Args, error) {
	args := NewArgs()
	if err := json.Unmarshal(data, args); err != nil {
		return nil, errors.Wrap(err, "decode arguments")
	}
	return args, nil
}

// ParseArguments repairs raw model output and decodes it as an argument object.
func ParseArguments(raw string) (*Args, error) {
	fixed, err := jsonrepair.Repair(raw)
	if err != nil {
		return nil, err
	}
	return DecodeObject([]byte(fixed))
}

// CloneValue deep-copies a JSON-like value.
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = CloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = CloneValue(e)
		}
		return out
	case *Args:
		out := NewArgs()
		for pair := t.Oldest(); pair != nil; pair = pair.Next() {
			out.Set(pair.Key, CloneValue(pair.Value))
		}
		return out
	default:
		return v
	}
}

func plain(v any) any {
	switch t := v.(type) {
	case *Args:
		out := make(map[string]any, t.Len())
		for pair := t.Oldest(); pair != nil; pair = pair.Next() {
			out[pair.Key] = plain(pair.Value)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = plain(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = plain(e)
		}
		return out
	default:
		return v
	}
}

func (inv *Invocation) args() *Args {
	if inv.Arguments == nil {
		inv.Arguments = NewArgs()
	}
	return inv.Arguments
}
