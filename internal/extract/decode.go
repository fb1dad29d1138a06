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
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"toolwire/internal/jsonrepair"
	"toolwire/internal/toolcall"
)

type rawObject = orderedmap.OrderedMap[string, json.RawMessage]

var (
	nameKeys    = []string{"name", "tool", "function"}
	argKeys     = []string{"arguments", "parameters", "input"}
	idKeys      = []string{"id", "call_id", "tool_call_id"}
	wrapperKeys = []string{"tool_call", "tool_calls", "function_call"}
)

var (
	errNoName     = errors.New("object has no tool name")
	errBadPayload = errors.New("payload is not a json object")
)

// decodePayload repairs raw and decodes every invocation in it. raw may be a
// call object, a wrapper object or an array of either.
func decodePayload(raw string) ([]*toolcall.Invocation, error) {
	fixed, err := jsonrepair.Repair(raw)
	if err != nil {
		return nil, err
	}
	return decodeValue(json.RawMessage(fixed))
}

func decodeValue(raw json.RawMessage) ([]*toolcall.Invocation, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, errBadPayload
	}
	switch raw[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, err
		}
		var out []*toolcall.Invocation
		for _, item := range items {
			invs, err := decodeValue(item)
			if err != nil {
				return nil, err
			}
			out = append(out, invs...)
		}
		return out, nil
	case '{':
		obj, err := decodeRawObject(raw)
		if err != nil {
			return nil, err
		}
		if inner, ok := wrapped(obj); ok {
			return decodeValue(inner)
		}
		inv, err := decodeFields(obj)
		if err != nil {
			return nil, err
		}
		return []*toolcall.Invocation{inv}, nil
	default:
		return nil, errBadPayload
	}
}

func decodeRawObject(raw []byte) (*rawObject, error) {
	obj := orderedmap.New[string, json.RawMessage]()
	if err := json.Unmarshal(raw, obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// wrapped returns the value under a wrapper key when the object carries no
// tool name of its own.
func wrapped(obj *rawObject) (json.RawMessage, bool) {
	if hasAny(obj, nameKeys...) {
		return nil, false
	}
	for _, k := range wrapperKeys {
		if v, ok := obj.Get(k); ok {
			v = bytes.TrimSpace(v)
			if len(v) > 0 && (v[0] == '{' || v[0] == '[') {
				return v, true
			}
		}
	}
	return nil, false
}

// decodeFields reads one call object. The name comes from name, tool or
// function (a nested function object is read recursively), the arguments
// from arguments, parameters or input (object or JSON string); without an
// arguments key every other key is an argument.
func decodeFields(obj *rawObject) (*toolcall.Invocation, error) {
	var (
		name  string
		inner *toolcall.Invocation
	)
	for _, k := range nameKeys {
		v, ok := obj.Get(k)
		if !ok {
			continue
		}
		if isObject(v) {
			nested, err := decodeRawObject(v)
			if err != nil {
				return nil, err
			}
			if in, err := decodeFields(nested); err == nil {
				inner = in
				name = in.ToolID
				break
			}
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil && strings.TrimSpace(s) != "" {
			name = strings.TrimSpace(s)
			break
		}
	}
	if name == "" {
		return nil, errNoName
	}

	inv := toolcall.New(name, "")
	for _, k := range idKeys {
		if v, ok := obj.Get(k); ok {
			var s string
			if json.Unmarshal(v, &s) == nil && s != "" {
				inv.CallID = s
				break
			}
		}
	}
	if inv.CallID == "" && inner != nil {
		inv.CallID = inner.CallID
	}

	for _, k := range argKeys {
		v, ok := obj.Get(k)
		if !ok {
			continue
		}
		args, err := decodeArguments(v)
		if err != nil {
			return nil, err
		}
		inv.Arguments = args
		return inv, nil
	}
	if inner != nil {
		inv.Arguments = inner.Arguments
		return inv, nil
	}

	for pair := obj.Oldest(); pair != nil; pair = pair.Next() {
		if isReserved(pair.Key, pair.Value) {
			continue
		}
		var val any
		if err := json.Unmarshal(pair.Value, &val); err != nil {
			return nil, err
		}
		inv.Set(pair.Key, val)
	}
	return inv, nil
}

func decodeArguments(v json.RawMessage) (*toolcall.Args, error) {
	v = bytes.TrimSpace(v)
	switch {
	case len(v) == 0 || bytes.Equal(v, []byte("null")):
		return toolcall.NewArgs(), nil
	case v[0] == '"':
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return nil, err
		}
		return toolcall.ParseArguments(s)
	case v[0] == '{':
		return toolcall.DecodeObject(v)
	default:
		return nil, errBadPayload
	}
}

func isReserved(key string, v json.RawMessage) bool {
	for _, k := range nameKeys {
		if key == k {
			return true
		}
	}
	for _, k := range idKeys {
		if key == k {
			return true
		}
	}
	if key == "type" {
		var s string
		if json.Unmarshal(v, &s) == nil && (s == "function" || s == "tool_use") {
			return true
		}
	}
	return false
}

func hasAny(obj *rawObject, keys ...string) bool {
	for _, k := range keys {
		if _, ok := obj.Get(k); ok {
			return true
		}
	}
	return false
}

func isObject(v json.RawMessage) bool {
	v = bytes.TrimSpace(v)
	return len(v) > 0 && v[0] == '{'
}
