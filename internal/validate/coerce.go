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

package validate

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"toolwire/internal/jsonrepair"
	"toolwire/internal/toolcall"
)

// matchesType reports whether v already has type t. Integers decoded from
// JSON arrive as float64 and count as integers when integral.
func matchesType(v any, t ParamType) bool {
	switch t {
	case "":
		return true
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeInteger:
		f, ok := toFloat(v)
		return ok && f == math.Trunc(f) && !math.IsInf(f, 0)
	case TypeNumber:
		_, ok := toFloat(v)
		return ok
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeArray:
		switch v.(type) {
		case []any, []string:
			return true
		}
		return false
	case TypeObject:
		switch v.(type) {
		case map[string]any, *toolcall.Args:
			return true
		}
		return false
	}
	return false
}

// coerce converts v to t. Strings parse to numbers, booleans, arrays and
// objects; scalars become strings or single-element arrays.
func coerce(v any, t ParamType) (any, bool) {
	if matchesType(v, t) {
		return v, true
	}
	switch t {
	case TypeString:
		switch x := v.(type) {
		case bool:
			return strconv.FormatBool(x), true
		case map[string]any, []any, *toolcall.Args:
			data, err := json.Marshal(x)
			if err != nil {
				return nil, false
			}
			return string(data), true
		}
		if f, ok := toFloat(v); ok {
			return strconv.FormatFloat(f, 'f', -1, 64), true
		}
	case TypeInteger:
		if s, ok := v.(string); ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err == nil && f == math.Trunc(f) && !math.IsInf(f, 0) {
				return f, true
			}
		}
		if b, ok := v.(bool); ok {
			return boolNumber(b), true
		}
	case TypeNumber:
		if s, ok := v.(string); ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
				return f, true
			}
		}
	case TypeBoolean:
		if s, ok := v.(string); ok {
			switch strings.ToLower(strings.TrimSpace(s)) {
			case "true", "yes", "1", "on", "y":
				return true, true
			case "false", "no", "0", "off", "n":
				return false, true
			}
		}
		if f, ok := toFloat(v); ok && (f == 0 || f == 1) {
			return f == 1, true
		}
	case TypeArray:
		switch x := v.(type) {
		case string:
			return stringToArray(x), true
		case map[string]any, *toolcall.Args:
			return nil, false
		case nil:
			return nil, false
		default:
			return []any{x}, true
		}
	case TypeObject:
		if s, ok := v.(string); ok {
			fixed, err := jsonrepair.Repair(s)
			if err != nil {
				return nil, false
			}
			var m map[string]any
			if json.Unmarshal([]byte(fixed), &m) == nil && m != nil {
				return m, true
			}
		}
	}
	return nil, false
}

// stringToArray reads a bracketed JSON list, a comma-separated list, or a
// single value.
func stringToArray(s string) []any {
	t := strings.TrimSpace(s)
	if strings.HasPrefix(t, "[") {
		var arr []any
		if fixed, err := jsonrepair.Repair(t); err == nil && json.Unmarshal([]byte(fixed), &arr) == nil {
			return arr
		}
		t = strings.TrimSuffix(strings.TrimPrefix(t, "["), "]")
	}
	if t == "" {
		return []any{}
	}
	if !strings.Contains(t, ",") {
		return []any{unquote(t)}
	}
	parts := strings.Split(t, ",")
	out := make([]any, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, unquote(p))
		}
	}
	return out
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}
	return 0, false
}

func boolNumber(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// zeroValue is the value Repair fills for a required parameter with no default.
func zeroValue(t ParamType) any {
	switch t {
	case TypeInteger, TypeNumber:
		return float64(0)
	case TypeBoolean:
		return false
	case TypeArray:
		return []any{}
	case TypeObject:
		return map[string]any{}
	default:
		return ""
	}
}
