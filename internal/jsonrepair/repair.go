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

package jsonrepair

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/jsonc"

	"toolwire/pkg/errors"
)

// Repair turns a model-produced argument payload into valid JSON text.
//
// The steps are tried in order and the first valid result wins:
// code fences are stripped, comments and trailing commas are removed,
// the first balanced object is taken when trailing junk follows it,
// Python-style literals, single quotes and bare keys are normalized,
// and finally unterminated strings and containers are closed.
// An empty payload repairs to "{}".
func Repair(raw string) (string, error) {
	s := stripFence(strings.TrimSpace(raw))
	if s == "" {
		return "{}", nil
	}
	if json.Valid([]byte(s)) {
		return s, nil
	}

	s = strings.TrimSpace(string(jsonc.ToJSON([]byte(s))))
	if json.Valid([]byte(s)) {
		return s, nil
	}
	if obj, ok := FirstObject(s); ok && json.Valid([]byte(obj)) {
		return obj, nil
	}

	s = normalizeTokens(s)
	if json.Valid([]byte(s)) {
		return s, nil
	}
	if obj, ok := FirstObject(s); ok {
		if fixed := string(jsonc.ToJSON([]byte(obj))); json.Valid([]byte(fixed)) {
			return fixed, nil
		}
	}

	for _, candidate := range closeOpen(s) {
		candidate = string(jsonc.ToJSON([]byte(candidate)))
		if json.Valid([]byte(candidate)) {
			return candidate, nil
		}
	}
	return "", errors.Wrapf(errors.ErrUnrepairable, "payload %q", truncate(raw, 64))
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	body := strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	} else {
		return s
	}
	body = strings.TrimSpace(body)
	return strings.TrimSpace(strings.TrimSuffix(body, "```"))
}

// normalizeTokens rewrites tokens outside double-quoted strings:
// True/False/None become JSON literals, single-quoted strings become
// double-quoted, and bare object keys are quoted.
func normalizeTokens(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 16)
	inString := false
	escaped := false
	lastSignificant := byte(0)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
				lastSignificant = '"'
			}
			continue
		}
		switch {
		case c == '"':
			inString = true
			b.WriteByte(c)
		case c == '\'':
			end := i + 1
			var lit strings.Builder
			for end < len(s) && s[end] != '\'' {
				if s[end] == '\\' && end+1 < len(s) {
					end++
				}
				lit.WriteByte(s[end])
				end++
			}
			quoted, _ := json.Marshal(lit.String())
			b.Write(quoted)
			lastSignificant = '"'
			i = end
		case isIdentStart(c):
			end := i
			for end < len(s) && isIdentPart(s[end]) {
				end++
			}
			word := s[i:end]
			next := nextSignificant(s, end)
			switch {
			case next == ':' && (lastSignificant == '{' || lastSignificant == ','):
				b.WriteString(`"` + word + `"`)
			case word == "True":
				b.WriteString("true")
			case word == "False":
				b.WriteString("false")
			case word == "None":
				b.WriteString("null")
			default:
				b.WriteString(word)
			}
			lastSignificant = 'a'
			i = end - 1
		default:
			b.WriteByte(c)
			if !isSpace(c) {
				lastSignificant = c
			}
		}
	}
	return b.String()
}

// closeOpen returns candidate completions of a truncated payload: open
// strings and containers are closed, and a dangling key gets a null value.
func closeOpen(s string) []string {
	var stack []byte
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
		}
	}
	if len(stack) == 0 && !inString {
		return nil
	}

	body := s
	if inString {
		if escaped {
			body = body[:len(body)-1]
		}
		body += `"`
	}
	body = strings.TrimRight(body, " \t\r\n,")
	if strings.HasSuffix(body, ":") {
		body += "null"
	}
	closers := make([]byte, len(stack))
	for i := range stack {
		closers[i] = stack[len(stack)-1-i]
	}
	return []string{
		body + string(closers),
		body + ":null" + string(closers),
	}
}

func nextSignificant(s string, from int) byte {
	for i := from; i < len(s); i++ {
		if !isSpace(s[i]) {
			return s[i]
		}
	}
	return 0
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9') || c == '-'
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
