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
	"encoding/json"
	"errors"
	"regexp"
	"sort"
	"strings"

	"toolwire/internal/jsonrepair"
	"toolwire/internal/toolcall"
)

// match is one located payload. Failed decodes carry err.
type match struct {
	start, end int
	invs       []*toolcall.Invocation
	err        error
}

func decodeMatch(start, end int, body string) match {
	invs, err := decodePayload(body)
	return match{start: start, end: end, invs: invs, err: err}
}

// DefaultTagNames are the delimiter tags tried by the tagged strategy.
var DefaultTagNames = []string{"tool_call", "function_call", "tool_use"}

func taggedMatches(text string, tags []string) []match {
	var out []match
	for _, tag := range tags {
		open, closing := "<"+tag+">", "</"+tag+">"
		for pos := 0; pos < len(text); {
			i := strings.Index(text[pos:], open)
			if i < 0 {
				break
			}
			start := pos + i
			bodyStart := start + len(open)
			end := len(text)
			body := text[bodyStart:]
			if j := strings.Index(body, closing); j >= 0 {
				body = body[:j]
				end = bodyStart + j + len(closing)
			}
			out = append(out, decodeMatch(start, end, strings.TrimSpace(body)))
			pos = end
		}
	}
	return dropOverlaps(out)
}

var fenceRx = regexp.MustCompile("(?s)```([A-Za-z0-9_+.-]*)[^\\n`]*\\n(.*?)```")

func fencedMatches(text string) []match {
	var out []match
	for _, loc := range fenceRx.FindAllStringSubmatchIndex(text, -1) {
		body := strings.TrimSpace(text[loc[4]:loc[5]])
		if body == "" || (body[0] != '{' && body[0] != '[') {
			continue
		}
		m := decodeMatch(loc[0], loc[1], body)
		if errors.Is(m.err, errNoName) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// objectMatches decodes balanced objects. keep decides, per decoded object,
// whether the strategy claims it.
func objectMatches(text string, keep func(*rawObject) bool, plausible []string) []match {
	var out []match
	for _, sp := range jsonrepair.ObjectSpans(text) {
		body := sp.Text(text)
		fixed, err := jsonrepair.Repair(body)
		var obj *rawObject
		if err == nil {
			obj, err = decodeRawObject([]byte(fixed))
		}
		if err != nil {
			if mentionsAny(body, plausible) {
				out = append(out, match{start: sp.Start, end: sp.End, err: err})
			}
			continue
		}
		if !keep(obj) {
			continue
		}
		invs, err := decodeValue(json.RawMessage(fixed))
		if errors.Is(err, errNoName) {
			continue
		}
		out = append(out, match{start: sp.Start, end: sp.End, invs: invs, err: err})
	}
	return out
}

func wrapperMatches(text string) []match {
	return objectMatches(text, func(obj *rawObject) bool {
		return hasAny(obj, wrapperKeys...) && !hasAny(obj, nameKeys...)
	}, quoted(wrapperKeys))
}

func bareMatches(text string) []match {
	return objectMatches(text, func(obj *rawObject) bool {
		return hasAny(obj, nameKeys...)
	}, quoted(nameKeys))
}

const (
	pipeCallBegin = "<|tool_call_begin|>"
	pipeArgBegin  = "<|tool_call_argument_begin|>"
	pipeCallEnd   = "<|tool_call_end|>"
)

// pipeMatches reads marker-delimited calls. The name token may be qualified
// as "functions.read_file:0".
func pipeMatches(text string) []match {
	var out []match
	for pos := 0; pos < len(text); {
		i := strings.Index(text[pos:], pipeCallBegin)
		if i < 0 {
			break
		}
		start := pos + i
		rest := text[start+len(pipeCallBegin):]
		a := strings.Index(rest, pipeArgBegin)
		e := strings.Index(rest, pipeCallEnd)
		if a < 0 || (e >= 0 && e < a) {
			end := len(text)
			if e >= 0 {
				end = start + len(pipeCallBegin) + e + len(pipeCallEnd)
			}
			out = append(out, match{start: start, end: end, err: errors.New("pipe call without argument marker")})
			pos = end
			continue
		}
		name := pipeName(rest[:a])
		argText := rest[a+len(pipeArgBegin):]
		end := len(text)
		if e >= 0 {
			argText = argText[:e-a-len(pipeArgBegin)]
			end = start + len(pipeCallBegin) + e + len(pipeCallEnd)
		}
		m := match{start: start, end: end}
		if name == "" {
			m.err = errNoName
		} else if args, err := toolcall.ParseArguments(argText); err != nil {
			m.err = err
		} else {
			inv := toolcall.New(name, "")
			inv.Arguments = args
			m.invs = []*toolcall.Invocation{inv}
		}
		out = append(out, m)
		pos = end
	}
	return out
}

// pipeName strips the "functions." namespace and the ":N" call index from
// a pipe-format call id. Dots inside the tool name are kept.
func pipeName(raw string) string {
	name := strings.TrimPrefix(strings.TrimSpace(raw), "functions.")
	if i := strings.LastIndex(name, ":"); i >= 0 && isDigits(name[i+1:]) {
		name = name[:i]
	}
	return strings.TrimSpace(name)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

var (
	invokeRx = regexp.MustCompile(`(?s)<invoke\s+name="([^"]*)"\s*>(.*?)</invoke>`)
	paramRx  = regexp.MustCompile(`(?s)<(parameter|arg)\s+name="([^"]+)"\s*>(.*?)</(?:parameter|arg)>`)
)

// invokeMatches reads XML invoke blocks. Parameter text is unescaped
// (&lt; &gt; &amp;); text that is then a JSON value is decoded, anything
// else stays a string.
func invokeMatches(text string) []match {
	var out []match
	for _, loc := range invokeRx.FindAllStringSubmatchIndex(text, -1) {
		name := strings.TrimSpace(text[loc[2]:loc[3]])
		m := match{start: loc[0], end: loc[1]}
		if name == "" {
			m.err = errNoName
			out = append(out, m)
			continue
		}
		inv := toolcall.New(name, "")
		body := text[loc[4]:loc[5]]
		for _, p := range paramRx.FindAllStringSubmatch(body, -1) {
			inv.Set(strings.TrimSpace(p[2]), xmlValue(xmlUnescaper.Replace(p[3])))
		}
		m.invs = []*toolcall.Invocation{inv}
		out = append(out, m)
	}
	return out
}

var xmlUnescaper = strings.NewReplacer("&lt;", "<", "&gt;", ">", "&amp;", "&")

func xmlValue(s string) any {
	s = strings.TrimPrefix(strings.TrimSuffix(s, "\n"), "\n")
	t := strings.TrimSpace(s)
	if t == "" {
		return s
	}
	var v any
	if json.Unmarshal([]byte(t), &v) == nil {
		return v
	}
	return s
}

func dropOverlaps(ms []match) []match {
	sort.SliceStable(ms, func(i, j int) bool { return ms[i].start < ms[j].start })
	out := ms[:0]
	lastEnd := -1
	for _, m := range ms {
		if m.start < lastEnd {
			continue
		}
		out = append(out, m)
		lastEnd = m.end
	}
	return out
}

func quoted(keys []string) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = `"` + k + `"`
	}
	return out
}

func mentionsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// cut removes the spans of successful matches from text.
func cut(text string, ms []match) string {
	var b strings.Builder
	prev := 0
	for _, m := range ms {
		if len(m.invs) == 0 || m.start < prev {
			continue
		}
		b.WriteString(text[prev:m.start])
		prev = m.end
	}
	b.WriteString(text[prev:])
	return b.String()
}
