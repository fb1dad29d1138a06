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

// Span is a half-open byte range [Start, End) of a balanced JSON object in a text.
type Span struct {
	Start int
	End   int
}

// Text returns the spanned substring of s.
func (sp Span) Text(s string) string {
	return s[sp.Start:sp.End]
}

// ObjectSpans returns the balanced top-level JSON objects in text, in order.
// Scanning is quote and escape aware, so braces inside string values do not
// count. An opening brace that never closes is skipped and scanning resumes
// right after it, so complete objects nested behind a stray "{" are still found.
func ObjectSpans(text string) []Span {
	var spans []Span
	for i := 0; i < len(text); {
		if text[i] != '{' {
			i++
			continue
		}
		end, ok := matchObject(text, i)
		if !ok {
			i++
			continue
		}
		spans = append(spans, Span{Start: i, End: end})
		i = end
	}
	return spans
}

// FirstObject returns the first balanced object in text.
func FirstObject(text string) (string, bool) {
	for i := 0; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		if end, ok := matchObject(text, i); ok {
			return text[i:end], true
		}
	}
	return "", false
}

// IsCompleteObject reports whether s (ignoring surrounding whitespace) is
// exactly one balanced JSON object.
func IsCompleteObject(s string) bool {
	start, stop := trimBounds(s)
	if start >= stop || s[start] != '{' {
		return false
	}
	end, ok := matchObject(s, start)
	return ok && end == stop
}

// matchObject scans from the '{' at start and returns the index just past its
// matching '}'. Mismatched closers abort the match.
func matchObject(text string, start int) (int, bool) {
	var stack []byte
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
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
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return 0, false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}

func trimBounds(s string) (int, int) {
	start, stop := 0, len(s)
	for start < stop && isSpace(s[start]) {
		start++
	}
	for stop > start && isSpace(s[stop-1]) {
		stop--
	}
	return start, stop
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
