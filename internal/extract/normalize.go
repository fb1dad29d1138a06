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
	"regexp"
	"strings"

	"toolwire/internal/jsonrepair"
)

var (
	thinkingRx   = regexp.MustCompile(`(?s)<(think|thinking|reasoning)>.*?</(think|thinking|reasoning)>`)
	blankLinesRx = regexp.MustCompile(`\n{3,}`)
)

// stripThinking removes closed reasoning blocks. An unclosed block is left
// alone since the calls may follow inside it.
func stripThinking(text string) string {
	return thinkingRx.ReplaceAllString(text, "")
}

// normalizeObjects rewrites only the text between balanced objects, so
// string values inside objects are never touched. Separators such as "}:{"
// become a newline and lines made only of braces or brackets are dropped.
func normalizeObjects(text string, collapse, dropStray bool) string {
	if !collapse && !dropStray {
		return text
	}
	spans := jsonrepair.ObjectSpans(text)
	var b strings.Builder
	b.Grow(len(text))
	prev := 0
	for i, sp := range spans {
		gap := text[prev:sp.Start]
		b.WriteString(cleanGap(gap, i > 0, collapse, dropStray))
		b.WriteString(sp.Text(text))
		prev = sp.End
	}
	b.WriteString(cleanGap(text[prev:], false, false, dropStray))
	return b.String()
}

func cleanGap(gap string, betweenObjects, collapse, dropStray bool) string {
	if collapse && betweenObjects {
		switch strings.TrimSpace(gap) {
		case "", ":", ",":
			return "\n"
		}
	}
	if !dropStray || !strings.ContainsAny(gap, "{}[]") {
		return gap
	}
	lines := strings.Split(gap, "\n")
	kept := lines[:0]
	for i, line := range lines {
		// The first and last pieces touch an object or the text edge on one side.
		if (i == 0 || i == len(lines)-1) && len(lines) > 1 {
			if onlyBraces(line) {
				kept = append(kept, "")
				continue
			}
			kept = append(kept, line)
			continue
		}
		if onlyBraces(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

func onlyBraces(line string) bool {
	t := strings.TrimSpace(line)
	if t == "" {
		return false
	}
	return strings.Trim(t, "{}[]") == ""
}

var pipeSectionMarkers = []string{"<|tool_calls_section_begin|>", "<|tool_calls_section_end|>"}

// tidyRemainder removes leftover call scaffolding from the prose around calls.
func tidyRemainder(s string) string {
	for _, m := range pipeSectionMarkers {
		s = strings.ReplaceAll(s, m, "")
	}
	s = emptyFunctionCallsRx.ReplaceAllString(s, "")
	s = blankLinesRx.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

var emptyFunctionCallsRx = regexp.MustCompile(`(?s)<function_calls>\s*</function_calls>`)
