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
	"fmt"
	"strings"

	"toolwire/internal/toolcall"
)

// Render writes inv in the canonical form of strategy. Extracting the
// rendering with the same strategy yields inv again.
func Render(inv *toolcall.Invocation, strategy Strategy) (string, error) {
	if inv == nil {
		return "", fmt.Errorf("render: nil invocation")
	}
	switch strategy {
	case StrategyTagged:
		body, err := json.Marshal(inv)
		if err != nil {
			return "", err
		}
		return "<" + DefaultTagNames[0] + ">\n" + string(body) + "\n</" + DefaultTagNames[0] + ">", nil
	case StrategyFenced:
		body, err := json.MarshalIndent(inv, "", "  ")
		if err != nil {
			return "", err
		}
		return "```json\n" + string(body) + "\n```", nil
	case StrategyWrapper:
		body, err := json.Marshal(map[string]toolcall.Invocation{"tool_call": *inv})
		if err != nil {
			return "", err
		}
		return string(body), nil
	case StrategyBare:
		body, err := json.Marshal(inv)
		if err != nil {
			return "", err
		}
		return string(body), nil
	case StrategyPipe:
		return "<|tool_calls_section_begin|>" + pipeCallBegin + "functions." + inv.ToolID + ":0" +
			pipeArgBegin + inv.ArgumentsJSON() + pipeCallEnd + "<|tool_calls_section_end|>", nil
	case StrategyInvoke:
		var b strings.Builder
		b.WriteString("<function_calls>\n<invoke name=\"" + inv.ToolID + "\">\n")
		if inv.Arguments != nil {
			for pair := inv.Arguments.Oldest(); pair != nil; pair = pair.Next() {
				b.WriteString("<parameter name=\"" + pair.Key + "\">")
				body, err := invokeBody(pair.Value)
				if err != nil {
					return "", err
				}
				b.WriteString(xmlEscaper.Replace(body))
				b.WriteString("</parameter>\n")
			}
		}
		b.WriteString("</invoke>\n</function_calls>")
		return b.String(), nil
	default:
		return "", fmt.Errorf("render: unknown strategy %q", strategy)
	}
}

var xmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// invokeBody is the parameter text that xmlValue reads back as v. Strings
// are written raw unless they would decode as another JSON value or lose
// surrounding newlines, in which case they are JSON-quoted.
func invokeBody(v any) (string, error) {
	if s, ok := v.(string); ok && !needsQuoting(s) {
		return s, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func needsQuoting(s string) bool {
	if strings.HasPrefix(s, "\n") || strings.HasSuffix(s, "\n") {
		return true
	}
	t := strings.TrimSpace(s)
	return t != "" && json.Valid([]byte(t))
}
