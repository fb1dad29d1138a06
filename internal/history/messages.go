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

package history

import (
	"context"

	"github.com/cloudwego/eino/schema"
)

// ToMessages serializes the system prompt and the request view into eino
// messages, ready for a ChatModel call.
func (m *Manager) ToMessages(ctx context.Context) []*schema.Message {
	prompt := m.SystemPrompt()
	view := m.BuildRequestView(ctx)

	out := make([]*schema.Message, 0, len(view)+1)
	if prompt != "" {
		out = append(out, schema.SystemMessage(prompt))
	}
	for _, e := range view {
		out = append(out, e.ToMessage())
	}
	return out
}

// ToMessage converts one entry.
func (e *Entry) ToMessage() *schema.Message {
	msg := &schema.Message{Role: e.Role, Content: e.Content}
	switch e.Role {
	case schema.Assistant:
		for _, c := range e.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, schema.ToolCall{
				ID:   c.CallID,
				Type: "function",
				Function: schema.FunctionCall{
					Name:      c.ToolID,
					Arguments: c.ArgumentsJSON(),
				},
			})
		}
	case schema.Tool:
		msg.ToolCallID = e.ToolCallID
		msg.ToolName = e.ToolName
	}
	return msg
}
