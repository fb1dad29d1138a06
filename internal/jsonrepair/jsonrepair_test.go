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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolwire/pkg/errors"
)

func TestObjectSpans(t *testing.T) {
	text := `intro {"a": "}{"} mid {"b": {"c": [1, 2]}} tail`
	spans := ObjectSpans(text)
	require.Len(t, spans, 2)
	assert.Equal(t, `{"a": "}{"}`, spans[0].Text(text))
	assert.Equal(t, `{"b": {"c": [1, 2]}}`, spans[1].Text(text))
}

func TestObjectSpans_SkipsUnterminatedBrace(t *testing.T) {
	text := `{ stray {"name": "ls"}`
	spans := ObjectSpans(text)
	require.Len(t, spans, 1)
	assert.Equal(t, `{"name": "ls"}`, spans[0].Text(text))
}

func TestObjectSpans_EscapedQuote(t *testing.T) {
	text := `{"s": "a \"}\" b"} {"t": 1}`
	spans := ObjectSpans(text)
	require.Len(t, spans, 2)
	assert.Equal(t, `{"s": "a \"}\" b"}`, spans[0].Text(text))
}

func TestObjectSpans_MismatchedCloser(t *testing.T) {
	assert.Empty(t, ObjectSpans(`{"a": [1, 2}`))
}

func TestIsCompleteObject(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{`{}`, true},
		{`  {"a": 1}  `, true},
		{`{"a": "}"`, false},
		{`{"a": 1} {"b": 2}`, false},
		{`[1]`, false},
		{``, false},
		{`{"fi`, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, IsCompleteObject(tc.in), tc.in)
	}
}

func TestFirstObject(t *testing.T) {
	obj, ok := FirstObject(`noise {"a": 1}} more`)
	require.True(t, ok)
	assert.Equal(t, `{"a": 1}`, obj)

	_, ok = FirstObject(`no objects`)
	assert.False(t, ok)
}

func TestRepair(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want map[string]any
	}{
		{"valid", `{"a": 1}`, map[string]any{"a": float64(1)}},
		{"empty", ``, map[string]any{}},
		{"trailing comma", `{"a": 1,}`, map[string]any{"a": float64(1)}},
		{"comment", "{\"a\": 1 // note\n}", map[string]any{"a": float64(1)}},
		{"fenced", "```json\n{\"a\": \"x\"}\n```", map[string]any{"a": "x"}},
		{"trailing junk", `{"a": 1}} extra`, map[string]any{"a": float64(1)}},
		{"python literals", `{'a': True, 'b': None, 'c': False}`, map[string]any{"a": true, "b": nil, "c": false}},
		{"bare keys", `{path: "a.txt", count: 2}`, map[string]any{"path": "a.txt", "count": float64(2)}},
		{"unterminated object", `{"file_path": "a.txt"`, map[string]any{"file_path": "a.txt"}},
		{"unterminated string", `{"file_path": "a.t`, map[string]any{"file_path": "a.t"}},
		{"dangling colon", `{"a": 1, "b":`, map[string]any{"a": float64(1), "b": nil}},
		{"dangling key", `{"a": 1, "b"`, map[string]any{"a": float64(1), "b": nil}},
		{"nested open", `{"a": {"b": [1, 2`, map[string]any{"a": map[string]any{"b": []any{float64(1), float64(2)}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := Repair(tc.in)
			require.NoError(t, err)
			var got map[string]any
			require.NoError(t, json.Unmarshal([]byte(out), &got))
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestRepair_Unrepairable(t *testing.T) {
	_, err := Repair(`this is not json at all`)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUnrepairable))
}

func TestRepair_KeepsStringContents(t *testing.T) {
	out, err := Repair(`{"cmd": "echo 'True' // not a comment",}`)
	require.NoError(t, err)
	var got map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "echo 'True' // not a comment", got["cmd"])
}
