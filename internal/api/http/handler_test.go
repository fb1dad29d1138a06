package http

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolwire/internal/api/http/middleware"
	"toolwire/internal/observe"
	"toolwire/internal/tool/builtin"
	"toolwire/internal/tool/registry"
)

func buildServerForTest() *server.Hertz {
	reg := registry.New()
	builtin.RegisterBuiltin(reg)
	bus := observe.NewBus()
	em := observe.NewEmitter(
		observe.WithBus(bus),
		observe.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	h := NewHandler(nil, nil, reg, bus)
	r := NewRouter(h, middleware.NewMiddleware(em))
	return r.Build(":0")
}

func perform(s *server.Hertz, method, path, body string) *ut.ResponseRecorder {
	b := []byte(body)
	return ut.PerformRequest(s.Engine, method, path, &ut.Body{Body: bytes.NewReader(b), Len: len(b)})
}

func decodeBody(t *testing.T, w *ut.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Result().Body(), &out), string(w.Result().Body()))
	return out
}

func kinds(body map[string]any) []string {
	var out []string
	diags, _ := body["diagnostics"].([]any)
	for _, d := range diags {
		out = append(out, d.(map[string]any)["kind"].(string))
	}
	return out
}

func TestHealthCheck(t *testing.T) {
	s := buildServerForTest()
	w := perform(s, "GET", "/api/health", "")
	require.Equal(t, 200, w.Result().StatusCode())
	body := decodeBody(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(6), body["tools"])
}

func TestExtract(t *testing.T) {
	s := buildServerForTest()
	w := perform(s, "POST", "/api/extract",
		`{"text": "<tool_call>{\"name\": \"read_file\", \"arguments\": {\"path\": \"a.txt\"}}</tool_call>"}`)
	require.Equal(t, 200, w.Result().StatusCode(), string(w.Result().Body()))

	body := decodeBody(t, w)
	id := string(w.Result().Header.Peek(middleware.HeaderCorrelationID))
	assert.NotEmpty(t, id)
	assert.Equal(t, id, body["correlation_id"])
	assert.Equal(t, "tagged", body["strategy"])

	calls := body["calls"].([]any)
	require.Len(t, calls, 1)
	call := calls[0].(map[string]any)
	assert.Equal(t, true, call["executable"])
	inv := call["invocation"].(map[string]any)
	assert.Equal(t, "read_file", inv["name"])
	assert.Equal(t, map[string]any{"file_path": "a.txt"}, inv["arguments"])
	assert.Contains(t, kinds(body), observe.KindRepaired)
}

func TestExtract_BadBody(t *testing.T) {
	s := buildServerForTest()
	w := perform(s, "POST", "/api/extract", `{"text": `)
	assert.Equal(t, 400, w.Result().StatusCode())
}

func TestValidate(t *testing.T) {
	s := buildServerForTest()

	w := perform(s, "POST", "/api/validate", `{"tool_call": {"name": "read_file", "arguments": {"path": "a.txt"}}}`)
	require.Equal(t, 200, w.Result().StatusCode(), string(w.Result().Body()))
	body := decodeBody(t, w)
	assert.Equal(t, false, body["valid"])
	repaired := body["repaired"].(map[string]any)
	assert.Equal(t, map[string]any{"file_path": "a.txt"}, repaired["arguments"])
	assert.Equal(t, []string{observe.KindRepaired}, kinds(body))

	w = perform(s, "POST", "/api/validate", `{"tool_call": {"name": "launch", "arguments": {}}}`)
	assert.Equal(t, 404, w.Result().StatusCode())

	w = perform(s, "POST", "/api/validate", `{"tool_call": {"arguments": {}}}`)
	assert.Equal(t, 400, w.Result().StatusCode())
}

func TestValidate_InlineSchema(t *testing.T) {
	s := buildServerForTest()
	w := perform(s, "POST", "/api/validate", `{
		"tool_call": {"name": "deploy", "arguments": {"env": "prod"}},
		"schema": {"name": "deploy", "parameters": [{"name": "env", "type": "string", "required": true, "allowed_values": ["staging", "prod"]}]}
	}`)
	require.Equal(t, 200, w.Result().StatusCode(), string(w.Result().Body()))
	assert.Equal(t, true, decodeBody(t, w)["valid"])
}

func TestListToolsAndMetrics(t *testing.T) {
	s := buildServerForTest()
	w := perform(s, "GET", "/api/tools", "")
	require.Equal(t, 200, w.Result().StatusCode())
	assert.Contains(t, string(w.Result().Body()), "read_file")

	w = perform(s, "GET", "/metrics", "")
	require.Equal(t, 200, w.Result().StatusCode())
	assert.Contains(t, string(w.Result().Body()), "toolwire_history_compressions_total")
}

func TestCORSPreflight(t *testing.T) {
	s := buildServerForTest()
	w := perform(s, "OPTIONS", "/api/extract", "")
	assert.Equal(t, 204, w.Result().StatusCode())
}
