package http

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"toolwire/internal/extract"
	"toolwire/internal/history"
	"toolwire/internal/observe"
	"toolwire/internal/protocol"
	"toolwire/internal/tool/registry"
	"toolwire/internal/toolcall"
	"toolwire/internal/validate"
	"toolwire/pkg/config"
	"toolwire/pkg/metrics"
)

// Handler 诊断 API 处理器：抽取、校验、工具列表、指标、会话历史
type Handler struct {
	extractor *extract.Extractor
	validator *validate.Validator
	registry  *registry.Registry
	bus       *observe.Bus

	// 会话历史快照存储；同一时间只处理一个会话请求
	store      history.Store
	historyCfg config.HistoryConfig
	convMu     sync.Mutex
}

// HandlerOption 处理器可选配置
type HandlerOption func(*Handler)

// WithConversations 设置会话历史存储与预算配置
func WithConversations(store history.Store, cfg config.HistoryConfig) HandlerOption {
	return func(h *Handler) {
		if store != nil {
			h.store = store
		}
		h.historyCfg = cfg
	}
}

// NewHandler 创建处理器；bus 用于按关联 id 收集本次请求产生的诊断。
// 未配置存储时会话历史保存在内存中
func NewHandler(ex *extract.Extractor, v *validate.Validator, reg *registry.Registry, bus *observe.Bus, opts ...HandlerOption) *Handler {
	if ex == nil {
		ex = extract.New()
	}
	if v == nil {
		v = validate.New()
	}
	if reg == nil {
		reg = registry.New()
	}
	h := &Handler{extractor: ex, validator: v, registry: reg, bus: bus, store: history.NewMemoryStore()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Diagnostic is an observe.Event as returned by the API.
type Diagnostic struct {
	Component string         `json:"component"`
	Kind      string         `json:"kind"`
	Message   string         `json:"message"`
	Attrs     map[string]any `json:"attrs,omitempty"`
}

// ExtractRequest POST /api/extract
type ExtractRequest struct {
	Text  string `json:"text"`
	Model string `json:"model,omitempty"`
}

// ExtractResponse POST /api/extract
type ExtractResponse struct {
	*protocol.Response
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// ValidateRequest POST /api/validate; Schema overrides the registered declaration.
type ValidateRequest struct {
	ToolCall *toolcall.Invocation `json:"tool_call"`
	Schema   *validate.ToolSchema `json:"schema,omitempty"`
}

// ValidateResponse POST /api/validate
type ValidateResponse struct {
	*validate.Outcome
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// collect subscribes to the diagnostics of the turn on ctx until the
// returned function is called.
func (h *Handler) collect(ctx context.Context) func() []Diagnostic {
	id := observe.CorrelationID(ctx)
	if h.bus == nil || id == "" {
		return func() []Diagnostic { return []Diagnostic{} }
	}
	c := &observe.Collector{}
	unsubscribe := h.bus.Subscribe(id, c)
	return func() []Diagnostic {
		unsubscribe()
		out := make([]Diagnostic, 0)
		for _, e := range c.Events() {
			out = append(out, Diagnostic{Component: e.Component, Kind: e.Kind, Message: e.Message, Attrs: e.Attrs})
		}
		return out
	}
}

func decode(c *app.RequestContext, dst any) bool {
	dec := json.NewDecoder(bytes.NewReader(c.Request.Body()))
	if err := dec.Decode(dst); err != nil {
		c.JSON(consts.StatusBadRequest, map[string]string{
			"error": "invalid request body: " + err.Error(),
		})
		return false
	}
	return true
}

// HealthCheck GET /api/health
func (h *Handler) HealthCheck(ctx context.Context, c *app.RequestContext) {
	c.JSON(consts.StatusOK, map[string]any{
		"status":   "ok",
		"tools":    len(h.registry.List()),
		"families": h.extractor.Families().Names(),
	})
}

// Extract POST /api/extract
func (h *Handler) Extract(ctx context.Context, c *app.RequestContext) {
	var req ExtractRequest
	if !decode(c, &req) {
		return
	}
	if req.Model != "" {
		if turn, ok := observe.TurnFrom(ctx); ok {
			turn.Model = req.Model
		}
	}
	done := h.collect(ctx)
	p := protocol.New(h.extractor, h.validator, h.registry, nil, protocol.WithModel(req.Model))
	resp, err := p.ProcessResponse(ctx, req.Text)
	diags := done()
	if err != nil {
		hlog.CtxErrorf(ctx, "extract failed: %v", err)
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	c.JSON(consts.StatusOK, ExtractResponse{Response: resp, Diagnostics: diags})
}

// Validate POST /api/validate
func (h *Handler) Validate(ctx context.Context, c *app.RequestContext) {
	var req ValidateRequest
	if !decode(c, &req) {
		return
	}
	if req.ToolCall == nil || req.ToolCall.ToolID == "" {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "tool_call with a name is required"})
		return
	}
	s := req.Schema
	if s == nil {
		var ok bool
		if s, ok = h.registry.Schema(req.ToolCall.ToolID); !ok {
			c.JSON(consts.StatusNotFound, map[string]string{"error": "unknown tool: " + req.ToolCall.ToolID})
			return
		}
	} else if err := s.Check(); err != nil {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	done := h.collect(ctx)
	out, err := h.validator.Validate(ctx, req.ToolCall, s)
	diags := done()
	if err != nil {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	c.JSON(consts.StatusOK, ValidateResponse{Outcome: out, Diagnostics: diags})
}

// ListTools GET /api/tools
func (h *Handler) ListTools(ctx context.Context, c *app.RequestContext) {
	data, err := h.registry.SchemasForLLM()
	if err != nil {
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	c.Data(consts.StatusOK, "application/json; charset=utf-8", data)
}

// Metrics GET /metrics
func (h *Handler) Metrics(ctx context.Context, c *app.RequestContext) {
	var buf bytes.Buffer
	if err := metrics.WritePrometheus(&buf); err != nil {
		c.String(consts.StatusInternalServerError, err.Error())
		return
	}
	c.Data(consts.StatusOK, "text/plain; version=0.0.4; charset=utf-8", buf.Bytes())
}
