package http

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"toolwire/internal/history"
	"toolwire/internal/observe"
	"toolwire/internal/protocol"
	"toolwire/internal/toolcall"
)

// UserMessageRequest POST /api/conversations/:id/user
type UserMessageRequest struct {
	Content string `json:"content"`
}

// ToolResultRequest POST /api/conversations/:id/results
type ToolResultRequest struct {
	CallID  string `json:"call_id"`
	Tool    string `json:"tool"`
	Content string `json:"content"`
}

// ConversationResponse 会话当前状态
type ConversationResponse struct {
	ID      string `json:"id"`
	Entries int    `json:"entries"`
	Tokens  int    `json:"tokens"`
}

// conversation 加载 id 对应的会话；失败时已写入响应
func (h *Handler) conversation(ctx context.Context, c *app.RequestContext, model string) (*protocol.Pipeline, string, bool) {
	id := c.Param("id")
	if id == "" {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "conversation id required"})
		return nil, "", false
	}
	p := protocol.New(h.extractor, h.validator, h.registry,
		history.NewManager(history.WithConfig(h.historyCfg)),
		protocol.WithModel(model),
		protocol.WithStore(h.store, id),
	)
	if err := p.Load(ctx); err != nil {
		hlog.CtxErrorf(ctx, "load conversation %s failed: %v", id, err)
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": err.Error()})
		return nil, "", false
	}
	return p, id, true
}

func state(id string, p *protocol.Pipeline) ConversationResponse {
	return ConversationResponse{ID: id, Entries: p.History().Len(), Tokens: p.History().TotalTokens()}
}

func saveFailed(ctx context.Context, c *app.RequestContext, id string, err error) {
	hlog.CtxErrorf(ctx, "save conversation %s failed: %v", id, err)
	c.JSON(consts.StatusInternalServerError, map[string]string{"error": err.Error()})
}

// AppendUser POST /api/conversations/:id/user
func (h *Handler) AppendUser(ctx context.Context, c *app.RequestContext) {
	var req UserMessageRequest
	if !decode(c, &req) {
		return
	}
	h.convMu.Lock()
	defer h.convMu.Unlock()
	p, id, ok := h.conversation(ctx, c, "")
	if !ok {
		return
	}
	if err := p.RecordUser(ctx, req.Content); err != nil {
		saveFailed(ctx, c, id, err)
		return
	}
	c.JSON(consts.StatusOK, state(id, p))
}

// AppendResponse POST /api/conversations/:id/responses
// 抽取并校验模型响应中的工具调用，再记入会话历史
func (h *Handler) AppendResponse(ctx context.Context, c *app.RequestContext) {
	var req ExtractRequest
	if !decode(c, &req) {
		return
	}
	if req.Model != "" {
		if turn, ok := observe.TurnFrom(ctx); ok {
			turn.Model = req.Model
		}
	}
	h.convMu.Lock()
	defer h.convMu.Unlock()
	p, id, ok := h.conversation(ctx, c, req.Model)
	if !ok {
		return
	}
	done := h.collect(ctx)
	resp, err := p.ProcessResponse(ctx, req.Text)
	if err == nil {
		err = p.RecordAssistant(ctx, resp)
	}
	diags := done()
	if err != nil {
		saveFailed(ctx, c, id, err)
		return
	}
	c.JSON(consts.StatusOK, ExtractResponse{Response: resp, Diagnostics: diags})
}

// AppendResult POST /api/conversations/:id/results
func (h *Handler) AppendResult(ctx context.Context, c *app.RequestContext) {
	var req ToolResultRequest
	if !decode(c, &req) {
		return
	}
	if req.CallID == "" {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "call_id is required"})
		return
	}
	h.convMu.Lock()
	defer h.convMu.Unlock()
	p, id, ok := h.conversation(ctx, c, "")
	if !ok {
		return
	}
	if err := p.RecordResult(ctx, toolcall.New(req.Tool, req.CallID), req.Content); err != nil {
		saveFailed(ctx, c, id, err)
		return
	}
	c.JSON(consts.StatusOK, state(id, p))
}

// Messages GET /api/conversations/:id/messages
// 返回下一次模型请求的消息列表（已裁剪孤立调用）
func (h *Handler) Messages(ctx context.Context, c *app.RequestContext) {
	h.convMu.Lock()
	defer h.convMu.Unlock()
	p, _, ok := h.conversation(ctx, c, "")
	if !ok {
		return
	}
	c.JSON(consts.StatusOK, map[string]any{"messages": p.Messages(ctx)})
}

// DeleteConversation DELETE /api/conversations/:id
func (h *Handler) DeleteConversation(ctx context.Context, c *app.RequestContext) {
	h.convMu.Lock()
	defer h.convMu.Unlock()
	p, id, ok := h.conversation(ctx, c, "")
	if !ok {
		return
	}
	if err := p.Forget(ctx); err != nil {
		saveFailed(ctx, c, id, err)
		return
	}
	c.JSON(consts.StatusOK, map[string]string{"deleted": id})
}
