package middleware

import (
	"context"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"golang.org/x/time/rate"

	"toolwire/internal/observe"
	"toolwire/pkg/utils"
)

// Header names used by the API.
const (
	HeaderModel         = "X-Model"
	HeaderCorrelationID = "X-Correlation-ID"
)

// Middleware 中间件管理器
type Middleware struct {
	emitter *observe.Emitter
}

// NewMiddleware 创建新的中间件管理器；emitter 为 nil 时诊断走默认 emitter
func NewMiddleware(emitter *observe.Emitter) *Middleware {
	return &Middleware{emitter: emitter}
}

// CORS CORS 中间件
func (m *Middleware) CORS() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, "+HeaderModel)
		c.Header("Access-Control-Expose-Headers", HeaderCorrelationID)
		c.Header("Access-Control-Max-Age", "86400")

		if string(c.Method()) == consts.MethodOptions {
			c.AbortWithStatus(consts.StatusNoContent)
			return
		}
		c.Next(ctx)
	}
}

// Turn 为每个请求创建 observe.Turn（模型名取自 X-Model），并挂上 emitter；
// 关联 id 通过 X-Correlation-ID 返回
func (m *Middleware) Turn() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		turn := observe.NewTurn(string(c.GetHeader(HeaderModel)))
		ctx = observe.WithTurn(ctx, turn)
		if m.emitter != nil {
			ctx = observe.WithEmitter(ctx, m.emitter)
		}
		c.Header(HeaderCorrelationID, turn.CorrelationID)
		c.Next(ctx)
	}
}

// RateLimit 速率限制中间件（全局令牌桶），rps<=0 不限制
func (m *Middleware) RateLimit(rps float64, burst int) app.HandlerFunc {
	if rps <= 0 {
		return func(ctx context.Context, c *app.RequestContext) { c.Next(ctx) }
	}
	limiter := rate.NewLimiter(rate.Limit(rps), utils.DefaultInt(burst, 1))
	return func(ctx context.Context, c *app.RequestContext) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(consts.StatusTooManyRequests, map[string]string{
				"error": "请求过于频繁，请稍后再试",
			})
			return
		}
		c.Next(ctx)
	}
}

// Logger 访问日志中间件
func (m *Middleware) Logger() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		start := time.Now()
		c.Next(ctx)
		hlog.CtxInfof(ctx, "%s %s %d %s correlation_id=%s",
			c.Method(), c.Path(), c.Response.StatusCode(), time.Since(start),
			observe.CorrelationID(ctx))
	}
}
