package http

import (
	"io"
	"log/slog"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/config"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	hertzslog "github.com/hertz-contrib/logger/slog"

	"toolwire/internal/api/http/middleware"
	"toolwire/pkg/log"
)

// Router HTTP 路由器
type Router struct {
	handler    *Handler
	middleware *middleware.Middleware
	rps        float64
	burst      int
}

// NewRouter 创建新的 HTTP 路由器
func NewRouter(handler *Handler, mw *middleware.Middleware) *Router {
	return &Router{handler: handler, middleware: mw}
}

// SetRateLimit 限制全局请求速率，rps<=0 不限制
func (r *Router) SetRateLimit(rps float64, burst int) {
	r.rps, r.burst = rps, burst
}

// Build 创建 Hertz 服务并注册路由
func (r *Router) Build(addr string, opts ...config.Option) *server.Hertz {
	opts = append([]config.Option{server.WithHostPorts(addr)}, opts...)
	h := server.Default(opts...)
	h.Use(r.middleware.CORS(), r.middleware.Turn(), r.middleware.Logger(), r.middleware.RateLimit(r.rps, r.burst))

	api := h.Group("/api")
	api.GET("/health", r.handler.HealthCheck)
	api.GET("/tools", r.handler.ListTools)
	api.POST("/extract", r.handler.Extract)
	api.POST("/validate", r.handler.Validate)

	conv := api.Group("/conversations/:id")
	conv.POST("/user", r.handler.AppendUser)
	conv.POST("/responses", r.handler.AppendResponse)
	conv.POST("/results", r.handler.AppendResult)
	conv.GET("/messages", r.handler.Messages)
	api.DELETE("/conversations/:id", r.handler.DeleteConversation)

	h.GET("/metrics", r.handler.Metrics)
	return h
}

// SetupLogging 将 hertz 的 hlog 输出到 slog
func SetupLogging(level string, output io.Writer) {
	levelVar := &slog.LevelVar{}
	levelVar.Set(log.ParseLevel(level))
	hlog.SetLogger(hertzslog.NewLogger(
		hertzslog.WithOutput(output),
		hertzslog.WithLevel(levelVar),
	))
}
