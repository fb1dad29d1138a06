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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/spf13/pflag"

	apihttp "toolwire/internal/api/http"
	"toolwire/internal/api/http/middleware"
	"toolwire/internal/extract"
	"toolwire/internal/history"
	"toolwire/internal/observe"
	"toolwire/internal/protocol"
	"toolwire/internal/tool/registry"
	"toolwire/internal/toolcall"
	"toolwire/pkg/config"
	"toolwire/pkg/log"
	"toolwire/pkg/metrics"
	"toolwire/pkg/tracing"
	"toolwire/pkg/utils"
)

const version = "toolwire 0.1.0"

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// options shared by every command.
type options struct {
	configPath string
	model      string
	toolsFile  string
	server     string
	file       string
	strategy   string
	metrics    bool
}

func (o *options) addFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&o.configPath, "config", "c", "", "config file (yaml); defaults apply when empty")
	fs.StringVarP(&o.model, "model", "m", "", "model name, selects the extraction family")
	fs.StringVar(&o.toolsFile, "tools", "", "tool schema file (yaml); builtin tools when empty")
	fs.StringVar(&o.server, "server", os.Getenv("TOOLWIRE_API_URL"), "call a running toolwire API instead of working locally")
	fs.StringVarP(&o.file, "file", "f", "", "input file; stdin when empty")
	fs.StringVar(&o.strategy, "strategy", string(extract.StrategyTagged), "encoding for render")
	fs.BoolVar(&o.metrics, "metrics", false, "print Prometheus metrics to stderr when done")
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stdout)
		return 0
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "version", "--version":
		fmt.Fprintln(stdout, version)
		return 0
	case "help", "-h", "--help":
		printUsage(stdout)
		return 0
	}

	var opts options
	fs := pflag.NewFlagSet("toolwire "+cmd, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	opts.addFlags(fs)
	if err := fs.Parse(rest); err != nil {
		if err == pflag.ErrHelp {
			return 0
		}
		return 2
	}

	var err error
	switch cmd {
	case "extract":
		err = runExtract(&opts, stdin, stdout)
	case "validate":
		err = runValidate(&opts, stdin, stdout)
	case "render":
		err = runRender(&opts, stdin, stdout)
	case "tools":
		err = runTools(&opts, stdout)
	case "health":
		err = runHealth(&opts, stdout)
	case "serve":
		err = runServe(&opts, stderr)
	default:
		printUsage(stderr)
		return 1
	}
	if opts.metrics {
		_ = metrics.WritePrometheus(stderr)
	}
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: toolwire <command> [flags]")
	fmt.Fprintln(w, "  extract   - 从模型输出中抽取工具调用并校验（stdin 或 --file）")
	fmt.Fprintln(w, "  validate  - 按工具 Schema 校验并修复一个调用 {\"name\",\"arguments\"}")
	fmt.Fprintln(w, "  render    - 将调用渲染为 --strategy 指定的编码")
	fmt.Fprintln(w, "  tools     - 列出工具 Schema")
	fmt.Fprintln(w, "  health    - 检查 --server 指定的 API")
	fmt.Fprintln(w, "  serve     - 启动诊断 HTTP API")
	fmt.Fprintln(w, "  version   - 显示版本")
	fmt.Fprintln(w, "Flags: --config --model --tools --server --file --strategy --metrics")
}

func loadConfig(opts *options) (*config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		loaded, err := config.LoadConfig(opts.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if opts.toolsFile != "" {
		cfg.Protocol.ToolsFile = opts.toolsFile
	}
	return cfg, nil
}

func readInput(opts *options, stdin io.Reader) ([]byte, error) {
	if opts.file != "" {
		return os.ReadFile(opts.file)
	}
	return io.ReadAll(stdin)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runExtract(opts *options, stdin io.Reader, stdout io.Writer) error {
	text, err := readInput(opts, stdin)
	if err != nil {
		return err
	}
	if opts.server != "" {
		out, err := newClient(opts.server).extract(string(text), opts.model)
		if err != nil {
			return err
		}
		return writeJSON(stdout, out)
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	p, err := protocol.FromConfig(cfg.Protocol, protocol.WithModel(opts.model))
	if err != nil {
		return err
	}
	resp, err := p.ProcessResponse(context.Background(), string(text))
	if err != nil {
		return err
	}
	return writeJSON(stdout, resp)
}

func readInvocation(opts *options, stdin io.Reader) (*toolcall.Invocation, error) {
	data, err := readInput(opts, stdin)
	if err != nil {
		return nil, err
	}
	var inv toolcall.Invocation
	if err := json.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("decode tool call: %w", err)
	}
	if inv.ToolID == "" {
		return nil, fmt.Errorf("tool call has no name")
	}
	return &inv, nil
}

func runValidate(opts *options, stdin io.Reader, stdout io.Writer) error {
	inv, err := readInvocation(opts, stdin)
	if err != nil {
		return err
	}
	if opts.server != "" {
		out, err := newClient(opts.server).validate(inv)
		if err != nil {
			return err
		}
		return writeJSON(stdout, out)
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	p, err := protocol.FromConfig(cfg.Protocol)
	if err != nil {
		return err
	}
	s, ok := p.Schemas().Schema(inv.ToolID)
	if !ok {
		return fmt.Errorf("unknown tool: %s", inv.ToolID)
	}
	out, err := p.Validator().Validate(context.Background(), inv, s)
	if err != nil {
		return err
	}
	return writeJSON(stdout, out)
}

func runRender(opts *options, stdin io.Reader, stdout io.Writer) error {
	inv, err := readInvocation(opts, stdin)
	if err != nil {
		return err
	}
	st, err := extract.ParseStrategy(opts.strategy)
	if err != nil {
		return err
	}
	text, err := extract.Render(inv, st)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, text)
	return err
}

func runTools(opts *options, stdout io.Writer) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	reg, err := protocol.LoadRegistry(cfg.Protocol.ToolsFile)
	if err != nil {
		return err
	}
	data, err := reg.SchemasForLLM()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, string(data))
	return err
}

func runHealth(opts *options, stdout io.Writer) error {
	if opts.server == "" {
		return fmt.Errorf("--server or TOOLWIRE_API_URL is required")
	}
	out, err := newClient(opts.server).health()
	if err != nil {
		return err
	}
	return writeJSON(stdout, out)
}

func registryOf(p *protocol.Pipeline) *registry.Registry {
	reg, _ := p.Schemas().(*registry.Registry)
	return reg
}

func runServe(opts *options, stderr io.Writer) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	logger, err := log.NewLogger(&log.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File})
	if err != nil {
		return err
	}
	defer logger.Close()
	apihttp.SetupLogging(cfg.Log.Level, stderr)

	endpoint := utils.CoalesceString(cfg.Monitoring.Tracing.ExportEndpoint, os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	if cfg.Monitoring.Tracing.Enable && endpoint != "" {
		tp, err := tracing.InitTracer(tracing.OTelConfig{
			ServiceName:    utils.CoalesceString(cfg.Monitoring.Tracing.ServiceName, "toolwire"),
			ExportEndpoint: endpoint,
			Insecure:       cfg.Monitoring.Tracing.Insecure,
		})
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(ctx)
		}()
	}

	h, closeStore, err := newAPI(context.Background(), cfg, logger.Logger)
	if err != nil {
		return err
	}
	defer closeStore()
	go func() {
		if err := h.Run(); err != nil {
			logger.Error("API 服务异常退出", "error", err)
		}
	}()
	logger.Info("toolwire API started", "addr", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		"history_store", utils.CoalesceString(cfg.Storage.History.Type, "memory"))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := h.Shutdown(ctx); err != nil {
		return err
	}
	logger.Info("API 服务已关闭")
	return nil
}

// newAPI assembles the HTTP server with the conversation store from cfg.
// The returned function closes the store.
func newAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*server.Hertz, func() error, error) {
	p, err := protocol.FromConfig(cfg.Protocol)
	if err != nil {
		return nil, nil, err
	}
	store, err := history.NewStore(ctx, cfg.Storage.History)
	if err != nil {
		return nil, nil, err
	}

	bus := observe.NewBus()
	emitter := observe.NewEmitter(observe.WithLogger(logger), observe.WithBus(bus))
	handler := apihttp.NewHandler(p.Extractor(), p.Validator(), registryOf(p), bus,
		apihttp.WithConversations(store, cfg.Protocol.History))
	router := apihttp.NewRouter(handler, middleware.NewMiddleware(emitter))
	logger.Debug("extraction families", "families", strings.Join(p.Extractor().Families().Names(), ","))
	return router.Build(fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)), store.Close, nil
}
