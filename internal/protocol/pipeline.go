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

// Package protocol glues the tool-call layer together for one model turn:
// extract or reassemble calls, validate and repair them against declared
// schemas, and record calls and results in the conversation history.
package protocol

import (
	"context"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"toolwire/internal/extract"
	"toolwire/internal/history"
	"toolwire/internal/observe"
	"toolwire/internal/stream"
	"toolwire/internal/tool/registry"
	"toolwire/internal/toolcall"
	"toolwire/internal/validate"
	"toolwire/pkg/errors"
)

const component = "protocol"

// SchemaSource looks up tool declarations by id. Read-only.
type SchemaSource interface {
	Schema(toolID string) (*validate.ToolSchema, bool)
}

// Call is one requested tool call after validation.
type Call struct {
	// Invocation is what should be executed: the repaired call when the
	// validator produced one, the original otherwise.
	Invocation *toolcall.Invocation `json:"invocation"`
	Original   *toolcall.Invocation `json:"original"`
	// Outcome is nil for tools the schema source does not know.
	Outcome *validate.Outcome `json:"outcome,omitempty"`
	Known   bool              `json:"known"`
	// Executable is true when Invocation passes validation.
	Executable bool `json:"executable"`
}

// Response is the result of processing one model response.
type Response struct {
	CorrelationID string           `json:"correlation_id"`
	Model         string           `json:"model,omitempty"`
	Text          string           `json:"text"`
	Calls         []*Call          `json:"calls"`
	Strategy      extract.Strategy `json:"strategy,omitempty"`
	Issues        []extract.Issue  `json:"issues,omitempty"`
}

// Invocations returns the calls to execute, in order.
func (r *Response) Invocations() []*toolcall.Invocation {
	out := make([]*toolcall.Invocation, 0, len(r.Calls))
	for _, c := range r.Calls {
		out = append(out, c.Invocation)
	}
	return out
}

// Pipeline processes model turns. One Pipeline serves one conversation.
type Pipeline struct {
	extractor *extract.Extractor
	validator *validate.Validator
	schemas   SchemaSource
	history   *history.Manager
	model     string
	newID     func() string
	store     history.Store
	convID    string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithModel sets the model name used to pick the extraction family.
func WithModel(model string) Option {
	return func(p *Pipeline) { p.model = model }
}

// WithIDGenerator replaces the generator for missing call ids.
func WithIDGenerator(fn func() string) Option {
	return func(p *Pipeline) {
		if fn != nil {
			p.newID = fn
		}
	}
}

// WithStore persists the history in store under id after every recorded
// response or result. Load restores it.
func WithStore(store history.Store, id string) Option {
	return func(p *Pipeline) { p.store, p.convID = store, id }
}

// New creates a Pipeline. Nil collaborators are replaced by defaults: the
// builtin strategy table, a validator without extra aliases, an empty
// registry and an empty history.
func New(ex *extract.Extractor, v *validate.Validator, schemas SchemaSource, h *history.Manager, opts ...Option) *Pipeline {
	p := &Pipeline{
		extractor: ex,
		validator: v,
		schemas:   schemas,
		history:   h,
		newID:     func() string { return "call_" + uuid.New().String() },
	}
	if p.extractor == nil {
		p.extractor = extract.New()
	}
	if p.validator == nil {
		p.validator = validate.New()
	}
	if p.schemas == nil {
		p.schemas = registry.New()
	}
	if p.history == nil {
		p.history = history.NewManager()
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// History returns the conversation history.
func (p *Pipeline) History() *history.Manager { return p.history }

// Extractor returns the extractor.
func (p *Pipeline) Extractor() *extract.Extractor { return p.extractor }

// Validator returns the validator.
func (p *Pipeline) Validator() *validate.Validator { return p.validator }

// Schemas returns the schema source.
func (p *Pipeline) Schemas() SchemaSource { return p.schemas }

// turn returns ctx carrying a turn, creating one when ctx has none.
func (p *Pipeline) turn(ctx context.Context) (context.Context, *observe.Turn) {
	if t, ok := observe.TurnFrom(ctx); ok {
		return ctx, t
	}
	t := observe.NewTurn(p.model)
	return observe.WithTurn(ctx, t), t
}

// ProcessResponse extracts and validates the calls in a complete response.
func (p *Pipeline) ProcessResponse(ctx context.Context, text string) (*Response, error) {
	ctx, t := p.turn(ctx)
	res := p.extractor.Extract(ctx, text)
	calls, err := p.check(ctx, res.Invocations)
	if err != nil {
		return nil, err
	}
	return &Response{
		CorrelationID: t.CorrelationID,
		Model:         t.Model,
		Text:          res.Remainder,
		Calls:         calls,
		Strategy:      res.Strategy,
		Issues:        res.Issues,
	}, nil
}

// ProcessStream reassembles streamed call fragments until frags is closed,
// then validates the completed calls. Closing the channel ends the
// response. On cancellation the partial slots are discarded and ctx.Err()
// is returned.
func (p *Pipeline) ProcessStream(ctx context.Context, frags <-chan stream.Fragment) (*Response, error) {
	ctx, t := p.turn(ctx)
	acc := stream.NewAccumulator()
	for {
		if err := ctx.Err(); err != nil {
			acc.Reset()
			return nil, err
		}
		select {
		case <-ctx.Done():
			acc.Reset()
			return nil, ctx.Err()
		case f, ok := <-frags:
			if !ok {
				return p.finish(ctx, t, acc, "")
			}
			acc.Accumulate(ctx, f)
		}
	}
}

// ProcessMessages consumes eino message chunks. Native tool-call deltas go
// through the accumulator; when a response carries none, its text content is
// run through the extractor instead.
func (p *Pipeline) ProcessMessages(ctx context.Context, chunks <-chan *schema.Message) (*Response, error) {
	ctx, t := p.turn(ctx)
	acc := stream.NewAccumulator()
	var content strings.Builder
	for {
		if err := ctx.Err(); err != nil {
			acc.Reset()
			return nil, err
		}
		select {
		case <-ctx.Done():
			acc.Reset()
			return nil, ctx.Err()
		case msg, ok := <-chunks:
			if !ok {
				return p.finish(ctx, t, acc, content.String())
			}
			if msg == nil {
				continue
			}
			content.WriteString(msg.Content)
			for _, f := range stream.FragmentsFromMessage(msg) {
				acc.Accumulate(ctx, f)
			}
		}
	}
}

func (p *Pipeline) finish(ctx context.Context, t *observe.Turn, acc *stream.Accumulator, content string) (*Response, error) {
	acc.Accumulate(ctx, stream.Fragment{Finished: true})
	invs := acc.DrainCompleted(ctx)
	if len(invs) == 0 && strings.TrimSpace(content) != "" {
		return p.ProcessResponse(ctx, content)
	}
	calls, err := p.check(ctx, invs)
	if err != nil {
		return nil, err
	}
	return &Response{
		CorrelationID: t.CorrelationID,
		Model:         t.Model,
		Text:          content,
		Calls:         calls,
	}, nil
}

func (p *Pipeline) check(ctx context.Context, invs []*toolcall.Invocation) ([]*Call, error) {
	calls := make([]*Call, 0, len(invs))
	for _, inv := range invs {
		if inv == nil {
			return nil, errors.Wrap(errors.ErrNilInvocation, "process")
		}
		if inv.CallID == "" {
			inv.CallID = p.newID()
		}
		c := &Call{Invocation: inv, Original: inv}
		s, ok := p.schemas.Schema(inv.ToolID)
		if !ok || s == nil {
			observe.Emit(ctx, component, observe.KindUnknownTool, "call to undeclared tool",
				slog.String("tool", inv.ToolID),
				slog.String("call_id", inv.CallID),
			)
			calls = append(calls, c)
			continue
		}
		c.Known = true

		out, err := p.validator.Validate(ctx, inv, s)
		if err != nil {
			return nil, err
		}
		c.Outcome = out
		c.Executable = out.Valid
		if out.Repaired != nil {
			c.Invocation = out.Repaired
			again, err := p.validator.Validate(ctx, out.Repaired, s)
			if err != nil {
				return nil, err
			}
			c.Executable = again.Valid
		}
		calls = append(calls, c)
	}
	return calls, nil
}

// Load restores the history saved under the conversation id. A missing
// snapshot leaves the history as it is. Without a store Load does nothing.
func (p *Pipeline) Load(ctx context.Context) error {
	if p.store == nil {
		return nil
	}
	if p.convID == "" {
		return errors.Wrap(errors.ErrInvalidArg, "conversation id required")
	}
	snap, err := p.store.Load(ctx, p.convID)
	if errors.Is(err, errors.ErrNotFound) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "load conversation %s", p.convID)
	}
	return p.history.Restore(snap)
}

// Forget deletes the saved history and clears the in-memory one.
func (p *Pipeline) Forget(ctx context.Context) error {
	p.history.Clear()
	if p.store == nil {
		return nil
	}
	return p.store.Delete(ctx, p.convID)
}

func (p *Pipeline) save(ctx context.Context) error {
	if p.store == nil {
		return nil
	}
	if p.convID == "" {
		return errors.Wrap(errors.ErrInvalidArg, "conversation id required")
	}
	if err := p.store.Save(ctx, p.history.Snapshot(p.convID)); err != nil {
		return errors.Wrapf(err, "save conversation %s", p.convID)
	}
	return nil
}

// RecordUser appends a user message to the history.
func (p *Pipeline) RecordUser(ctx context.Context, content string) error {
	p.history.AppendUser(ctx, content)
	return p.save(ctx)
}

// RecordAssistant appends the model response and its calls to the history.
// Every recorded call should later get a result via RecordResult; calls
// that never do are left out of the request view.
func (p *Pipeline) RecordAssistant(ctx context.Context, resp *Response) error {
	if resp == nil {
		return errors.Wrap(errors.ErrInvalidArg, "nil response")
	}
	if err := p.history.AppendAssistant(ctx, resp.Text, resp.Invocations()); err != nil {
		return err
	}
	return p.save(ctx)
}

// RecordResult appends the result of inv.
func (p *Pipeline) RecordResult(ctx context.Context, inv *toolcall.Invocation, content string) error {
	if inv == nil {
		return errors.Wrap(errors.ErrNilInvocation, "record result")
	}
	p.history.AppendToolResult(ctx, inv.ToolID, inv.CallID, content)
	return p.save(ctx)
}

// Messages returns the next model request built from the history.
func (p *Pipeline) Messages(ctx context.Context) []*schema.Message {
	return p.history.ToMessages(ctx)
}
