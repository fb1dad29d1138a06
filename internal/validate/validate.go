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

// Package validate checks tool invocations against declared schemas and
// produces a best-effort repaired invocation when they do not conform.
package validate

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"

	"toolwire/internal/observe"
	"toolwire/internal/toolcall"
	"toolwire/pkg/errors"
	"toolwire/pkg/metrics"
	"toolwire/pkg/tracing"
)

// Issue codes.
const (
	CodeMissingRequired = "missing_required"
	CodeTypeMismatch    = "type_mismatch"
	CodeCoerced         = "coerced"
	CodeUnknownParam    = "unknown_param"
	CodeRenamed         = "renamed"
	CodeFuzzyMatch      = "fuzzy_match"
	CodeConstraint      = "constraint"
)

// Issue is one validation finding.
type Issue struct {
	Param      string `json:"param"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// Outcome of validating one invocation. Repaired is set whenever the call
// is invalid or needed normalization.
type Outcome struct {
	Valid    bool                 `json:"valid"`
	Errors   []Issue              `json:"errors,omitempty"`
	Warnings []Issue              `json:"warnings,omitempty"`
	Repaired *toolcall.Invocation `json:"repaired,omitempty"`
}

// Validator validates and repairs invocations.
type Validator struct {
	aliases  map[string]map[string]string
	patterns sync.Map // pattern -> *regexp.Regexp
}

// Option configures a Validator.
type Option func(*Validator)

// WithAliases merges alias tables (tool -> alias -> declared name) over the
// built-in ones. Use Wildcard as the tool to apply an alias to every tool.
func WithAliases(tables map[string]map[string]string) Option {
	return func(v *Validator) {
		for tool, table := range tables {
			dst, ok := v.aliases[tool]
			if !ok {
				dst = make(map[string]string, len(table))
				v.aliases[tool] = dst
			}
			for alias, target := range table {
				dst[alias] = target
			}
		}
	}
}

// New creates a Validator with the built-in alias tables.
func New(opts ...Option) *Validator {
	v := &Validator{aliases: BuiltinAliases()}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Validate checks inv against s. The error is non-nil only for a nil
// invocation or schema; everything else is reported in the Outcome.
func (v *Validator) Validate(ctx context.Context, inv *toolcall.Invocation, s *ToolSchema) (*Outcome, error) {
	if inv == nil {
		return nil, errors.Wrap(errors.ErrNilInvocation, "validate")
	}
	if s == nil {
		return nil, errors.Wrapf(errors.ErrNilSchema, "validate %s", inv.ToolID)
	}
	ctx, span := tracing.StartValidateSpan(ctx, inv.ToolID, inv.CallID)
	defer span.End()

	out := &Outcome{}
	normalize := false
	r := v.resolver(s)

	supplied := make(map[string]bool)
	for _, key := range inv.Keys() {
		if _, ok := s.Param(key); ok {
			supplied[key] = true
		}
	}
	notSupplied := func(name string) bool { return !supplied[name] }

	for _, key := range inv.Keys() {
		if isMetadata(key) || supplied[key] {
			continue
		}
		target, kind := r.resolve(key, notSupplied)
		switch kind {
		case matchCaseInsensitive, matchAlias:
			normalize = true
			out.Warnings = append(out.Warnings, Issue{
				Param:      key,
				Code:       CodeRenamed,
				Message:    fmt.Sprintf("parameter %q is not declared; %s match for %q", key, kind, target),
				Suggestion: target,
			})
		case matchFuzzy:
			normalize = true
			out.Warnings = append(out.Warnings, Issue{
				Param:      key,
				Code:       CodeFuzzyMatch,
				Message:    fmt.Sprintf("unknown parameter %q, did you mean %q?", key, target),
				Suggestion: target,
			})
		default:
			out.Errors = append(out.Errors, Issue{
				Param:   key,
				Code:    CodeUnknownParam,
				Message: fmt.Sprintf("unknown parameter %q", key),
			})
		}
	}

	for i := range s.Parameters {
		p := &s.Parameters[i]
		val, ok := inv.Arg(p.Name)
		if !ok || val == nil {
			if p.Required {
				out.Errors = append(out.Errors, Issue{
					Param:   p.Name,
					Code:    CodeMissingRequired,
					Message: fmt.Sprintf("missing required parameter %q", p.Name),
				})
			}
			continue
		}
		if !matchesType(val, p.Type) {
			cv, ok := coerce(val, p.Type)
			if !ok {
				out.Errors = append(out.Errors, Issue{
					Param:   p.Name,
					Code:    CodeTypeMismatch,
					Message: fmt.Sprintf("parameter %q expects %s, got %T", p.Name, p.Type, val),
				})
				continue
			}
			normalize = true
			out.Warnings = append(out.Warnings, Issue{
				Param:   p.Name,
				Code:    CodeCoerced,
				Message: fmt.Sprintf("parameter %q coerced to %s", p.Name, p.Type),
			})
			val = cv
		}
		out.Errors = append(out.Errors, v.constraints(p, val)...)
	}

	out.Valid = len(out.Errors) == 0
	outcome := "valid"
	if !out.Valid {
		outcome = "invalid"
	}
	metrics.ValidationTotal.WithLabelValues(inv.ToolID, outcome).Inc()
	span.SetAttributes(
		attribute.Bool("validate.valid", out.Valid),
		attribute.Int("validate.errors", len(out.Errors)),
		attribute.Int("validate.warnings", len(out.Warnings)),
	)

	if !out.Valid || normalize {
		repaired, err := v.Repair(inv, s)
		if err != nil {
			return nil, err
		}
		out.Repaired = repaired
		metrics.RepairTotal.WithLabelValues(inv.ToolID).Inc()
		observe.Emit(ctx, "validate", observe.KindRepaired, "invocation repaired",
			slog.String("tool", inv.ToolID),
			slog.String("call_id", inv.CallID),
			slog.Int("errors", len(out.Errors)),
			slog.Int("warnings", len(out.Warnings)),
		)
	}
	return out, nil
}

// Repair rebuilds inv against s in one pass. Metadata keys are copied
// first. Declared parameters are then filled in schema order from exact,
// case-insensitive or alias matches, then from leftover keys that fuzzy
// match a still-empty parameter; values are coerced where possible.
// Required parameters still missing get their default or a zero value.
// Keys that match nothing are dropped. Repair of its own output returns
// an equal invocation.
func (v *Validator) Repair(inv *toolcall.Invocation, s *ToolSchema) (*toolcall.Invocation, error) {
	if inv == nil {
		return nil, errors.Wrap(errors.ErrNilInvocation, "repair")
	}
	if s == nil {
		return nil, errors.Wrapf(errors.ErrNilSchema, "repair %s", inv.ToolID)
	}
	r := v.resolver(s)
	keys := inv.Keys()
	consumed := make(map[string]bool, len(keys))
	filled := make(map[string]any, len(s.Parameters))
	unfilled := func(name string) bool { _, done := filled[name]; return !done }

	out := toolcall.New(inv.ToolID, inv.CallID)
	for _, key := range keys {
		if isMetadata(key) {
			val, _ := inv.Arg(key)
			out.Set(key, toolcall.CloneValue(val))
			consumed[key] = true
		}
	}

	for _, p := range s.Parameters {
		if val, ok := inv.Arg(p.Name); ok {
			filled[p.Name] = val
			consumed[p.Name] = true
		}
	}
	for _, key := range keys {
		if consumed[key] {
			continue
		}
		if target, kind := r.strict(key, unfilled); kind != matchNone {
			val, _ := inv.Arg(key)
			filled[target] = val
			consumed[key] = true
		}
	}
	for _, key := range keys {
		if consumed[key] {
			continue
		}
		if target := r.fuzzy(key, unfilled); target != "" {
			val, _ := inv.Arg(key)
			filled[target] = val
			consumed[key] = true
		}
	}

	for _, p := range s.Parameters {
		val, ok := filled[p.Name]
		if (!ok || val == nil) && p.Required {
			val, ok = p.Default, true
			if val == nil {
				val = zeroValue(p.Type)
			}
		}
		if !ok {
			continue
		}
		if val != nil {
			if cv, ok := coerce(val, p.Type); ok {
				val = cv
			}
		}
		out.Set(p.Name, toolcall.CloneValue(val))
	}
	return out, nil
}

func (v *Validator) constraints(p *ParameterSpec, val any) []Issue {
	var issues []Issue
	add := func(format string, args ...any) {
		issues = append(issues, Issue{Param: p.Name, Code: CodeConstraint, Message: fmt.Sprintf(format, args...)})
	}

	if f, ok := toFloat(val); ok {
		if p.Min != nil && f < *p.Min {
			add("parameter %q is %v, below minimum %v", p.Name, f, *p.Min)
		}
		if p.Max != nil && f > *p.Max {
			add("parameter %q is %v, above maximum %v", p.Name, f, *p.Max)
		}
	}

	if n, ok := length(val); ok {
		if p.MinLength != nil && n < *p.MinLength {
			add("parameter %q has length %d, below minimum %d", p.Name, n, *p.MinLength)
		}
		if p.MaxLength != nil && n > *p.MaxLength {
			add("parameter %q has length %d, above maximum %d", p.Name, n, *p.MaxLength)
		}
	}

	if str, ok := val.(string); ok && p.Pattern != "" {
		re, err := v.pattern(p.Pattern)
		switch {
		case err != nil:
			add("parameter %q has an invalid pattern: %v", p.Name, err)
		case !re.MatchString(str):
			add("parameter %q does not match pattern %s", p.Name, p.Pattern)
		}
	}

	if len(p.AllowedValues) > 0 {
		allowed := false
		for _, a := range p.AllowedValues {
			if sameValue(a, val) {
				allowed = true
				break
			}
		}
		if !allowed {
			add("parameter %q value %v is not one of %v", p.Name, val, p.AllowedValues)
		}
	}
	return issues
}

func (v *Validator) pattern(p string) (*regexp.Regexp, error) {
	if re, ok := v.patterns.Load(p); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(p)
	if err != nil {
		return nil, err
	}
	v.patterns.Store(p, re)
	return re, nil
}

func length(v any) (int, bool) {
	switch x := v.(type) {
	case string:
		return utf8.RuneCountInString(x), true
	case []any:
		return len(x), true
	case []string:
		return len(x), true
	}
	return 0, false
}

func sameValue(a, b any) bool {
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if okA && okB {
		return fa == fb
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}
