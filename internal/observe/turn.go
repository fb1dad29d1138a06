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

// Package observe carries the per-turn correlation id and fans diagnostics
// out to logs, metrics, trace spans and subscribed sinks.
package observe

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Turn identifies one model round trip.
type Turn struct {
	CorrelationID string
	Model         string
	StartedAt     time.Time
}

// NewTurn creates a turn with a fresh correlation id.
func NewTurn(model string) *Turn {
	return &Turn{
		CorrelationID: uuid.New().String(),
		Model:         model,
		StartedAt:     time.Now(),
	}
}

type turnKey struct{}

// WithTurn attaches turn to ctx.
func WithTurn(ctx context.Context, turn *Turn) context.Context {
	if turn == nil {
		return ctx
	}
	return context.WithValue(ctx, turnKey{}, turn)
}

// TurnFrom returns the turn attached to ctx, if any.
func TurnFrom(ctx context.Context) (*Turn, bool) {
	if ctx == nil {
		return nil, false
	}
	turn, ok := ctx.Value(turnKey{}).(*Turn)
	return turn, ok && turn != nil
}

// CorrelationID returns the correlation id of the turn on ctx, or "".
func CorrelationID(ctx context.Context) string {
	if turn, ok := TurnFrom(ctx); ok {
		return turn.CorrelationID
	}
	return ""
}
