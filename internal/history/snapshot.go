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

package history

import (
	"time"

	"toolwire/pkg/errors"
)

// Snapshot is the persisted form of a Manager.
type Snapshot struct {
	ID           string    `json:"id"`
	SystemPrompt string    `json:"system_prompt"`
	Entries      []*Entry  `json:"entries"`
	SavedAt      time.Time `json:"saved_at"`
}

// Snapshot copies the current state under id.
func (m *Manager) Snapshot(id string) *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := &Snapshot{
		ID:           id,
		SystemPrompt: m.systemPrompt,
		Entries:      make([]*Entry, len(m.entries)),
		SavedAt:      m.now().UTC(),
	}
	for i, e := range m.entries {
		s.Entries[i] = e.clone()
	}
	return s
}

// Restore replaces the current state with s. Token estimates are
// recomputed and timestamps clamped to be non-decreasing.
func (m *Manager) Restore(s *Snapshot) error {
	if s == nil {
		return errors.Wrap(errors.ErrInvalidArg, "nil snapshot")
	}
	entries := make([]*Entry, 0, len(s.Entries))
	for _, e := range s.Entries {
		if e == nil {
			continue
		}
		c := e.clone()
		if n := len(entries); n > 0 && c.Timestamp.Before(entries[n-1].Timestamp) {
			c.Timestamp = entries[n-1].Timestamp
		}
		c.TokenEstimate = estimateEntry(c)
		entries = append(entries, c)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.systemPrompt = s.SystemPrompt
	m.entries = entries
	return nil
}
