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
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"toolwire/pkg/errors"
)

// SnapshotSchema creates the table PgStore writes to.
const SnapshotSchema = `CREATE TABLE IF NOT EXISTS history_snapshots (
	id            TEXT PRIMARY KEY,
	system_prompt TEXT NOT NULL DEFAULT '',
	entries       JSONB NOT NULL,
	saved_at      TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PgStore PostgreSQL 快照存储，多进程共享
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore 连接 dsn 并确保表存在
func NewPgStore(ctx context.Context, dsn string) (*PgStore, error) {
	if dsn == "" {
		return nil, errors.Wrap(errors.ErrInvalidArg, "postgres dsn required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, SnapshotSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create history_snapshots: %w", err)
	}
	return &PgStore{pool: pool}, nil
}

// NewPgStoreFromPool 复用已有连接池；表需已存在
func NewPgStoreFromPool(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Save 实现 Store
func (s *PgStore) Save(ctx context.Context, snap *Snapshot) error {
	if snap == nil || snap.ID == "" {
		return errors.Wrap(errors.ErrInvalidArg, "snapshot id required")
	}
	entries, err := json.Marshal(snap.Entries)
	if err != nil {
		return fmt.Errorf("marshal entries: %w", err)
	}
	savedAt := snap.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now().UTC()
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO history_snapshots (id, system_prompt, entries, saved_at, updated_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (id) DO UPDATE SET
		   system_prompt = EXCLUDED.system_prompt,
		   entries = EXCLUDED.entries,
		   saved_at = EXCLUDED.saved_at,
		   updated_at = now()`,
		snap.ID, snap.SystemPrompt, entries, savedAt,
	)
	return err
}

// Load 实现 Store
func (s *PgStore) Load(ctx context.Context, id string) (*Snapshot, error) {
	var snap Snapshot
	var entries []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, system_prompt, entries, saved_at FROM history_snapshots WHERE id = $1`,
		id,
	).Scan(&snap.ID, &snap.SystemPrompt, &entries, &snap.SavedAt)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, errors.Wrapf(errors.ErrNotFound, "history snapshot %s", id)
		}
		return nil, err
	}
	if err := json.Unmarshal(entries, &snap.Entries); err != nil {
		return nil, fmt.Errorf("unmarshal entries: %w", err)
	}
	return &snap, nil
}

// Delete 实现 Store
func (s *PgStore) Delete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM history_snapshots WHERE id = $1`, id)
	return err
}

// Close 关闭连接池
func (s *PgStore) Close() error {
	s.pool.Close()
	return nil
}
