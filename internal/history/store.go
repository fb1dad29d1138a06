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
	"fmt"
	"sync"
	"time"

	"toolwire/internal/storage/cache"
	"toolwire/pkg/config"
	"toolwire/pkg/errors"
)

// Store 历史快照存储；Load 对不存在的 id 返回 errors.ErrNotFound
type Store interface {
	Save(ctx context.Context, s *Snapshot) error
	Load(ctx context.Context, id string) (*Snapshot, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// NewStore 根据配置创建快照存储：memory（默认）、redis、postgres
func NewStore(ctx context.Context, cfg config.HistoryStoreConfig) (Store, error) {
	ttl, err := parseTTL(cfg.TTL)
	if err != nil {
		return nil, err
	}
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStore(), nil
	case "redis":
		c, err := cache.NewCache(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return NewCacheStore(c, ttl), nil
	case "postgres":
		return NewPgStore(ctx, cfg.DSN)
	default:
		return nil, errors.Wrapf(errors.ErrInvalidArg, "unsupported history store type %q", cfg.Type)
	}
}

func parseTTL(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid history ttl %q: %w", s, err)
	}
	return d, nil
}

// MemoryStore 内存实现；保存的是 JSON 副本，调用方后续修改不影响已存快照
type MemoryStore struct {
	mu    sync.RWMutex
	snaps map[string][]byte
}

// NewMemoryStore 创建内存快照存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[string][]byte)}
}

// Save 实现 Store
func (m *MemoryStore) Save(ctx context.Context, s *Snapshot) error {
	if s == nil || s.ID == "" {
		return errors.Wrap(errors.ErrInvalidArg, "snapshot id required")
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[s.ID] = data
	return nil
}

// Load 实现 Store
func (m *MemoryStore) Load(ctx context.Context, id string) (*Snapshot, error) {
	m.mu.RLock()
	data, ok := m.snaps[id]
	m.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(errors.ErrNotFound, "history snapshot %s", id)
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &s, nil
}

// Delete 实现 Store
func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snaps, id)
	return nil
}

// Close 实现 Store
func (m *MemoryStore) Close() error { return nil }

// CacheStore 基于 cache.Store（如 Redis）的快照存储
type CacheStore struct {
	cache cache.Store
	ttl   time.Duration
}

// NewCacheStore ttl<=0 表示不过期
func NewCacheStore(c cache.Store, ttl time.Duration) *CacheStore {
	return &CacheStore{cache: c, ttl: ttl}
}

func cacheKey(id string) string { return "history:" + id }

// Save 实现 Store
func (c *CacheStore) Save(ctx context.Context, s *Snapshot) error {
	if s == nil || s.ID == "" {
		return errors.Wrap(errors.ErrInvalidArg, "snapshot id required")
	}
	return c.cache.Set(ctx, cacheKey(s.ID), s, c.ttl)
}

// Load 实现 Store
func (c *CacheStore) Load(ctx context.Context, id string) (*Snapshot, error) {
	var s Snapshot
	if err := c.cache.Get(ctx, cacheKey(id), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Delete 实现 Store
func (c *CacheStore) Delete(ctx context.Context, id string) error {
	return c.cache.Delete(ctx, cacheKey(id))
}

// Close 实现 Store
func (c *CacheStore) Close() error { return c.cache.Close() }
