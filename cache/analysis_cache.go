package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"StemMixer/logger"
	"StemMixer/model"

	"github.com/go-redis/redis/v8"
)

// AnalysisKey Hash: asset URL -> TrackAnalysis JSON
const AnalysisKey = "stemmixer:analysis"

// Store 分析结果的持久化层
type Store interface {
	LoadAll(ctx context.Context) (map[string]model.TrackAnalysis, error)
	Save(ctx context.Context, a model.TrackAnalysis) error
}

// RedisStore 把分析结果存在一个 Redis Hash 里
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore 创建 Redis 存储，client 为空时使用全局客户端
func NewRedisStore(client *redis.Client) *RedisStore {
	if client == nil {
		client = RedisClient
	}
	return &RedisStore{client: client, key: AnalysisKey}
}

// LoadAll 读取全部分析结果，损坏的条目会被跳过
func (s *RedisStore) LoadAll(ctx context.Context) (map[string]model.TrackAnalysis, error) {
	if s.client == nil {
		return nil, fmt.Errorf("Redis client not initialized")
	}

	raw, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		if err == redis.Nil {
			return map[string]model.TrackAnalysis{}, nil
		}
		return nil, fmt.Errorf("failed to load analysis cache: %w", err)
	}

	out := make(map[string]model.TrackAnalysis, len(raw))
	for url, data := range raw {
		var a model.TrackAnalysis
		if err := json.Unmarshal([]byte(data), &a); err != nil {
			logger.Warn("跳过损坏的分析缓存条目", logger.String("url", url), logger.ErrorField(err))
			continue
		}
		a.URL = url
		out[url] = a
	}
	return out, nil
}

// Save 写入一条分析结果；已存在的条目不会被覆盖
func (s *RedisStore) Save(ctx context.Context, a model.TrackAnalysis) error {
	if s.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}

	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis: %w", err)
	}
	if err := s.client.HSetNX(ctx, s.key, a.URL, data).Err(); err != nil {
		return fmt.Errorf("failed to save analysis for %s: %w", a.URL, err)
	}
	return nil
}

// AnalysisCache URL -> 包络 + onset 的进程内缓存，可选地写穿到 Store。
// 条目永久有效，同一个 URL 的重复写入是幂等的。
type AnalysisCache struct {
	mu      sync.RWMutex
	entries map[string]model.TrackAnalysis
	store   Store
}

// NewAnalysisCache 创建缓存，store 可以为 nil（仅内存）
func NewAnalysisCache(store Store) *AnalysisCache {
	return &AnalysisCache{
		entries: make(map[string]model.TrackAnalysis),
		store:   store,
	}
}

// Warm 从 Store 预加载全部条目，返回加载的数量
func (c *AnalysisCache) Warm(ctx context.Context) (int, error) {
	if c.store == nil {
		return 0, nil
	}
	all, err := c.store.LoadAll(ctx)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for url, a := range all {
		if _, ok := c.entries[url]; ok {
			continue
		}
		c.entries[url] = a
		n++
	}
	return n, nil
}

// Get 按 URL 查询
func (c *AnalysisCache) Get(url string) (model.TrackAnalysis, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.entries[url]
	return a, ok
}

// Put 缓存一条分析结果；URL 已存在时直接返回
func (c *AnalysisCache) Put(ctx context.Context, a model.TrackAnalysis) error {
	if a.URL == "" {
		return fmt.Errorf("analysis has no URL")
	}

	c.mu.Lock()
	if _, ok := c.entries[a.URL]; ok {
		c.mu.Unlock()
		return nil
	}
	c.entries[a.URL] = a
	c.mu.Unlock()

	if c.store == nil {
		return nil
	}
	return c.store.Save(ctx, a)
}

// Len 缓存条目数
func (c *AnalysisCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
