package cache

import (
	"context"
	"fmt"
	"time"

	"StemMixer/config"

	"github.com/go-redis/redis/v8"
)

// RedisClient 是全局Redis客户端
var RedisClient *redis.Client

// ConnectRedis 初始化Redis连接
func ConnectRedis(cfg *config.Config) error {
	RedisClient = redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := RedisClient.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return nil
}

// CloseRedis 关闭Redis连接
func CloseRedis() error {
	if RedisClient != nil {
		return RedisClient.Close()
	}
	return nil
}

// CheckRedis 测试Redis连接和基本读写，并返回分析缓存中的条目数
func CheckRedis(ctx context.Context) (int64, error) {
	if RedisClient == nil {
		return 0, fmt.Errorf("Redis client not initialized")
	}

	const probeKey = "stemmixer:probe"
	const probeValue = "Redis connection successful!"

	if err := RedisClient.Set(ctx, probeKey, probeValue, time.Minute).Err(); err != nil {
		return 0, fmt.Errorf("failed to set Redis key: %w", err)
	}

	val, err := RedisClient.Get(ctx, probeKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get Redis key: %w", err)
	}
	if val != probeValue {
		return 0, fmt.Errorf("unexpected value from Redis: got %s", val)
	}

	if _, err := RedisClient.Del(ctx, probeKey).Result(); err != nil {
		return 0, fmt.Errorf("failed to delete Redis key: %w", err)
	}

	n, err := RedisClient.HLen(ctx, AnalysisKey).Result()
	if err != nil && err != redis.Nil {
		return 0, fmt.Errorf("failed to count analysis entries: %w", err)
	}
	return n, nil
}
