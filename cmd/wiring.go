package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"StemMixer/cache"
	"StemMixer/config"
	"StemMixer/core/transport"
	"StemMixer/logger"
	"StemMixer/storage"
)

// signalContext 在收到 SIGINT/SIGTERM 时取消
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// newFetcher 组装 http/https/file 的读取器，配置了 MinIO 凭据时再注册 minio://
func newFetcher(cfg *config.Config) (storage.Fetcher, *storage.MinioClient) {
	router := storage.NewRouter(storage.NewHTTPFetcher(cfg.FetchTimeout))
	if cfg.MinioAccessKey == "" {
		return router, nil
	}

	mc, err := storage.NewMinioClient(cfg)
	if err != nil {
		logger.Warn("MinIO unavailable, minio:// stems will fail to load", logger.ErrorField(err))
		return router, nil
	}
	router.Register(storage.MinioScheme, mc)
	return router, mc
}

// openAnalysisCache 优先使用 Redis 持久化，连接失败时退回纯内存缓存。
// 返回的 closer 需要在退出时调用。
func openAnalysisCache(ctx context.Context, cfg *config.Config, useRedis bool) (*cache.AnalysisCache, func()) {
	if !useRedis {
		return cache.NewAnalysisCache(nil), func() {}
	}
	if err := cache.ConnectRedis(cfg); err != nil {
		logger.Warn("Redis unavailable, analysis cache is in-memory only", logger.ErrorField(err))
		return cache.NewAnalysisCache(nil), func() {}
	}

	ac := cache.NewAnalysisCache(cache.NewRedisStore(nil))
	n, err := ac.Warm(ctx)
	if err != nil {
		logger.Warn("failed to warm analysis cache", logger.ErrorField(err))
	} else {
		logger.Info("analysis cache warmed", logger.Int("entries", n))
	}
	return ac, func() {
		if err := cache.CloseRedis(); err != nil {
			logger.Warn("failed to close Redis", logger.ErrorField(err))
		}
	}
}

func transportOptions(cfg *config.Config) transport.Options {
	return transport.Options{
		WaveformResolution: cfg.WaveformResolution,
		MaxConcurrentLoads: cfg.MaxConcurrentLoads,
		DriftInterval:      cfg.DriftInterval,
	}
}
