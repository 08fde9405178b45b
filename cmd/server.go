package cmd

import (
	"context"
	"fmt"
	"time"

	"StemMixer/core/library"
	"StemMixer/core/player"
	"StemMixer/core/services"
	"StemMixer/core/session"
	"StemMixer/core/transport"
	"StemMixer/db"
	"StemMixer/logger"
	"StemMixer/repository"
	"StemMixer/server"

	"github.com/spf13/cobra"
)

var (
	serverAddr           string
	serverNoRedis        bool
	serverServiceTimeout time.Duration
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动 StemMixer 服务器",
	Long:  `启动 HTTP/WebSocket 服务：歌曲选择、多轨播放控制、波形、click track 生成与分轨上传。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()
		return runServer(ctx)
	},
}

func runServer(ctx context.Context) error {
	addr := cfg.HTTPAddr
	if serverAddr != "" {
		addr = serverAddr
	}

	if err := db.ConnectGormDB(cfg); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.CloseGormDB()
	if err := db.AutoMigrate(); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	analysisCache, closeCache := openAnalysisCache(ctx, cfg, !serverNoRedis)
	defer closeCache()

	fetcher, _ := newFetcher(cfg)
	engine, err := player.NewLive(cfg.SampleRate, fetcher)
	if err != nil {
		return fmt.Errorf("failed to start audio output: %w", err)
	}
	defer engine.Close()

	tr := transport.New(engine.Source(), analysisCache, transportOptions(cfg))
	go tr.Run(ctx)

	if cfg.WatchDir != "" {
		ix := library.NewIndexer(analysisCache, cfg.WaveformResolution)
		go func() {
			if n, err := ix.Scan(ctx, cfg.WatchDir); err != nil {
				logger.Warn("library scan failed", logger.String("dir", cfg.WatchDir), logger.ErrorField(err))
			} else {
				logger.Info("library scanned", logger.String("dir", cfg.WatchDir), logger.Int("files", n))
			}
			if err := ix.Watch(ctx, cfg.WatchDir); err != nil {
				logger.Warn("library watch stopped", logger.ErrorField(err))
			}
		}()
	}

	songs := repository.NewGormSongRepository(db.GormDB)
	svc := services.NewClient(cfg.SeparationURL, cfg.ClickTrackURL, cfg.AnalysisURL, serverServiceTimeout)
	sess := session.New(tr, songs, svc, fetcher)
	defer sess.Close()

	return server.New(tr, sess, songs).Run(ctx, addr)
}

func init() {
	serverCmd.Flags().StringVar(&serverAddr, "addr", "", "监听地址，覆盖 HTTP_ADDR")
	serverCmd.Flags().DurationVar(&serverServiceTimeout, "service-timeout", 10*time.Minute, "外部服务（分轨、click track、分析）请求超时")
	serverCmd.Flags().BoolVar(&serverNoRedis, "no-redis", false, "不使用 Redis，分析缓存只保存在内存中")
	rootCmd.AddCommand(serverCmd)
}
