package cmd

import (
	"fmt"
	"time"

	"StemMixer/core/player"
	"StemMixer/core/services"
	"StemMixer/core/session"
	"StemMixer/core/transport"
	"StemMixer/db"
	"StemMixer/repository"

	"github.com/spf13/cobra"
)

var (
	clickAnalyze bool
	clickTimeout time.Duration
)

var clickCmd = &cobra.Command{
	Use:   "click <song-id>",
	Short: "为已存储的歌曲生成 click track",
	Long: `加载歌曲的全部音轨以取得最早的起音位置，调用 click track 服务生成对齐的节拍轨，
写回 stems.click 和 clickMetadata。使用 --analyze 可先补全缺失的 bpm/调性/拍号。`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		if err := db.ConnectGormDB(cfg); err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.CloseGormDB()

		analysisCache, closeCache := openAnalysisCache(ctx, cfg, true)
		defer closeCache()

		fetcher, _ := newFetcher(cfg)
		engine := player.NewOffline(cfg.SampleRate, fetcher)
		defer engine.Close()

		tr := transport.New(engine.Source(), analysisCache, transportOptions(cfg))
		svc := services.NewClient(cfg.SeparationURL, cfg.ClickTrackURL, cfg.AnalysisURL, clickTimeout)
		sess := session.New(tr, repository.NewGormSongRepository(db.GormDB), svc, fetcher)
		defer sess.Close()

		song, err := sess.SelectSong(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("歌曲: %s (%s)\n", song.Title, song.ID)

		if clickAnalyze {
			res, err := sess.AnalyzeMissing(ctx)
			if err != nil {
				return err
			}
			printWarnings(res.Warnings)
		}

		res, err := sess.GenerateClickTrack(ctx)
		if err != nil {
			return err
		}
		printWarnings(res.Warnings)
		fmt.Printf("click track: %s\n", res.ClickURL)
		fmt.Printf("对齐静音: %d ms, 服务端 onset 偏移: %.3fs\n", res.SilenceMs, res.OnsetOffsetSeconds)
		return nil
	},
}

func printWarnings(warnings []string) {
	for _, w := range warnings {
		fmt.Printf("警告: %s\n", w)
	}
}

func init() {
	clickCmd.Flags().BoolVar(&clickAnalyze, "analyze", false, "先补全缺失的 bpm/调性/拍号")
	clickCmd.Flags().DurationVar(&clickTimeout, "timeout", 5*time.Minute, "外部服务请求超时")
	rootCmd.AddCommand(clickCmd)
}
