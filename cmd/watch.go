package cmd

import (
	"errors"

	"StemMixer/core/library"
	"StemMixer/logger"

	"github.com/spf13/cobra"
)

var (
	watchScanOnly bool
	watchNoRedis  bool
)

var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "预计算目录中音频的波形与 onset",
	Long:  `扫描目录中的音频文件并写入分析缓存（Redis），之后持续监听新文件。目录默认取 WATCH_DIR。`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := cfg.WatchDir
		if len(args) == 1 {
			dir = args[0]
		}
		if dir == "" {
			return errors.New("no directory given and WATCH_DIR is not set")
		}

		ctx, stop := signalContext()
		defer stop()

		analysisCache, closeCache := openAnalysisCache(ctx, cfg, !watchNoRedis)
		defer closeCache()

		ix := library.NewIndexer(analysisCache, cfg.WaveformResolution)
		n, err := ix.Scan(ctx, dir)
		if err != nil {
			return err
		}
		logger.Info("library scanned", logger.String("dir", dir), logger.Int("files", n), logger.Int("cached", analysisCache.Len()))
		if watchScanOnly {
			return nil
		}
		return ix.Watch(ctx, dir)
	},
}

func init() {
	watchCmd.Flags().BoolVar(&watchScanOnly, "scan-only", false, "扫描完成后退出，不监听")
	watchCmd.Flags().BoolVar(&watchNoRedis, "no-redis", false, "不写 Redis（仅用于测试扫描）")
	rootCmd.AddCommand(watchCmd)
}
