package cmd

import (
	"fmt"
	"os"

	"StemMixer/config"
	"StemMixer/logger"

	"github.com/spf13/cobra"
)

var (
	cfg      *config.Config
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "stemmixer",
	Short: "StemMixer plays separated stems of a song in sync.",
	Long: `StemMixer 把一首歌分离出的多个音轨（人声、鼓、贝斯……以及 click track）
放在同一个时间轴上播放，提供单轨静音/独奏/音量、波形和 click track 生成。`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.Load()
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		logger.InitLogger(logger.Config{
			Level:      logger.ParseLevel(cfg.LogLevel),
			OutputPath: cfg.LogPath,
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "覆盖 LOG_LEVEL (debug, info, warn, error)")
}
