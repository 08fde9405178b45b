package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"StemMixer/core/analysis"
	"StemMixer/core/decoder"
	"StemMixer/core/transport"

	"github.com/spf13/cobra"
)

var (
	analyzeResolution int
	analyzeFine       bool
	analyzeJSON       bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file-or-url>",
	Short: "计算音频的 onset 和波形包络",
	Long:  `读取本地文件或 http(s)/minio 地址，输出首个起音位置（毫秒）、时长和波形包络。`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		src := args[0]
		fetcher, _ := newFetcher(cfg)
		data, err := fetcher.Fetch(ctx, src)
		if err != nil {
			return err
		}
		asset, err := decoder.Decode(src, data)
		if err != nil {
			return err
		}

		buf := asset.Mono()
		a := transport.Analyze(src, buf, analyzeResolution)
		if analyzeFine {
			a.OnsetMs, a.OnsetDetected = analysis.FindOnset(buf, analysis.FineOnset)
		}

		if analyzeJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(a)
		}

		fmt.Printf("文件: %s\n", src)
		fmt.Printf("采样率: %d Hz, 时长: %.2fs\n", a.SampleRate, float64(a.DurationMs)/1000)
		if a.OnsetDetected {
			fmt.Printf("首个起音: %d ms\n", a.OnsetMs)
		} else {
			fmt.Println("首个起音: 未检测到（全部低于阈值）")
		}
		fmt.Printf("包络点数: %d\n", len(a.Envelope))
		return nil
	},
}

func init() {
	analyzeCmd.Flags().IntVar(&analyzeResolution, "resolution", 800, "包络点数")
	analyzeCmd.Flags().BoolVar(&analyzeFine, "fine", false, "使用 50ms 窗口/0.02 阈值（click track 对齐用的参数）")
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "以 JSON 输出完整结果")
	rootCmd.AddCommand(analyzeCmd)
}
