package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"StemMixer/model"
	"StemMixer/storage"

	"github.com/spf13/cobra"
)

var (
	stemsPrefix string
	stemsStats  bool
)

var stemsCmd = &cobra.Command{
	Use:   "stems",
	Short: "列出 MinIO 中的 stem 文件",
	Long:  `按目录列出存储桶中的音频对象（每个目录视为一首歌，文件名即 stem 名），或显示存储桶统计信息。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("MinIO配置: %s, Bucket: %s\n", cfg.MinioEndpoint, cfg.MinioBucket)
		_, mc := newFetcher(cfg)
		if mc == nil {
			return errors.New("MinIO is not configured (MINIO_ACCESS_KEY is empty or the client failed)")
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		objects, err := mc.ListObjects(ctx, stemsPrefix)
		if err != nil {
			return err
		}

		if stemsStats {
			st := storage.Stats(objects)
			fmt.Printf("对象数量: %d (音频 %d)\n", st.TotalObjects, st.AudioObjects)
			fmt.Printf("总大小: %.2f MB\n", float64(st.TotalSize)/1024/1024)
			if !st.LastModified.IsZero() {
				fmt.Printf("最后修改时间: %s\n", st.LastModified.Format(time.RFC3339))
			}
			return nil
		}

		for _, song := range storage.GroupBySong(objects) {
			fmt.Printf("\n%s\n", song.Prefix)
			keys := make([]string, 0, len(song.Stems))
			for k := range song.Stems {
				keys = append(keys, k)
			}
			model.SortStemKeys(keys)
			for _, k := range keys {
				o := song.Stems[k]
				fmt.Printf("  %-14s %8.2f MB  %s\n", k, float64(o.Size)/1024/1024, mc.ObjectURL(o.Key))
			}
		}
		return nil
	},
}

func init() {
	stemsCmd.Flags().StringVar(&stemsPrefix, "prefix", "", "只列出该前缀下的对象")
	stemsCmd.Flags().BoolVar(&stemsStats, "stats", false, "显示存储桶统计信息")
	rootCmd.AddCommand(stemsCmd)
}
