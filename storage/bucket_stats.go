package storage

import (
	"path"
	"sort"
	"time"

	"StemMixer/core/decoder"
)

// BucketStats 存储桶统计信息
type BucketStats struct {
	TotalObjects int64
	TotalSize    int64
	AudioObjects int64
	LastModified time.Time
}

// SongObjects 一首歌在桶里的 stem 文件，按目录分组
type SongObjects struct {
	Prefix string
	Stems  map[string]ObjectInfo
}

// Stats 汇总对象列表
func Stats(objects []ObjectInfo) BucketStats {
	var stats BucketStats
	for _, o := range objects {
		stats.TotalObjects++
		stats.TotalSize += o.Size
		if decoder.IsAudioName(o.Key) {
			stats.AudioObjects++
		}
		if o.LastModified.After(stats.LastModified) {
			stats.LastModified = o.LastModified
		}
	}
	return stats
}

// GroupBySong 按目录把音频对象分组，文件名（去掉扩展名）作为 stem 名，
// 例如 songs/abc/vocals.wav -> songs/abc: vocals。
func GroupBySong(objects []ObjectInfo) []SongObjects {
	groups := make(map[string]map[string]ObjectInfo)
	for _, o := range objects {
		if !decoder.IsAudioName(o.Key) {
			continue
		}
		dir, file := path.Split(o.Key)
		stem := file[:len(file)-len(path.Ext(file))]
		if groups[dir] == nil {
			groups[dir] = make(map[string]ObjectInfo)
		}
		groups[dir][stem] = o
	}

	out := make([]SongObjects, 0, len(groups))
	for dir, stems := range groups {
		out = append(out, SongObjects{Prefix: dir, Stems: stems})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Prefix < out[j].Prefix })
	return out
}
