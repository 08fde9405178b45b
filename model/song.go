package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// 常用的 stem 名称
const (
	StemVocals       = "vocals"
	StemDrums        = "drums"
	StemBass         = "bass"
	StemPiano        = "piano"
	StemGuitar       = "guitar"
	StemOther        = "other"
	StemInstrumental = "instrumental"
	StemClick        = "click"
	// StemMetronome 合成的节拍器轨，不属于歌曲本身，不持久化
	StemMetronome = "metronome"
)

// StemOrder 是 track 的展示顺序，也决定参考轨的优先级；不在列表中的 key 按字母序排在后面
var StemOrder = []string{StemVocals, StemDrums, StemBass, StemPiano, StemGuitar, StemOther, StemInstrumental}

// IsAuxiliaryStem reports whether key is a timing aid rather than part of the song.
func IsAuxiliaryStem(key string) bool {
	return key == StemClick || key == StemMetronome
}

func auxRank(key string) int {
	switch key {
	case StemClick:
		return 1
	case StemMetronome:
		return 2
	}
	return 0
}

// stemRank returns the position of key in StemOrder, or len(StemOrder) for unknown keys.
func stemRank(key string) int {
	for i, k := range StemOrder {
		if k == key {
			return i
		}
	}
	return len(StemOrder)
}

// scanJSON 把数据库中的 JSON 列解析到 dst，空值保持零值
func scanJSON(value interface{}, dst interface{}) (bool, error) {
	if value == nil {
		return false, nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return false, fmt.Errorf("unsupported JSON column type %T", value)
	}
	if len(bytes) == 0 || string(bytes) == "null" {
		return false, nil
	}
	return true, json.Unmarshal(bytes, dst)
}

// StemMap maps a stem key (vocals, drums, click...) to its asset URL.
type StemMap map[string]string

// Scan 实现 sql.Scanner 接口
func (s *StemMap) Scan(value interface{}) error {
	*s = nil
	var m map[string]string
	ok, err := scanJSON(value, &m)
	if err != nil || !ok {
		return err
	}
	*s = m
	return nil
}

// Value 实现 driver.Valuer 接口
func (s StemMap) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal(map[string]string(s))
}

// Keys returns the stem keys that carry a non-empty URL, sorted.
func (s StemMap) Keys() []string {
	keys := make([]string, 0, len(s))
	for k, url := range s {
		if url != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Ordered returns the non-empty keys in StemOrder, then the rest alphabetically.
// The click track always comes last.
func (s StemMap) Ordered() []string {
	keys := s.Keys()
	SortStemKeys(keys)
	return keys
}

// SortStemKeys sorts keys in place by StemOrder rank, alphabetical within a rank,
// with the click track and then the metronome last.
func SortStemKeys(keys []string) {
	sort.SliceStable(keys, func(i, j int) bool {
		ai, aj := auxRank(keys[i]), auxRank(keys[j])
		if ai != aj {
			return ai < aj
		}
		ri, rj := stemRank(keys[i]), stemRank(keys[j])
		if ri != rj {
			return ri < rj
		}
		return keys[i] < keys[j]
	})
}

// With returns a copy of the map with key set to url.
func (s StemMap) With(key, url string) StemMap {
	out := make(StemMap, len(s)+1)
	for k, v := range s {
		out[k] = v
	}
	out[key] = url
	return out
}

// TrackColors 每个 track 的颜色覆盖（key -> CSS 颜色）
type TrackColors map[string]string

// Scan 实现 sql.Scanner 接口
func (c *TrackColors) Scan(value interface{}) error {
	*c = nil
	var m map[string]string
	ok, err := scanJSON(value, &m)
	if err != nil || !ok {
		return err
	}
	*c = m
	return nil
}

// Value 实现 driver.Valuer 接口
func (c TrackColors) Value() (driver.Value, error) {
	if c == nil {
		return nil, nil
	}
	return json.Marshal(map[string]string(c))
}

// ClickMetadata describes a generated click track stored on the song.
type ClickMetadata struct {
	Name               string    `json:"name"`
	BPM                float64   `json:"bpm"`
	TimeSignature      string    `json:"timeSignature"`
	DurationSeconds    float64   `json:"durationSeconds"`
	GeneratedAt        time.Time `json:"generatedAt"`
	OnsetOffsetSeconds float64   `json:"onsetOffsetSeconds"`
	SilenceMs          int       `json:"silenceMs"`
}

// Scan 实现 sql.Scanner 接口
func (m *ClickMetadata) Scan(value interface{}) error {
	*m = ClickMetadata{}
	_, err := scanJSON(value, m)
	return err
}

// Value 实现 driver.Valuer 接口
func (m ClickMetadata) Value() (driver.Value, error) {
	return json.Marshal(m)
}

// Song 一首已分轨的歌曲
type Song struct {
	ID              string         `json:"id" gorm:"primaryKey;size:36"`
	UserID          string         `json:"userId" gorm:"size:64;index"`
	Title           string         `json:"title" gorm:"size:255"`
	Artist          string         `json:"artist" gorm:"size:255"`
	BPM             float64        `json:"bpm"`
	BPMConfidence   float64        `json:"bpmConfidence"`
	Key             string         `json:"key" gorm:"column:music_key;size:32"`
	TimeSignature   string         `json:"timeSignature" gorm:"size:16"`
	DurationSeconds float64        `json:"durationSeconds"`
	OriginalURL     string         `json:"originalUrl" gorm:"size:1024"`
	Stems           StemMap        `json:"stems" gorm:"type:json"`
	ClickMetadata   *ClickMetadata `json:"clickMetadata,omitempty" gorm:"type:json"`
	TrackColors     TrackColors    `json:"trackColors,omitempty" gorm:"type:json"`
	SeparationType  string         `json:"separationType" gorm:"size:64"`
	TaskID          string         `json:"taskId" gorm:"size:64"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// TableName 指定表名
func (Song) TableName() string {
	return "songs"
}

// HasTempo reports whether the song carries enough metadata to generate a click track.
func (s *Song) HasTempo() bool {
	return s.BPM > 0 && s.DurationSeconds > 0
}

// TimeSignatureOrDefault 未检测到拍号时按 4/4 处理
func (s *Song) TimeSignatureOrDefault() string {
	if s.TimeSignature == "" {
		return "4/4"
	}
	return s.TimeSignature
}
