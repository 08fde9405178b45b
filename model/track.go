package model

import "time"

// TrackStatus is the load state of a single stem.
type TrackStatus string

const (
	TrackStatusLoading     TrackStatus = "loading"
	TrackStatusAvailable   TrackStatus = "available"
	TrackStatusUnavailable TrackStatus = "unavailable"
)

// TransportState is the state of the multi-track transport.
type TransportState string

const (
	TransportIdle    TransportState = "idle"
	TransportLoading TransportState = "loading"
	TransportReady   TransportState = "ready"
	TransportPlaying TransportState = "playing"
)

// TrackAnalysis 按 URL 缓存的分析结果（波形包络 + onset）
type TrackAnalysis struct {
	URL           string    `json:"url"`
	Envelope      []float32 `json:"envelope"`
	OnsetMs       int       `json:"onsetMs"`
	OnsetDetected bool      `json:"onsetDetected"`
	SampleRate    int       `json:"sampleRate"`
	DurationMs    int       `json:"durationMs"`
	ComputedAt    time.Time `json:"computedAt"`
}

// TrackSnapshot is the externally visible state of one track.
type TrackSnapshot struct {
	Key           string      `json:"key"`
	SourceURL     string      `json:"sourceUrl"`
	Status        TrackStatus `json:"status"`
	Error         string      `json:"error,omitempty"`
	OnsetMs       *int        `json:"onsetMs,omitempty"`
	OnsetDetected bool        `json:"onsetDetected"`
	Muted         bool        `json:"muted"`
	Solo          bool        `json:"solo"`
	Volume        float64     `json:"volume"`
	Pan           float64     `json:"pan"`
	Gain          float64     `json:"gain"` // resolved gain after mute/solo/master
	Color         string      `json:"color,omitempty"`
	Position      float64     `json:"position"`
}

// TransportSnapshot 推送给订阅者的传输状态
type TransportSnapshot struct {
	State        TransportState  `json:"state"`
	Playhead     float64         `json:"playhead"`
	IsPlaying    bool            `json:"isPlaying"`
	Duration     float64         `json:"duration"`
	ReferenceKey string          `json:"referenceKey,omitempty"`
	Volume       float64         `json:"volume"`
	Muted        bool            `json:"muted"`
	Generation   uint64          `json:"generation"`
	Tracks       []TrackSnapshot `json:"tracks"`
	UpdatedAt    int64           `json:"updatedAt"` // 时间戳毫秒
}

// Track returns the snapshot of the named track, if present.
func (s TransportSnapshot) Track(key string) (TrackSnapshot, bool) {
	for _, t := range s.Tracks {
		if t.Key == key {
			return t, true
		}
	}
	return TrackSnapshot{}, false
}
