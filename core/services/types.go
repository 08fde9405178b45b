package services

import "io"

// DefaultSeparationType is used when a separation request names none.
const DefaultSeparationType = "vocals-instrumental"

// ClickTrackRequest is the body of POST /api/generate-click-track.
type ClickTrackRequest struct {
	BPM             float64 `json:"bpm"`
	DurationSeconds float64 `json:"duration_seconds"`
	TimeSignature   string  `json:"time_signature"`
	SongID          string  `json:"song_id"`
	UserID          string  `json:"user_id,omitempty"`
	AudioURL        string  `json:"audio_url,omitempty"`
	SilenceMs       int     `json:"silence_ms"`
}

// ClickTrackResponse is the answer of the click service.
type ClickTrackResponse struct {
	Success            bool    `json:"success"`
	ClickURL           string  `json:"click_url"`
	FileID             string  `json:"file_id"`
	OnsetOffsetSeconds float64 `json:"onset_offset_seconds"`
}

// SeparationRequest is an upload for the separation service.
type SeparationRequest struct {
	File           io.Reader
	Filename       string
	SeparationType string
	HiFi           bool
	SongID         string
	UserID         string
}

// SeparationResult is the "data" object of a successful separation.
type SeparationResult struct {
	TaskID         string            `json:"task_id"`
	SongID         string            `json:"song_id"`
	OriginalURL    string            `json:"original_url"`
	Stems          map[string]string `json:"stems"`
	SeparationType string            `json:"separation_type"`
	HiFi           bool              `json:"hi_fi"`
	ProcessedAt    string            `json:"processed_at"`
	UserID         string            `json:"user_id"`
}

// BPMResult is the answer of GET /api/analyze-bpm-from-url.
type BPMResult struct {
	Success    bool    `json:"success"`
	BPM        float64 `json:"bpm"`
	Confidence float64 `json:"confidence"`
}

func (r *BPMResult) ok() bool { return r.Success }

// KeyResult is the answer of GET /api/analyze-key-from-url.
type KeyResult struct {
	Success    bool    `json:"success"`
	Key        string  `json:"key"`
	Scale      string  `json:"scale"`
	KeyString  string  `json:"key_string"`
	Confidence float64 `json:"confidence"`
}

func (r *KeyResult) ok() bool { return r.Success }

// Display returns "C major" style text.
func (r *KeyResult) Display() string {
	if r.KeyString != "" {
		return r.KeyString
	}
	if r.Scale == "" {
		return r.Key
	}
	return r.Key + " " + r.Scale
}

// TimeSignatureResult is the answer of GET /api/analyze-time-signature-from-url.
type TimeSignatureResult struct {
	Success         bool    `json:"success"`
	TimeSignature   string  `json:"time_signature"`
	Confidence      float64 `json:"confidence"`
	DetectedPattern string  `json:"detected_pattern"`
}

func (r *TimeSignatureResult) ok() bool { return r.Success }
