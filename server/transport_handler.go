package server

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"

	"StemMixer/model"

	"github.com/gorilla/mux"
)

// TransportResponse 播放控制的响应
type TransportResponse struct {
	Transport model.TransportSnapshot `json:"transport"`
	Warnings  []string                `json:"warnings,omitempty"`
}

// SeekRequest 跳转请求
type SeekRequest struct {
	Position *float64 `json:"position"`
}

// TrackRequest 单轨设置请求，未设置的字段不修改
type TrackRequest struct {
	Muted  *bool    `json:"muted,omitempty"`
	Solo   *bool    `json:"solo,omitempty"`
	Volume *float64 `json:"volume,omitempty"`
	Pan    *float64 `json:"pan,omitempty"`
	Color  *string  `json:"color,omitempty"`
}

// WaveformResponse 波形数据
type WaveformResponse struct {
	Key      string    `json:"key"`
	Envelope []float32 `json:"envelope"`
}

// GetTransportHandler 返回当前 transport 快照
func (s *Server) GetTransportHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, TransportResponse{Transport: s.transport.Snapshot()})
}

// PlayHandler 播放
func (s *Server) PlayHandler(w http.ResponseWriter, r *http.Request) {
	s.command(w, s.transport.Play)
}

// PauseHandler 暂停
func (s *Server) PauseHandler(w http.ResponseWriter, r *http.Request) {
	s.command(w, s.transport.Pause)
}

// StopHandler 停止并回到开头
func (s *Server) StopHandler(w http.ResponseWriter, r *http.Request) {
	s.command(w, s.transport.Stop)
}

// SeekHandler 跳转到指定秒数
func (s *Server) SeekHandler(w http.ResponseWriter, r *http.Request) {
	var req SeekRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Position == nil {
		badRequest(w, "position is required")
		return
	}
	if !finite(*req.Position) {
		badRequest(w, "position must be a finite number")
		return
	}
	s.command(w, func() error { return s.transport.Seek(*req.Position) })
}

// MasterHandler 设置总音量/总静音
func (s *Server) MasterHandler(w http.ResponseWriter, r *http.Request) {
	var req MasterData
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request")
		return
	}
	if req.Volume != nil && !finite(*req.Volume) {
		badRequest(w, "volume must be a finite number")
		return
	}
	s.command(w, func() error {
		applyMaster(s.transport, req)
		return nil
	})
}

// TrackHandler 设置单轨 mute/solo/volume/pan/color
func (s *Server) TrackHandler(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	var req TrackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request")
		return
	}
	if (req.Volume != nil && !finite(*req.Volume)) || (req.Pan != nil && !finite(*req.Pan)) {
		badRequest(w, "volume and pan must be finite numbers")
		return
	}

	err := applyTrack(s.transport, TrackData{
		Key:    key,
		Muted:  req.Muted,
		Solo:   req.Solo,
		Volume: req.Volume,
		Pan:    req.Pan,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	resp := TransportResponse{}
	if req.Color != nil {
		res, err := s.session.SetTrackColor(r.Context(), key, *req.Color)
		if err != nil {
			writeError(w, err)
			return
		}
		resp.Warnings = res.Warnings
	}
	resp.Transport = s.transport.Snapshot()
	writeJSON(w, http.StatusOK, resp)
}

// WaveformHandler 返回某一轨的波形包络
func (s *Server) WaveformHandler(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	env, err := s.transport.Envelope(key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, WaveformResponse{Key: key, Envelope: env})
}

// command runs fn and answers with the resulting snapshot.
func (s *Server) command(w http.ResponseWriter, fn func() error) {
	if err := fn(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TransportResponse{Transport: s.transport.Snapshot()})
}

// applyTrack 依次应用单轨设置，遇到错误即停止
func applyTrack(tr Transport, d TrackData) error {
	if d.Key == "" {
		return errors.New("track key is required")
	}
	if d.Muted != nil {
		if err := tr.SetTrackMute(d.Key, *d.Muted); err != nil {
			return err
		}
	}
	if d.Solo != nil {
		if err := tr.SetTrackSolo(d.Key, *d.Solo); err != nil {
			return err
		}
	}
	if d.Volume != nil {
		if err := tr.SetTrackVolume(d.Key, *d.Volume); err != nil {
			return err
		}
	}
	if d.Pan != nil {
		if err := tr.SetTrackPan(d.Key, *d.Pan); err != nil {
			return err
		}
	}
	return nil
}

func applyMaster(tr Transport, d MasterData) {
	if d.Volume != nil {
		tr.SetMasterVolume(*d.Volume)
	}
	if d.Muted != nil {
		tr.SetMasterMute(*d.Muted)
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
