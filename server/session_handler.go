package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"StemMixer/core/player"
	"StemMixer/core/services"
	"StemMixer/core/session"
	"StemMixer/logger"
	"StemMixer/model"

	"github.com/gorilla/mux"
)

// SessionResponse 当前会话状态
type SessionResponse struct {
	Song      *model.Song             `json:"song"`
	Transport model.TransportSnapshot `json:"transport"`
	Warnings  []string                `json:"warnings,omitempty"`
}

// SelectSongRequest 选择歌曲请求
type SelectSongRequest struct {
	SongID string `json:"songId"`
}

// MetronomeRequest 开关节拍器
type MetronomeRequest struct {
	Enabled *bool `json:"enabled"`
}

// MetronomeResponse 节拍器状态
type MetronomeResponse struct {
	Metronome *session.MetronomeResult `json:"metronome"`
	Transport model.TransportSnapshot  `json:"transport"`
}

// HealthHandler 健康检查
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"clients": s.hub.ClientCount(),
		"audio":   player.AudioAvailable,
	})
}

// ListSongsHandler 列出用户的歌曲
func (s *Server) ListSongsHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		badRequest(w, "userId is required")
		return
	}
	songs, err := s.songs.ListByUser(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if songs == nil {
		songs = []*model.Song{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"songs": songs})
}

// GetSongHandler 获取单个歌曲
func (s *Server) GetSongHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	song, err := s.songs.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if song == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "song not found"})
		return
	}
	writeJSON(w, http.StatusOK, song)
}

// GetSessionHandler 返回当前歌曲与 transport 状态
func (s *Server) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, SessionResponse{
		Song:      s.session.Current(),
		Transport: s.transport.Snapshot(),
	})
}

// SelectSongHandler 选择歌曲并加载全部音轨
func (s *Server) SelectSongHandler(w http.ResponseWriter, r *http.Request) {
	var req SelectSongRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SongID == "" {
		badRequest(w, "songId is required")
		return
	}

	song, err := s.session.SelectSong(r.Context(), req.SongID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{Song: song, Transport: s.transport.Snapshot()})
}

// CloseSessionHandler 卸载当前歌曲
func (s *Server) CloseSessionHandler(w http.ResponseWriter, r *http.Request) {
	s.session.Close()
	writeJSON(w, http.StatusOK, SessionResponse{Transport: s.transport.Snapshot()})
}

// ClickTrackHandler 为当前歌曲生成 click track
func (s *Server) ClickTrackHandler(w http.ResponseWriter, r *http.Request) {
	res, err := s.session.GenerateClickTrack(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"song":               res.Song,
		"clickUrl":           res.ClickURL,
		"silenceMs":          res.SilenceMs,
		"onsetOffsetSeconds": res.OnsetOffsetSeconds,
		"warnings":           res.Warnings,
		"transport":          s.transport.Snapshot(),
	})
}

// MetronomeHandler 打开或关闭合成节拍器；音量和静音走 tracks/metronome
func (s *Server) MetronomeHandler(w http.ResponseWriter, r *http.Request) {
	var req MetronomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		badRequest(w, "enabled is required")
		return
	}
	res, err := s.session.SetMetronome(r.Context(), *req.Enabled)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MetronomeResponse{Metronome: res, Transport: s.transport.Snapshot()})
}

// AnalyzeHandler 补全当前歌曲缺失的 bpm/key/拍号
func (s *Server) AnalyzeHandler(w http.ResponseWriter, r *http.Request) {
	res, err := s.session.AnalyzeMissing(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{Song: res.Song, Transport: s.transport.Snapshot(), Warnings: res.Warnings})
}

// SeparateHandler 上传音频并分离成 stems
func (s *Server) SeparateHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		badRequest(w, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		badRequest(w, "file is required")
		return
	}
	defer file.Close()

	hiFi := false
	if v := r.FormValue("hi_fi"); v != "" {
		if hiFi, err = strconv.ParseBool(v); err != nil {
			badRequest(w, "hi_fi must be a boolean")
			return
		}
	}

	req := session.SeparateRequest{
		SeparationRequest: services.SeparationRequest{
			File:           file,
			Filename:       header.Filename,
			SeparationType: strings.TrimSpace(r.FormValue("separation_type")),
			HiFi:           hiFi,
			UserID:         r.FormValue("user_id"),
		},
		Title:  r.FormValue("title"),
		Artist: r.FormValue("artist"),
	}

	logger.Info("separation upload received",
		logger.String("file", header.Filename),
		logger.Int64("size", header.Size),
		logger.String("type", req.SeparationType))

	res, err := s.session.Separate(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}
