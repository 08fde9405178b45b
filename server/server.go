// Package server exposes the transport and the playback session over HTTP and
// a websocket snapshot stream.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"StemMixer/core/player"
	"StemMixer/core/services"
	"StemMixer/core/session"
	"StemMixer/core/transport"
	"StemMixer/logger"
	"StemMixer/model"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// Transport is the transport surface the API drives.
type Transport interface {
	Play() error
	Pause() error
	Stop() error
	Seek(seconds float64) error
	SetTrackMute(key string, muted bool) error
	SetTrackSolo(key string, solo bool) error
	SetTrackVolume(key string, volume float64) error
	SetTrackPan(key string, pan float64) error
	SetMasterVolume(volume float64)
	SetMasterMute(muted bool)
	Envelope(key string) ([]float32, error)
	Snapshot() model.TransportSnapshot
	Subscribe() (<-chan model.TransportSnapshot, func())
}

// Session is the song-level surface the API drives.
type Session interface {
	Current() *model.Song
	SelectSong(ctx context.Context, id string) (*model.Song, error)
	SetTrackColor(ctx context.Context, key, color string) (*session.Result, error)
	GenerateClickTrack(ctx context.Context) (*session.ClickResult, error)
	AnalyzeMissing(ctx context.Context) (*session.Result, error)
	SetMetronome(ctx context.Context, enabled bool) (*session.MetronomeResult, error)
	Separate(ctx context.Context, req session.SeparateRequest) (*session.Result, error)
	Close()
}

// Songs reads the song library.
type Songs interface {
	GetByID(ctx context.Context, id string) (*model.Song, error)
	ListByUser(ctx context.Context, userID string) ([]*model.Song, error)
}

// Server HTTP + WebSocket 服务
type Server struct {
	transport Transport
	session   Session
	songs     Songs
	hub       *Hub
	handler   http.Handler
	upgrader  websocket.Upgrader

	// MaxUploadBytes 分离上传的大小上限
	MaxUploadBytes int64
}

// New wires the routes. The hub must be running for websocket clients to
// receive snapshots; see Run.
func New(tr Transport, sess Session, songs Songs) *Server {
	s := &Server{
		transport: tr,
		session:   sess,
		songs:     songs,
		hub:       NewHub(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		MaxUploadBytes: 200 << 20,
	}
	// CORS 包在路由外面，预检请求不需要匹配任何路由
	s.handler = corsMiddleware(s.routes())
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Hub returns the websocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.HealthHandler).Methods(http.MethodGet)

	// 歌曲库
	api.HandleFunc("/songs", s.ListSongsHandler).Methods(http.MethodGet)
	api.HandleFunc("/songs/{id}", s.GetSongHandler).Methods(http.MethodGet)
	api.HandleFunc("/separate", s.SeparateHandler).Methods(http.MethodPost)

	// 当前会话
	api.HandleFunc("/session", s.GetSessionHandler).Methods(http.MethodGet)
	api.HandleFunc("/session", s.CloseSessionHandler).Methods(http.MethodDelete)
	api.HandleFunc("/session/song", s.SelectSongHandler).Methods(http.MethodPost)
	api.HandleFunc("/session/click-track", s.ClickTrackHandler).Methods(http.MethodPost)
	api.HandleFunc("/session/analyze", s.AnalyzeHandler).Methods(http.MethodPost)
	api.HandleFunc("/session/metronome", s.MetronomeHandler).Methods(http.MethodPut)

	// 播放控制
	api.HandleFunc("/transport", s.GetTransportHandler).Methods(http.MethodGet)
	api.HandleFunc("/transport/play", s.PlayHandler).Methods(http.MethodPost)
	api.HandleFunc("/transport/pause", s.PauseHandler).Methods(http.MethodPost)
	api.HandleFunc("/transport/stop", s.StopHandler).Methods(http.MethodPost)
	api.HandleFunc("/transport/seek", s.SeekHandler).Methods(http.MethodPost)
	api.HandleFunc("/transport/master", s.MasterHandler).Methods(http.MethodPut)
	api.HandleFunc("/transport/tracks/{key}", s.TrackHandler).Methods(http.MethodPut)
	api.HandleFunc("/transport/tracks/{key}/waveform", s.WaveformHandler).Methods(http.MethodGet)

	router.HandleFunc("/ws/transport", s.WebSocketHandler)
	return router
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // 分离上传可能很慢
		IdleTimeout:  120 * time.Second,
	}

	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.hub.Run(hubCtx)

	updates, unsubscribe := s.transport.Subscribe()
	defer unsubscribe()
	go s.hub.Forward(hubCtx, updates)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", logger.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}

// corsMiddleware 添加 CORS 头
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to write response", logger.ErrorField(err))
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", logger.Int("status", status), logger.ErrorField(err))
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: msg})
}

// statusFor maps domain errors to HTTP statuses.
func statusFor(err error) int {
	var svcErr *services.Error
	switch {
	case errors.Is(err, transport.ErrNotFinite):
		return http.StatusBadRequest
	case errors.Is(err, transport.ErrNothingToPlay), errors.Is(err, player.ErrInvalidMetronome):
		return http.StatusUnprocessableEntity
	case errors.Is(err, transport.ErrUnknownTrack), errors.Is(err, session.ErrSongNotFound):
		return http.StatusNotFound
	case errors.Is(err, transport.ErrNotLoaded), errors.Is(err, session.ErrNoSongSelected), errors.Is(err, session.ErrMissingTempo),
		errors.Is(err, transport.ErrReferenceTrack):
		return http.StatusConflict
	case errors.As(err, &svcErr):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
