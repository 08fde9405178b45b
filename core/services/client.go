// Package services talks to the external separation, click-track and
// analysis HTTP services.
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"StemMixer/logger"
)

// Error 外部服务调用失败
type Error struct {
	Op      string // e.g. "generate-click-track"
	Status  int    // HTTP status, 0 when the request never completed
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("%s: service returned %d: %s", e.Op, e.Status, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Client 外部服务客户端
type Client struct {
	separationURL string
	clickURL      string
	analysisURL   string
	httpClient    *http.Client
}

// NewClient 创建新的服务客户端
func NewClient(separationURL, clickURL, analysisURL string, timeout time.Duration) *Client {
	return &Client{
		separationURL: separationURL,
		clickURL:      clickURL,
		analysisURL:   analysisURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SetTimeout 设置请求超时时间
func (c *Client) SetTimeout(timeout time.Duration) {
	c.httpClient.Timeout = timeout
}

// GenerateClickTrack asks the click service to render a metronome aligned to
// the song's first beat.
func (c *Client) GenerateClickTrack(ctx context.Context, req ClickTrackRequest) (*ClickTrackResponse, error) {
	const op = "generate-click-track"

	body, err := json.Marshal(req)
	if err != nil {
		return nil, &Error{Op: op, Err: err}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.clickURL+"/api/generate-click-track", bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Op: op, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var resp ClickTrackResponse
	if err := c.do(op, httpReq, &resp); err != nil {
		return nil, err
	}
	if !resp.Success || resp.ClickURL == "" {
		return nil, &Error{Op: op, Message: "service did not return a click track URL"}
	}

	logger.Info("click track generated",
		logger.String("song", req.SongID),
		logger.String("url", resp.ClickURL),
		logger.Float64("onsetOffsetSeconds", resp.OnsetOffsetSeconds))
	return &resp, nil
}

// Separate uploads an audio file to the separation service.
func (c *Client) Separate(ctx context.Context, req SeparationRequest) (*SeparationResult, error) {
	const op = "separate"

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", req.Filename)
	if err != nil {
		return nil, &Error{Op: op, Err: err}
	}
	if _, err := io.Copy(part, req.File); err != nil {
		return nil, &Error{Op: op, Err: fmt.Errorf("failed to read upload: %w", err)}
	}
	separationType := req.SeparationType
	if separationType == "" {
		separationType = DefaultSeparationType
	}
	fields := map[string]string{
		"separation_type": separationType,
		"hi_fi":           strconv.FormatBool(req.HiFi),
		"song_id":         req.SongID,
		"user_id":         req.UserID,
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return nil, &Error{Op: op, Err: err}
		}
	}
	if err := mw.Close(); err != nil {
		return nil, &Error{Op: op, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.separationURL+"/separate", &buf)
	if err != nil {
		return nil, &Error{Op: op, Err: err}
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	var resp struct {
		Success bool             `json:"success"`
		Message string           `json:"message"`
		Data    SeparationResult `json:"data"`
	}
	if err := c.do(op, httpReq, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, &Error{Op: op, Message: resp.Message}
	}
	return &resp.Data, nil
}

// AnalyzeBPM detects the tempo of the audio at audioURL.
func (c *Client) AnalyzeBPM(ctx context.Context, audioURL string) (*BPMResult, error) {
	var resp BPMResult
	if err := c.analyze(ctx, "analyze-bpm-from-url", audioURL, &resp); err != nil {
		return nil, err
	}
	if resp.BPM <= 0 {
		return nil, &Error{Op: "analyze-bpm-from-url", Message: "no tempo detected"}
	}
	return &resp, nil
}

// AnalyzeKey detects the musical key of the audio at audioURL.
func (c *Client) AnalyzeKey(ctx context.Context, audioURL string) (*KeyResult, error) {
	var resp KeyResult
	if err := c.analyze(ctx, "analyze-key-from-url", audioURL, &resp); err != nil {
		return nil, err
	}
	if resp.Key == "" && resp.KeyString == "" {
		return nil, &Error{Op: "analyze-key-from-url", Message: "no key detected"}
	}
	return &resp, nil
}

// AnalyzeTimeSignature detects the meter of the audio at audioURL.
func (c *Client) AnalyzeTimeSignature(ctx context.Context, audioURL string) (*TimeSignatureResult, error) {
	var resp TimeSignatureResult
	if err := c.analyze(ctx, "analyze-time-signature-from-url", audioURL, &resp); err != nil {
		return nil, err
	}
	if resp.TimeSignature == "" {
		return nil, &Error{Op: "analyze-time-signature-from-url", Message: "no time signature detected"}
	}
	return &resp, nil
}

type successFlag interface {
	ok() bool
}

func (c *Client) analyze(ctx context.Context, op, audioURL string, out successFlag) error {
	u := fmt.Sprintf("%s/api/%s?audio_url=%s", c.analysisURL, op, url.QueryEscape(audioURL))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	if err := c.do(op, req, out); err != nil {
		return err
	}
	if !out.ok() {
		return &Error{Op: op, Message: "analysis was not successful"}
	}
	return nil
}

// do sends req and decodes a JSON body into out. Non-2xx answers become
// *Error carrying the service's "detail" message when there is one.
func (c *Client) do(op string, req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Warn("external service request failed", logger.String("op", op), logger.ErrorField(err))
		return &Error{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("读取响应失败: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var detail struct {
			Detail string `json:"detail"`
		}
		msg := http.StatusText(resp.StatusCode)
		if json.Unmarshal(body, &detail) == nil && detail.Detail != "" {
			msg = detail.Detail
		}
		logger.Warn("external service returned an error",
			logger.String("op", op),
			logger.Int("status", resp.StatusCode),
			logger.String("detail", msg))
		return &Error{Op: op, Status: resp.StatusCode, Message: msg}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &Error{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("解析响应失败: %w", err)}
	}
	return nil
}
