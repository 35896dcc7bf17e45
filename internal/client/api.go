package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	analysis "github.com/zhouzirui/voice-diary/backend/internal/analysis/emotion"
	"github.com/zhouzirui/voice-diary/backend/internal/model/diary"
)

// Recording 是一次录音的结果。
type Recording struct {
	Data     []byte
	Filename string
	MimeType string
}

// StartResponse 对应 POST /api/diary/start。
type StartResponse struct {
	SessionID string `json:"sessionId"`
	AIMessage string `json:"aiMessage"`
}

// TurnResponse 对应 /respond 与 /reflect。
type TurnResponse struct {
	Transcript string `json:"transcript"`
	AIMessage  string `json:"aiMessage"`
	IsEnding   bool   `json:"isEnding"`
}

// EndResponse 对应 POST /api/diary/end。
type EndResponse struct {
	EmotionLabel   string  `json:"emotionLabel"`
	EmotionScore   float64 `json:"emotionScore"`
	EmotionValence float64 `json:"emotionValence"`
	Summary        string  `json:"summary"`
}

// Emotion 把结束结果转换为通用情绪结构。
func (r EndResponse) Emotion() analysis.Result {
	return analysis.Result{
		Label:   analysis.Label(r.EmotionLabel),
		Score:   r.EmotionScore,
		Valence: r.EmotionValence,
		Summary: r.Summary,
	}
}

// APIError 是服务端返回的非 2xx 响应。
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned status %d: %s", e.StatusCode, e.Message)
}

// API 是控制器依赖的服务端接口。
type API interface {
	Start(ctx context.Context, deviceID string) (StartResponse, error)
	Respond(ctx context.Context, sessionID string, rec Recording) (TurnResponse, error)
	Reflect(ctx context.Context, history []diary.Turn, rec Recording) (TurnResponse, error)
	End(ctx context.Context, sessionID string) (EndResponse, error)
	Analyze(ctx context.Context, transcript string) (analysis.Result, error)
}

// Client 通过 HTTP 调用日记后端。
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient 创建客户端。timeout 为 0 时使用 60 秒，转写与生成可能较慢。
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) Start(ctx context.Context, deviceID string) (StartResponse, error) {
	var out StartResponse
	err := c.postJSON(ctx, "/api/diary/start", map[string]string{"deviceId": deviceID}, &out)
	return out, err
}

func (c *Client) Respond(ctx context.Context, sessionID string, rec Recording) (TurnResponse, error) {
	var out TurnResponse
	err := c.postAudio(ctx, "/api/diary/respond", map[string]string{"sessionId": sessionID}, rec, &out)
	return out, err
}

func (c *Client) Reflect(ctx context.Context, history []diary.Turn, rec Recording) (TurnResponse, error) {
	if history == nil {
		history = []diary.Turn{}
	}
	raw, err := json.Marshal(history)
	if err != nil {
		return TurnResponse{}, fmt.Errorf("marshal history: %w", err)
	}

	var out TurnResponse
	err = c.postAudio(ctx, "/api/diary/reflect", map[string]string{"history": string(raw)}, rec, &out)
	return out, err
}

func (c *Client) End(ctx context.Context, sessionID string) (EndResponse, error) {
	var out EndResponse
	err := c.postJSON(ctx, "/api/diary/end", map[string]string{"sessionId": sessionID}, &out)
	return out, err
}

func (c *Client) Analyze(ctx context.Context, transcript string) (analysis.Result, error) {
	var out analysis.Result
	err := c.postJSON(ctx, "/api/diary/analyze", map[string]string{"transcript": transcript}, &out)
	return out, err
}

// Weekly 读取服务端周报。tz 为空时使用服务端默认时区。
func (c *Client) Weekly(ctx context.Context, deviceID, tz string) ([]diary.WeeklyDay, error) {
	query := url.Values{"deviceId": {deviceID}}
	if tz != "" {
		query.Set("tz", tz)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/weekly-review?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var out struct {
		Days []diary.WeeklyDay `json:"days"`
	}
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out.Days, nil
}

// Health 检查服务端是否可用。
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, nil)
}

func (c *Client) postJSON(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) postAudio(ctx context.Context, path string, fields map[string]string, rec Recording, out any) error {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}

	filename := rec.Filename
	if filename == "" {
		filename = "audio.m4a"
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audio"; filename=%q`, filename))
	if rec.MimeType != "" {
		header.Set("Content-Type", rec.MimeType)
	} else {
		header.Set("Content-Type", "application/octet-stream")
	}
	part, err := writer.CreatePart(header)
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(rec.Data); err != nil {
		return fmt.Errorf("failed to write audio: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s failed: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var payload struct {
			Error string `json:"error"`
		}
		message := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
			message = payload.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: message}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
