package speech

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	defaultVolcengineEndpoint = "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel_nostream"
	defaultVolcengineResource = "volc.bigasr.sauc.duration"

	// 16kHz, 16bit, mono, 200ms = 6400 bytes
	defaultChunkSize     = 6400
	defaultChunkInterval = 200 * time.Millisecond

	volcengineSuccessCode = 20000000
)

// VolcengineConfig 描述火山引擎大模型流式识别参数。
type VolcengineConfig struct {
	AppID       string
	AccessToken string
	Language    string
	Timeout     time.Duration

	Endpoint      string
	ResourceID    string
	ChunkSize     int
	ChunkInterval time.Duration
}

// VolcengineTranscriber 通过 WebSocket 二进制协议调用火山引擎 ASR。
type VolcengineTranscriber struct {
	cfg    VolcengineConfig
	dialer *websocket.Dialer
}

// NewVolcengineTranscriber 创建识别客户端，缺少凭证时返回错误。
func NewVolcengineTranscriber(cfg VolcengineConfig) (*VolcengineTranscriber, error) {
	cfg.AppID = strings.TrimSpace(cfg.AppID)
	cfg.AccessToken = strings.TrimSpace(cfg.AccessToken)
	if cfg.AppID == "" || cfg.AccessToken == "" {
		return nil, fmt.Errorf("火山引擎语音配置缺少 AppID 或 AccessToken")
	}

	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultVolcengineEndpoint
	}
	if cfg.ResourceID == "" {
		cfg.ResourceID = defaultVolcengineResource
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.ChunkInterval < 0 {
		cfg.ChunkInterval = 0
	} else if cfg.ChunkInterval == 0 {
		cfg.ChunkInterval = defaultChunkInterval
	}

	return &VolcengineTranscriber{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: 30 * time.Second},
	}, nil
}

type asrRequest struct {
	User struct {
		UID string `json:"uid,omitempty"`
	} `json:"user"`
	Audio struct {
		Language string `json:"language,omitempty"`
		Format   string `json:"format"`
		Codec    string `json:"codec,omitempty"`
		Rate     int    `json:"rate,omitempty"`
		Bits     int    `json:"bits,omitempty"`
		Channel  int    `json:"channel,omitempty"`
	} `json:"audio"`
	Request struct {
		ModelName      string `json:"model_name"`
		EnableITN      bool   `json:"enable_itn,omitempty"`
		EnablePunc     bool   `json:"enable_punc,omitempty"`
		ShowUtterances bool   `json:"show_utterances,omitempty"`
		ResultType     string `json:"result_type,omitempty"`
		EndWindowSize  int    `json:"end_window_size,omitempty"`
	} `json:"request"`
}

type asrUtterance struct {
	Text     string `json:"text"`
	Definite bool   `json:"definite"`
}

type asrResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Result  struct {
		Text       string         `json:"text"`
		Utterances []asrUtterance `json:"utterances,omitempty"`
	} `json:"result"`
}

// Transcribe 建立一次性连接，分包上传音频并等待最终结果。
func (v *VolcengineTranscriber) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if len(audio) == 0 {
		return "", ErrEmptyAudio
	}

	format := AudioFormat(mimeType)
	codec := "raw"
	switch format {
	case "wav", "pcm", "mp3":
	case "ogg":
		codec = "opus"
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	if v.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.cfg.Timeout)
		defer cancel()
	}

	connectID := uuid.NewString()
	header := http.Header{}
	header.Set("X-Api-App-Key", v.cfg.AppID)
	header.Set("X-Api-Access-Key", v.cfg.AccessToken)
	header.Set("X-Api-Resource-Id", v.cfg.ResourceID)
	header.Set("X-Api-Connect-Id", connectID)

	conn, resp, err := v.dialer.DialContext(ctx, v.cfg.Endpoint, header)
	if err != nil {
		return "", fmt.Errorf("connect ASR websocket: %w", err)
	}
	defer conn.Close()

	if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
		log.Printf("[asr] connected with logid: %s", logid)
	}

	// 读操作不感知 ctx，超时或取消时主动关闭连接解除阻塞
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	payload, err := sonic.Marshal(v.buildRequest(connectID, format, codec))
	if err != nil {
		return "", fmt.Errorf("marshal ASR request: %w", err)
	}
	first, err := newConfigFrame(payload)
	if err != nil {
		return "", err
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, encodeFrame(first)); err != nil {
		return "", fmt.Errorf("send ASR request: %w", err)
	}

	sendErr := make(chan error, 1)
	go func() {
		sendErr <- v.sendAudio(ctx, conn, audio)
	}()

	text, err := v.receive(conn)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		select {
		case sErr := <-sendErr:
			if sErr != nil {
				return "", fmt.Errorf("send audio: %w", sErr)
			}
		default:
		}
		return "", err
	}
	return text, nil
}

func (v *VolcengineTranscriber) buildRequest(uid, format, codec string) *asrRequest {
	req := &asrRequest{}
	req.User.UID = uid
	req.Audio.Language = v.cfg.Language
	req.Audio.Format = format
	req.Audio.Codec = codec
	req.Audio.Rate = 16000
	req.Audio.Bits = 16
	req.Audio.Channel = 1
	req.Request.ModelName = "bigmodel"
	req.Request.EnableITN = true
	req.Request.EnablePunc = true
	req.Request.ShowUtterances = true
	req.Request.ResultType = "full"
	req.Request.EndWindowSize = 800
	return req
}

// sendAudio 按固定大小分包发送，包之间保持实时节奏。首帧占用序号 1，音频从 2 开始。
func (v *VolcengineTranscriber) sendAudio(ctx context.Context, conn *websocket.Conn, audio []byte) error {
	sequence := int32(2)
	for offset := 0; offset < len(audio); offset += v.cfg.ChunkSize {
		end := min(offset+v.cfg.ChunkSize, len(audio))
		last := end >= len(audio)

		f, err := newAudioFrame(audio[offset:end], sequence, last)
		if err != nil {
			return err
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, encodeFrame(f)); err != nil {
			return fmt.Errorf("send audio chunk %d: %w", sequence, err)
		}
		if last {
			return nil
		}
		sequence++

		if v.cfg.ChunkInterval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(v.cfg.ChunkInterval):
			}
		}
	}
	return nil
}

func (v *VolcengineTranscriber) receive(conn *websocket.Conn) (string, error) {
	var text string
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return "", fmt.Errorf("read ASR response: %w", err)
		}

		f, err := decodeFrame(bytes.NewReader(data))
		if err != nil {
			return "", fmt.Errorf("decode ASR frame: %w", err)
		}

		switch f.Header.Type {
		case serverError:
			body, _ := f.body()
			return "", fmt.Errorf("ASR error %d: %s", f.ErrorCode, string(body))

		case fullServerResponse:
			body, err := f.body()
			if err != nil {
				return "", fmt.Errorf("decompress ASR payload: %w", err)
			}

			var resp asrResponse
			if err := sonic.Unmarshal(body, &resp); err != nil {
				log.Printf("[asr] failed to unmarshal response: %v", err)
				continue
			}
			if resp.Code != 0 && resp.Code != volcengineSuccessCode {
				return "", fmt.Errorf("ASR API error %d: %s", resp.Code, resp.Message)
			}

			if candidate := resultText(resp); candidate != "" {
				text = candidate
			}
			if f.isLast() {
				return strings.TrimSpace(text), nil
			}

		default:
			// ACK 等其他帧忽略
		}
	}
}

func resultText(resp asrResponse) string {
	if resp.Result.Text != "" {
		return resp.Result.Text
	}
	parts := make([]string, 0, len(resp.Result.Utterances))
	for _, u := range resp.Result.Utterances {
		if u.Text != "" {
			parts = append(parts, u.Text)
		}
	}
	return strings.Join(parts, "")
}
