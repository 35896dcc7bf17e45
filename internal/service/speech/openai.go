package speech

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIConfig 描述 Whisper 转写参数。
type OpenAIConfig struct {
	APIKey   string
	BaseURL  string
	Model    string
	Language string
}

// OpenAITranscriber 通过 OpenAI 音频转写接口识别语音。
type OpenAITranscriber struct {
	client   openai.Client
	model    openai.AudioModel
	language string
}

// NewOpenAITranscriber 创建转写客户端。不做重试，失败直接返回给调用方。
func NewOpenAITranscriber(cfg OpenAIConfig, opts ...option.RequestOption) (*OpenAITranscriber, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY 未配置")
	}

	clientOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.BaseURL))
	}
	clientOpts = append(clientOpts, opts...)

	model := openai.AudioModel(cfg.Model)
	if cfg.Model == "" {
		model = openai.AudioModelWhisper1
	}

	return &OpenAITranscriber{
		client:   openai.NewClient(clientOpts...),
		model:    model,
		language: cfg.Language,
	}, nil
}

// Transcribe 上传音频并返回识别文本。
func (t *OpenAITranscriber) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if len(audio) == 0 {
		return "", ErrEmptyAudio
	}

	ext := AudioFormat(mimeType)
	if mimeType == "" {
		mimeType = "audio/" + ext
	}

	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(audio), "audio."+ext, mimeType),
		Model: t.model,
	}
	if t.language != "" {
		params.Language = openai.String(t.language)
	}

	resp, err := t.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai transcription: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}
