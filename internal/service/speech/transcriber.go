package speech

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
)

// ErrEmptyAudio 表示上传的音频为空。
var ErrEmptyAudio = errors.New("speech: audio is empty")

// ErrUnsupportedFormat 表示识别服务不接受该音频格式。
var ErrUnsupportedFormat = errors.New("speech: unsupported audio format")

// Transcriber 把一段音频转写为文本。返回空字符串表示没有识别到语音，不视为错误。
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}

// TranscriberFunc 让普通函数满足 Transcriber。
type TranscriberFunc func(ctx context.Context, audio []byte, mimeType string) (string, error)

// Transcribe 调用函数本身。
func (f TranscriberFunc) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	return f(ctx, audio, mimeType)
}

// AudioFormat 把 MIME 类型归一化为文件扩展名（不带点）。
// 移动端录音多为 m4a/mp4，未知类型按 mp4 处理。
func AudioFormat(mimeType string) string {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}

	switch {
	case strings.Contains(mt, "m4a"), strings.Contains(mt, "mp4"), strings.Contains(mt, "aac"):
		return "m4a"
	case strings.Contains(mt, "webm"):
		return "webm"
	case strings.Contains(mt, "ogg"), strings.Contains(mt, "opus"):
		return "ogg"
	case strings.Contains(mt, "wav"), strings.Contains(mt, "wave"):
		return "wav"
	case strings.Contains(mt, "mpeg"), strings.Contains(mt, "mp3"):
		return "mp3"
	case strings.Contains(mt, "pcm"), strings.HasPrefix(mt, "audio/l16"):
		return "pcm"
	default:
		return "mp4"
	}
}

// MimeTypeFromFilename 根据文件名推断 MIME 类型，用于客户端没有提供 Content-Type 的情况。
func MimeTypeFromFilename(name string) string {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(name), ".")) {
	case "m4a":
		return "audio/m4a"
	case "mp4":
		return "audio/mp4"
	case "webm":
		return "audio/webm"
	case "ogg", "opus":
		return "audio/ogg"
	case "wav":
		return "audio/wav"
	case "mp3":
		return "audio/mpeg"
	case "pcm":
		return "audio/pcm"
	default:
		return ""
	}
}
