package speech

import (
	"context"

	"github.com/zhouzirui/voice-diary/backend/internal/service/demo"
)

// DemoTranscripts 演示模式下依次返回的转写结果。
var DemoTranscripts = []string{
	"今日は仕事がすごく忙しくて、会議が3つも続いて疲れました",
	"でも夕飯においしいものを食べたのでちょっと元気出ました",
	"あとは早く寝たいです",
}

// DemoTranscriber 忽略音频内容，按顺序返回预设文本。
type DemoTranscriber struct {
	seq *demo.Sequence[string]
}

// NewDemoTranscriber 创建演示转写器；seq 为 nil 时使用 DemoTranscripts。
func NewDemoTranscriber(seq *demo.Sequence[string]) *DemoTranscriber {
	if seq == nil {
		seq = demo.NewSequence(DemoTranscripts...)
	}
	return &DemoTranscriber{seq: seq}
}

// Transcribe 返回序列中的下一条文本。
func (d *DemoTranscriber) Transcribe(ctx context.Context, audio []byte, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(audio) == 0 {
		return "", ErrEmptyAudio
	}
	return d.seq.Next(), nil
}
