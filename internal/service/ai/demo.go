package ai

import (
	"context"

	"github.com/zhouzirui/voice-diary/backend/internal/model/diary"
	"github.com/zhouzirui/voice-diary/backend/internal/service/demo"
)

// DemoReflections 演示模式的脚本回复，最后一条带结束标记。
var DemoReflections = []Reflection{
	{Message: "そうか、今日もいろいろあったんだね。もう少し聞かせてもらえる？"},
	{Message: "それは大変だったね。疲れが声に出てたよ。"},
	{Message: ClosingLine + "🌙", Closing: true},
}

// Demo 按顺序返回脚本回复，不调用任何外部服务。
type Demo struct {
	seq *demo.Sequence[Reflection]
}

// NewDemo 创建演示回复器；seq 为 nil 时使用 DemoReflections。
func NewDemo(seq *demo.Sequence[Reflection]) *Demo {
	if seq == nil {
		seq = demo.NewSequence(DemoReflections...)
	}
	return &Demo{seq: seq}
}

// Reflect 返回下一条脚本回复。
func (d *Demo) Reflect(ctx context.Context, _ []diary.Turn, _ string) (Reflection, error) {
	if err := ctx.Err(); err != nil {
		return Reflection{}, err
	}
	return d.seq.Next(), nil
}
