package emotion

import (
	"context"

	analysis "github.com/zhouzirui/voice-diary/backend/internal/analysis/emotion"
	"github.com/zhouzirui/voice-diary/backend/internal/service/demo"
)

// DemoResults 演示模式轮流返回的情绪结果。
var DemoResults = []analysis.Result{
	{Label: analysis.Fatigue, Score: 0.7, Valence: -0.3, Summary: "今日もお疲れさまでした"},
	{Label: analysis.Peace, Score: 0.6, Valence: 0.3, Summary: "穏やかな一日でした"},
	{Label: analysis.Fulfillment, Score: 0.8, Valence: 0.6, Summary: "充実した一日でした"},
}

// Demo 不调用模型，按顺序返回脚本结果。
type Demo struct {
	seq *demo.Sequence[analysis.Result]
}

// NewDemo 创建演示分析器；seq 为 nil 时使用 DemoResults。
func NewDemo(seq *demo.Sequence[analysis.Result]) *Demo {
	if seq == nil {
		seq = demo.NewSequence(DemoResults...)
	}
	return &Demo{seq: seq}
}

func (d *Demo) Analyze(ctx context.Context, _ string) (analysis.Result, error) {
	if err := ctx.Err(); err != nil {
		return analysis.Result{}, err
	}
	return d.seq.Next(), nil
}
