package emotion

import (
	"strings"
)

// Label 表示日记会话结束时归纳出的情绪类别。取值固定为以下 8 种。
type Label string

const (
	Joy         Label = "喜び"
	Fulfillment Label = "充実"
	Peace       Label = "平和"
	Fatigue     Label = "疲れ"
	Anxiety     Label = "不安"
	Sadness     Label = "悲しみ"
	Anger       Label = "怒り"
	Emptiness   Label = "空虚"
)

// Labels 按固定顺序返回全部情绪类别。
func Labels() []Label {
	return []Label{Joy, Fulfillment, Peace, Fatigue, Anxiety, Sadness, Anger, Emptiness}
}

// Result 是一次情绪分析的结果。
type Result struct {
	Label   Label   `json:"label"`
	Score   float64 `json:"score"`
	Valence float64 `json:"valence"`
	Summary string  `json:"summary"`
}

// Fallback 在模型输出无法解析时使用，保证会话总能正常结束。
func Fallback() Result {
	return Result{Label: Emptiness, Score: 0.5, Valence: 0, Summary: "気持ちを整理中"}
}

var colorByLabel = map[Label]string{
	Joy:         "#FFD700",
	Fulfillment: "#FF8C42",
	Peace:       "#87CEEB",
	Fatigue:     "#7B68EE",
	Anxiety:     "#9B8EA8",
	Sadness:     "#4A5568",
	Anger:       "#C53030",
	Emptiness:   "#CBD5E0",
}

// DefaultColor is what the client paints for days without data.
const DefaultColor = "#CBD5E0"

// Color 返回情绪类别对应的图表颜色。未知类别返回 false。
func Color(label Label) (string, bool) {
	color, ok := colorByLabel[label]
	return color, ok
}

var aliases = map[string]Label{
	"joy":         Joy,
	"happy":       Joy,
	"fulfillment": Fulfillment,
	"fulfilled":   Fulfillment,
	"peace":       Peace,
	"calm":        Peace,
	"fatigue":     Fatigue,
	"tired":       Fatigue,
	"anxiety":     Anxiety,
	"anxious":     Anxiety,
	"sadness":     Sadness,
	"sad":         Sadness,
	"anger":       Anger,
	"angry":       Anger,
	"emptiness":   Emptiness,
	"empty":       Emptiness,
}

// ParseLabel 将模型返回的标签规范化为固定类别，兼容英文别名。
func ParseLabel(raw string) (Label, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", false
	}
	if _, ok := colorByLabel[Label(trimmed)]; ok {
		return Label(trimmed), true
	}
	label, ok := aliases[strings.ToLower(trimmed)]
	return label, ok
}

// Normalize clamps score to [0,1] and valence to [-1,1].
func (r Result) Normalize() Result {
	r.Score = clamp(r.Score, 0, 1)
	r.Valence = clamp(r.Valence, -1, 1)
	r.Summary = strings.TrimSpace(r.Summary)
	return r
}

func clamp(val, lo, hi float64) float64 {
	if val < lo {
		return lo
	}
	if val > hi {
		return hi
	}
	return val
}
