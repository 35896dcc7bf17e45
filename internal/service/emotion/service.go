package emotion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	analysis "github.com/zhouzirui/voice-diary/backend/internal/analysis/emotion"
)

// Analyzer 把整段日记文本归纳为一个情绪结果。
type Analyzer interface {
	Analyze(ctx context.Context, transcript string) (analysis.Result, error)
}

var errNoJSONObject = errors.New("missing json object")

// Service 使用大模型做情绪分类，输出无法解析时回退到 analysis.Fallback。
type Service struct {
	classifier compose.Runnable[map[string]any, *schema.Message]
	schema     string
}

// NewService 创建情绪分析服务。chatModel 可重用现有的大模型实例。
func NewService(ctx context.Context, chatModel model.ChatModel) (*Service, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("chat model is required")
	}

	payloadJSON, err := payloadSchema()
	if err != nil {
		return nil, err
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(emotionSystemPrompt),
		schema.UserMessage(emotionUserPrompt),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile emotion classifier chain: %w", err)
	}

	return &Service{classifier: runnable, schema: payloadJSON}, nil
}

// Analyze 调用模型并解析结果。模型调用失败返回错误；输出格式错误只记录日志并返回兜底结果。
func (s *Service) Analyze(ctx context.Context, transcript string) (analysis.Result, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return analysis.Fallback(), nil
	}

	msg, err := s.classifier.Invoke(ctx, map[string]any{
		"schema":     s.schema,
		"transcript": transcript,
	})
	if err != nil {
		return analysis.Result{}, fmt.Errorf("failed to run emotion classifier: %w", err)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		log.Printf("[emotion] classifier returned empty output, use fallback")
		return analysis.Fallback(), nil
	}

	result, err := parseClassifierOutput(msg.Content)
	if err != nil {
		log.Printf("[emotion] classifier output parse failed, use fallback: %v", err)
		return analysis.Fallback(), nil
	}
	return result, nil
}

// parseClassifierOutput 去掉 Markdown 代码块，截取最外层 JSON 对象并规范化。
func parseClassifierOutput(content string) (analysis.Result, error) {
	trimmed := stripCodeFence(strings.TrimSpace(content))
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end <= start {
		return analysis.Result{}, errNoJSONObject
	}

	var p payload
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &p); err != nil {
		return analysis.Result{}, err
	}

	label, ok := analysis.ParseLabel(p.Label)
	if !ok {
		return analysis.Result{}, fmt.Errorf("unknown emotion label %q", p.Label)
	}

	return analysis.Result{
		Label:   label,
		Score:   p.Score,
		Valence: p.Valence,
		Summary: p.Summary,
	}.Normalize(), nil
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// 去掉 ```json 之类的语言标记
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

const emotionSystemPrompt = "あなたは日記の感情分析アシスタントです。ユーザーが一日を振り返って話した内容から、今日の気持ちを1つのラベルに分類してください。\n" +
	"出力は次の JSON Schema に従う JSON オブジェクトのみとし、説明文やコードブロックは付けないでください。\n{schema}"

const emotionUserPrompt = "以下のユーザーの発話から感情を分析してください。JSON形式のみで返答してください。\n\n発話内容: {transcript}"
