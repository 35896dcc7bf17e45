package ai

import (
	"context"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/voice-diary/backend/internal/model/diary"
)

// Reflection 是一轮回复。Closing 表示模型已经说出结束语。
type Reflection struct {
	Message string
	Closing bool
}

// Reflector 根据历史对话与本轮发言生成回复。
type Reflector interface {
	Reflect(ctx context.Context, history []diary.Turn, utterance string) (Reflection, error)
}

// Options 控制回复生成。
type Options struct {
	ClosingPhrase string
	MaxReplyRunes int
}

// Service 通过 eino chain 调用大模型生成回复。
type Service struct {
	chain         compose.Runnable[map[string]any, *schema.Message]
	system        string
	closingPhrase string
}

// NewService 编译 prompt -> ChatModel 链。chatModel 可与情绪分析共用。
func NewService(ctx context.Context, chatModel model.ChatModel, opts Options) (*Service, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("chat model is required")
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile reflection chain: %w", err)
	}

	closing := strings.TrimSpace(opts.ClosingPhrase)
	if closing == "" {
		closing = "ゆっくり休んでね"
	}

	return &Service{
		chain:         runnable,
		system:        buildSystemPrompt(opts.MaxReplyRunes),
		closingPhrase: closing,
	}, nil
}

// Reflect 生成一轮回复。模型返回空文本时返回空 Reflection 而不是错误，由调用方决定兜底。
func (s *Service) Reflect(ctx context.Context, history []diary.Turn, utterance string) (Reflection, error) {
	input := map[string]any{
		"system":  s.system,
		"history": buildHistoryMessages(history),
		"query":   utterance,
	}

	msg, err := s.chain.Invoke(ctx, input)
	if err != nil {
		return Reflection{}, fmt.Errorf("failed to run reflection chain: %w", err)
	}
	if msg == nil {
		return Reflection{}, nil
	}

	text := strings.TrimSpace(msg.Content)
	log.Printf("[ai] reflection generated, history=%d, runes=%d", len(history), utf8.RuneCountInString(text))
	return Reflection{
		Message: text,
		Closing: text != "" && strings.Contains(text, s.closingPhrase),
	}, nil
}

func buildHistoryMessages(turns []diary.Turn) []*schema.Message {
	if len(turns) == 0 {
		return nil
	}

	history := make([]*schema.Message, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case diary.RoleUser:
			history = append(history, schema.UserMessage(turn.Content))
		case diary.RoleAssistant:
			history = append(history, schema.AssistantMessage(turn.Content, nil))
		}
	}
	return history
}
