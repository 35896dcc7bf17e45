package diary

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"

	analysis "github.com/zhouzirui/voice-diary/backend/internal/analysis/emotion"
	diarymodel "github.com/zhouzirui/voice-diary/backend/internal/model/diary"
	"github.com/zhouzirui/voice-diary/backend/internal/service/ai"
	"github.com/zhouzirui/voice-diary/backend/internal/service/emotion"
	"github.com/zhouzirui/voice-diary/backend/internal/service/speech"
	"github.com/zhouzirui/voice-diary/backend/internal/store"
)

var (
	ErrDeviceIDRequired   = errors.New("deviceId is required")
	ErrSessionIDRequired  = errors.New("sessionId is required")
	ErrAudioRequired      = errors.New("audio is required")
	ErrTranscriptRequired = errors.New("transcript is required")
	ErrInvalidHistory     = errors.New("history contains an invalid turn")
	ErrTurnInProgress     = errors.New("another turn is in progress for this session")

	// ErrSessionClosed 与存储层共用同一个哨兵值
	ErrSessionClosed = store.ErrSessionClosed
)

const (
	defaultGreeting      = "こんばんは。今日はどんな一日でしたか？"
	defaultFallbackReply = "うん、ちゃんと聞いてるよ。もう少し話してくれる？"
)

// Config 控制会话流程。
type Config struct {
	Greeting string
	// EndingMinAssistantTurns 是允许结束时助手发言的最少次数（含开场问候）。
	EndingMinAssistantTurns int
	// MaxReplyRunes 超出只记录日志，不截断。
	MaxReplyRunes int
	FallbackReply string
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Greeting) == "" {
		c.Greeting = defaultGreeting
	}
	if c.EndingMinAssistantTurns < 1 {
		c.EndingMinAssistantTurns = 3
	}
	if c.MaxReplyRunes <= 0 {
		c.MaxReplyRunes = 100
	}
	if strings.TrimSpace(c.FallbackReply) == "" {
		c.FallbackReply = defaultFallbackReply
	}
	return c
}

// Dependencies 汇总会话服务依赖的外部协作者。
type Dependencies struct {
	Store       store.Store
	Transcriber speech.Transcriber
	Reflector   ai.Reflector
	Analyzer    emotion.Analyzer
	Locker      TurnLocker
}

// Service 编排一次日记会话：开场、逐轮回复、结束并归纳情绪。
type Service struct {
	store       store.Store
	transcriber speech.Transcriber
	reflector   ai.Reflector
	analyzer    emotion.Analyzer
	locker      TurnLocker
	cfg         Config
}

// NewService 创建会话服务。Locker 为空时使用进程内锁。
func NewService(deps Dependencies, cfg Config) *Service {
	locker := deps.Locker
	if locker == nil {
		locker = NewMemoryLocker()
	}
	return &Service{
		store:       deps.Store,
		transcriber: deps.Transcriber,
		reflector:   deps.Reflector,
		analyzer:    deps.Analyzer,
		locker:      locker,
		cfg:         cfg.withDefaults(),
	}
}

// StartResult 是 start 的返回值。
type StartResult struct {
	SessionID string `json:"sessionId"`
	AIMessage string `json:"aiMessage"`
}

// TurnResult 是一轮语音回复的结果。
type TurnResult struct {
	Transcript string `json:"transcript"`
	AIMessage  string `json:"aiMessage"`
	IsEnding   bool   `json:"isEnding"`
}

// EndResult 是会话结束时持久化的情绪摘要。
type EndResult struct {
	EmotionLabel   string  `json:"emotionLabel"`
	EmotionScore   float64 `json:"emotionScore"`
	EmotionValence float64 `json:"emotionValence"`
	Summary        string  `json:"summary"`
}

// Start 为设备开启新会话并写入开场问候。
func (s *Service) Start(ctx context.Context, deviceID string) (StartResult, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return StartResult{}, ErrDeviceIDRequired
	}

	user, err := s.store.UpsertUser(ctx, deviceID)
	if err != nil {
		return StartResult{}, fmt.Errorf("upsert user: %w", err)
	}

	session, err := s.store.CreateSession(ctx, user.ID)
	if err != nil {
		return StartResult{}, fmt.Errorf("create session: %w", err)
	}

	if _, err := s.store.AppendMessage(ctx, diarymodel.Message{
		SessionID: session.ID,
		Role:      diarymodel.RoleAssistant,
		Content:   s.cfg.Greeting,
	}); err != nil {
		return StartResult{}, fmt.Errorf("append greeting: %w", err)
	}

	log.Printf("[diary] session started: session=%s user=%s", session.ID, user.ID)
	return StartResult{SessionID: session.ID, AIMessage: s.cfg.Greeting}, nil
}

// Respond 处理一轮语音：转写、记录、生成回复并判断是否进入结束。
func (s *Service) Respond(ctx context.Context, sessionID string, audio []byte, mimeType string) (TurnResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return TurnResult{}, ErrSessionIDRequired
	}
	if len(audio) == 0 {
		return TurnResult{}, ErrAudioRequired
	}

	release, err := s.lockOpenSession(ctx, sessionID)
	if err != nil {
		return TurnResult{}, err
	}
	defer release()

	transcript, err := s.transcriber.Transcribe(ctx, audio, mimeType)
	if err != nil {
		return TurnResult{}, fmt.Errorf("transcribe: %w", err)
	}

	messages, err := s.store.ListMessages(ctx, sessionID)
	if err != nil {
		return TurnResult{}, fmt.Errorf("load history: %w", err)
	}
	history := diarymodel.Turns(messages)

	if _, err := s.store.AppendMessage(ctx, diarymodel.Message{
		SessionID: sessionID,
		Role:      diarymodel.RoleUser,
		Content:   transcript,
	}); err != nil {
		return TurnResult{}, fmt.Errorf("append user message: %w", err)
	}

	reply, isEnding, err := s.reflect(ctx, history, transcript)
	if err != nil {
		return TurnResult{}, err
	}

	if _, err := s.store.AppendMessage(ctx, diarymodel.Message{
		SessionID: sessionID,
		Role:      diarymodel.RoleAssistant,
		Content:   reply,
	}); err != nil {
		return TurnResult{}, fmt.Errorf("append assistant message: %w", err)
	}

	return TurnResult{Transcript: transcript, AIMessage: reply, IsEnding: isEnding}, nil
}

// Reflect 是无状态版本：客户端携带完整历史，服务端不做任何持久化。
func (s *Service) Reflect(ctx context.Context, history []diarymodel.Turn, audio []byte, mimeType string) (TurnResult, error) {
	if len(audio) == 0 {
		return TurnResult{}, ErrAudioRequired
	}
	for i, turn := range history {
		if !turn.Role.Valid() {
			return TurnResult{}, fmt.Errorf("%w: index %d role %q", ErrInvalidHistory, i, turn.Role)
		}
	}

	transcript, err := s.transcriber.Transcribe(ctx, audio, mimeType)
	if err != nil {
		return TurnResult{}, fmt.Errorf("transcribe: %w", err)
	}

	reply, isEnding, err := s.reflect(ctx, history, transcript)
	if err != nil {
		return TurnResult{}, err
	}
	return TurnResult{Transcript: transcript, AIMessage: reply, IsEnding: isEnding}, nil
}

// reflect 生成回复并按助手发言次数与结束标记判断是否结束。
func (s *Service) reflect(ctx context.Context, history []diarymodel.Turn, transcript string) (string, bool, error) {
	reflection, err := s.reflector.Reflect(ctx, history, transcript)
	if err != nil {
		return "", false, fmt.Errorf("reflect: %w", err)
	}

	reply := strings.TrimSpace(reflection.Message)
	closing := reflection.Closing
	if reply == "" {
		log.Printf("[diary] empty reflection, use fallback reply")
		reply = s.cfg.FallbackReply
		closing = false
	}
	if n := utf8.RuneCountInString(reply); n > s.cfg.MaxReplyRunes {
		log.Printf("[diary] reflection exceeds %d runes: %d", s.cfg.MaxReplyRunes, n)
	}

	assistantTurns := diarymodel.CountRole(history, diarymodel.RoleAssistant) + 1
	return reply, closing && assistantTurns >= s.cfg.EndingMinAssistantTurns, nil
}

// End 关闭会话：拼接用户发言，分析情绪，并一次性写入结束信息。
func (s *Service) End(ctx context.Context, sessionID string) (EndResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return EndResult{}, ErrSessionIDRequired
	}

	release, err := s.lockOpenSession(ctx, sessionID)
	if err != nil {
		return EndResult{}, err
	}
	defer release()

	messages, err := s.store.ListMessages(ctx, sessionID)
	if err != nil {
		return EndResult{}, fmt.Errorf("load history: %w", err)
	}
	transcript := UserTranscript(diarymodel.Turns(messages))

	result := analysis.Fallback()
	if strings.TrimSpace(transcript) != "" {
		result, err = s.analyzer.Analyze(ctx, transcript)
		if err != nil {
			return EndResult{}, fmt.Errorf("analyze emotion: %w", err)
		}
	}

	if _, err := s.store.CloseSession(ctx, sessionID, diarymodel.Closure{
		Transcript: transcript,
		Emotion:    &result,
	}); err != nil {
		return EndResult{}, fmt.Errorf("close session: %w", err)
	}

	log.Printf("[diary] session ended: session=%s label=%s", sessionID, result.Label)
	return EndResult{
		EmotionLabel:   string(result.Label),
		EmotionScore:   result.Score,
		EmotionValence: result.Valence,
		Summary:        result.Summary,
	}, nil
}

// Expire 结束一个被放弃的会话，结束时间取最后一条消息的时间，而不是当前时间。
// 没有用户发言的会话不做情绪分析，也不会出现在周报里；返回值表示是否写入了情绪。
func (s *Service) Expire(ctx context.Context, sessionID string) (bool, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return false, ErrSessionIDRequired
	}

	release, err := s.lockOpenSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	defer release()

	messages, err := s.store.ListMessages(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("load history: %w", err)
	}

	turns := diarymodel.Turns(messages)
	closure := diarymodel.Closure{Transcript: UserTranscript(turns)}
	if n := len(messages); n > 0 {
		closure.EndedAt = messages[n-1].CreatedAt
	}

	if diarymodel.CountRole(turns, diarymodel.RoleUser) > 0 {
		result := analysis.Fallback()
		if strings.TrimSpace(closure.Transcript) != "" {
			if result, err = s.analyzer.Analyze(ctx, closure.Transcript); err != nil {
				return false, fmt.Errorf("analyze emotion: %w", err)
			}
		}
		closure.Emotion = &result
	}

	if _, err := s.store.CloseSession(ctx, sessionID, closure); err != nil {
		return false, fmt.Errorf("close session: %w", err)
	}
	log.Printf("[diary] session expired: session=%s rated=%t", sessionID, closure.Emotion != nil)
	return closure.Emotion != nil, nil
}

// Analyze 对任意文本做一次情绪分析，不涉及会话。
func (s *Service) Analyze(ctx context.Context, transcript string) (analysis.Result, error) {
	if strings.TrimSpace(transcript) == "" {
		return analysis.Result{}, ErrTranscriptRequired
	}
	result, err := s.analyzer.Analyze(ctx, transcript)
	if err != nil {
		return analysis.Result{}, fmt.Errorf("analyze emotion: %w", err)
	}
	return result, nil
}

// lockOpenSession 确认会话存在且未结束，然后获取回合锁。
func (s *Service) lockOpenSession(ctx context.Context, sessionID string) (func(), error) {
	if err := s.ensureOpen(ctx, sessionID); err != nil {
		return nil, err
	}

	release, err := s.locker.Acquire(ctx, sessionID)
	if errors.Is(err, ErrLocked) {
		return nil, ErrTurnInProgress
	}
	if err != nil {
		return nil, err
	}

	// 等锁期间会话可能已被结束
	if err := s.ensureOpen(ctx, sessionID); err != nil {
		release()
		return nil, err
	}
	return release, nil
}

func (s *Service) ensureOpen(ctx context.Context, sessionID string) error {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if !session.Open() {
		return ErrSessionClosed
	}
	return nil
}

// UserTranscript 按顺序拼接用户发言，以换行分隔。
func UserTranscript(turns []diarymodel.Turn) string {
	parts := make([]string, 0, len(turns))
	for _, turn := range turns {
		if turn.Role == diarymodel.RoleUser {
			parts = append(parts, turn.Content)
		}
	}
	return strings.Join(parts, "\n")
}
