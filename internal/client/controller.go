package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	analysis "github.com/zhouzirui/voice-diary/backend/internal/analysis/emotion"
	"github.com/zhouzirui/voice-diary/backend/internal/model/diary"
)

// Mode 决定控制器调用哪组接口。
type Mode string

const (
	// ModeStateless 每轮携带完整历史调用 /reflect，结束时调用 /analyze。
	ModeStateless Mode = "stateless"
	// ModeSession 使用服务端会话：/start、/respond、/end。
	ModeSession Mode = "session"
)

// DefaultGreeting 是无状态模式下本地插入的开场白。
const DefaultGreeting = "こんばんは。今日はどんな一日でしたか？"

var (
	ErrNotStarted         = errors.New("session not started")
	ErrFinished           = errors.New("session already finished")
	ErrNothingToSummarize = errors.New("no user turns to summarize")
	ErrUnsupportedMode    = errors.New("unsupported controller mode")
	ErrDeviceIDRequired   = errors.New("device id is required in session mode")
	ErrEntryStoreRequired = errors.New("entry store is required")
	ErrRecorderRequired   = errors.New("recorder is required")
	ErrAPIClientRequired  = errors.New("api client is required")
)

// Options 配置控制器。
type Options struct {
	Mode     Mode
	DeviceID string
	Greeting string
	Location *time.Location
}

// TurnOutcome 是一轮对话的结果。会话因本轮结束时 Entry 不为空。
type TurnOutcome struct {
	Transcript string
	AIMessage  string
	IsEnding   bool
	Entry      *Entry
}

// Controller 在设备端驱动一次日记会话：录音、上传、记录对话、结束时保存当天日记。
type Controller struct {
	api      API
	recorder Recorder
	entries  *EntryStore
	opts     Options
	now      func() time.Time

	mu        sync.Mutex
	started   bool
	finished  bool
	recording bool
	sessionID string
	turns     []diary.Turn
	emotion   *analysis.Result
}

func NewController(api API, recorder Recorder, entries *EntryStore, opts Options) (*Controller, error) {
	switch {
	case api == nil:
		return nil, ErrAPIClientRequired
	case recorder == nil:
		return nil, ErrRecorderRequired
	case entries == nil:
		return nil, ErrEntryStoreRequired
	}

	if opts.Mode == "" {
		opts.Mode = ModeStateless
	}
	switch opts.Mode {
	case ModeStateless:
	case ModeSession:
		if strings.TrimSpace(opts.DeviceID) == "" {
			return nil, ErrDeviceIDRequired
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMode, opts.Mode)
	}
	if strings.TrimSpace(opts.Greeting) == "" {
		opts.Greeting = DefaultGreeting
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}

	return &Controller{
		api:      api,
		recorder: recorder,
		entries:  entries,
		opts:     opts,
		now:      time.Now,
	}, nil
}

// Begin 重置状态并开始新会话，返回开场白。
func (c *Controller) Begin(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.recording {
		if _, err := c.recorder.Stop(ctx); err != nil && !errors.Is(err, ErrNotRecording) {
			return "", fmt.Errorf("stop previous recording: %w", err)
		}
	}
	c.reset()

	greeting := c.opts.Greeting
	if c.opts.Mode == ModeSession {
		resp, err := c.api.Start(ctx, c.opts.DeviceID)
		if err != nil {
			return "", fmt.Errorf("start session: %w", err)
		}
		c.sessionID = resp.SessionID
		greeting = resp.AIMessage
	}

	c.turns = append(c.turns, diary.Turn{Role: diary.RoleAssistant, Content: greeting})
	c.started = true
	return greeting, nil
}

// StartRecording 开始录音。
func (c *Controller) StartRecording(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkActive(); err != nil {
		return err
	}
	if c.recording {
		return ErrAlreadyRecording
	}
	if err := c.recorder.Start(ctx); err != nil {
		return fmt.Errorf("start recording: %w", err)
	}
	c.recording = true
	return nil
}

// StopRecording 停止录音并上传，成功后追加用户与助手两条发言。
// 上传失败时对话保持不变，用户可以重新录音。
func (c *Controller) StopRecording(ctx context.Context) (TurnOutcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkActive(); err != nil {
		return TurnOutcome{}, err
	}
	if !c.recording {
		return TurnOutcome{}, ErrNotRecording
	}

	rec, err := c.recorder.Stop(ctx)
	c.recording = false
	if err != nil {
		return TurnOutcome{}, fmt.Errorf("stop recording: %w", err)
	}

	var resp TurnResponse
	if c.opts.Mode == ModeSession {
		resp, err = c.api.Respond(ctx, c.sessionID, rec)
	} else {
		resp, err = c.api.Reflect(ctx, c.history(), rec)
	}
	if err != nil {
		return TurnOutcome{}, fmt.Errorf("send turn: %w", err)
	}

	c.turns = append(c.turns,
		diary.Turn{Role: diary.RoleUser, Content: resp.Transcript},
		diary.Turn{Role: diary.RoleAssistant, Content: resp.AIMessage},
	)

	outcome := TurnOutcome{Transcript: resp.Transcript, AIMessage: resp.AIMessage, IsEnding: resp.IsEnding}
	if resp.IsEnding {
		entry, err := c.finish(ctx)
		if err != nil {
			return outcome, err
		}
		outcome.Entry = &entry
	}
	return outcome, nil
}

// Finish 手动结束会话：汇总用户发言、分析情绪并保存当天日记。
func (c *Controller) Finish(ctx context.Context) (Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkActive(); err != nil {
		return Entry{}, err
	}
	if c.recording {
		// 结束时丢弃未上传的录音
		_, _ = c.recorder.Stop(ctx)
		c.recording = false
	}
	return c.finish(ctx)
}

func (c *Controller) finish(ctx context.Context) (Entry, error) {
	transcript, ok := userTranscript(c.turns)
	if !ok {
		return Entry{}, ErrNothingToSummarize
	}

	var result analysis.Result
	if c.opts.Mode == ModeSession {
		resp, err := c.api.End(ctx, c.sessionID)
		if err != nil {
			return Entry{}, fmt.Errorf("end session: %w", err)
		}
		result = resp.Emotion()
	} else {
		var err error
		result, err = c.api.Analyze(ctx, transcript)
		if err != nil {
			return Entry{}, fmt.Errorf("analyze emotion: %w", err)
		}
	}

	entry, err := c.entries.Save(Entry{
		Date:           c.now().In(c.opts.Location).Format(dateLayout),
		Transcript:     transcript,
		EmotionLabel:   string(result.Label),
		EmotionScore:   result.Score,
		EmotionValence: result.Valence,
		Summary:        result.Summary,
	})
	if err != nil {
		return Entry{}, fmt.Errorf("save entry: %w", err)
	}

	c.emotion = &result
	c.finished = true
	return entry, nil
}

// Turns 返回当前对话的副本。
func (c *Controller) Turns() []diary.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history()
}

// Emotion 返回结束后的情绪结果。
func (c *Controller) Emotion() (analysis.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.emotion == nil {
		return analysis.Result{}, false
	}
	return *c.emotion, true
}

func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Controller) Recording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recording
}

func (c *Controller) Finished() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finished
}

func (c *Controller) checkActive() error {
	if !c.started {
		return ErrNotStarted
	}
	if c.finished {
		return ErrFinished
	}
	return nil
}

func (c *Controller) history() []diary.Turn {
	return append([]diary.Turn(nil), c.turns...)
}

func (c *Controller) reset() {
	c.started = false
	c.finished = false
	c.recording = false
	c.sessionID = ""
	c.turns = nil
	c.emotion = nil
}

// userTranscript 按顺序用换行拼接用户发言。
func userTranscript(turns []diary.Turn) (string, bool) {
	var parts []string
	for _, turn := range turns {
		if turn.Role == diary.RoleUser {
			parts = append(parts, turn.Content)
		}
	}
	return strings.Join(parts, "\n"), len(parts) > 0
}
