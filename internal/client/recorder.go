package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/zhouzirui/voice-diary/backend/internal/service/speech"
)

var (
	ErrAlreadyRecording = errors.New("recording already in progress")
	ErrNotRecording     = errors.New("no recording in progress")
	ErrNoMoreRecordings = errors.New("no more prepared recordings")
)

// Recorder 控制麦克风采集。
type Recorder interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) (Recording, error)
}

// FFmpegConfig 描述 ffmpeg 采集参数。
type FFmpegConfig struct {
	Command     string
	InputFormat string
	InputDevice string
	SampleRate  int
	Channels    int
	// Dir 存放临时 WAV 文件，空表示系统临时目录
	Dir string
}

// FFmpegRecorder 用 ffmpeg 把麦克风录到临时 WAV 文件。
type FFmpegRecorder struct {
	cfg FFmpegConfig

	mu      sync.Mutex
	cmd     *exec.Cmd
	path    string
	stderr  *bytes.Buffer
	waitErr <-chan error
}

func NewFFmpegRecorder(cfg FFmpegConfig) *FFmpegRecorder {
	if cfg.Command == "" {
		cfg.Command = "ffmpeg"
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	return &FFmpegRecorder{cfg: cfg}
}

// Start 启动 ffmpeg。进程在 250ms 内退出视为启动失败。
func (r *FFmpegRecorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cmd != nil {
		return ErrAlreadyRecording
	}

	tmp, err := os.CreateTemp(r.cfg.Dir, "voice-diary-*.wav")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	path := tmp.Name()
	_ = tmp.Close()

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-y",
		"-f", r.cfg.InputFormat,
		"-i", r.cfg.InputDevice,
		"-ac", strconv.Itoa(r.cfg.Channels),
		"-ar", strconv.Itoa(r.cfg.SampleRate),
		path,
	}

	// 录音时长由 Stop 控制，不跟随调用方 ctx
	cmd := exec.Command(r.cfg.Command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		_ = os.Remove(path)
		if err != nil {
			return fmt.Errorf("ffmpeg exited before capture started: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
		}
		return errors.New("ffmpeg exited before capture started")
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-waitErr
		_ = os.Remove(path)
		return ctx.Err()
	case <-time.After(250 * time.Millisecond):
	}

	r.cmd = cmd
	r.path = path
	r.stderr = &stderr
	r.waitErr = waitErr
	return nil
}

// Stop 发送中断让 ffmpeg 写完文件头，读取并删除临时文件。
func (r *FFmpegRecorder) Stop(ctx context.Context) (Recording, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cmd == nil {
		return Recording{}, ErrNotRecording
	}

	cmd, path, stderr, waitErr := r.cmd, r.path, r.stderr, r.waitErr
	r.cmd, r.path, r.stderr, r.waitErr = nil, "", nil, nil
	defer os.Remove(path)

	_ = cmd.Process.Signal(os.Interrupt)

	var stopErr error
	select {
	case err := <-waitErr:
		stopErr = normalizeStopErr(err)
	case <-time.After(1200 * time.Millisecond):
		_ = cmd.Process.Kill()
		stopErr = normalizeStopErr(<-waitErr)
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-waitErr
		return Recording{}, ctx.Err()
	}
	if stopErr != nil {
		return Recording{}, fmt.Errorf("ffmpeg stop failed: %w: %s", stopErr, bytes.TrimSpace(stderr.Bytes()))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Recording{}, fmt.Errorf("failed to read recording: %w", err)
	}
	return Recording{Data: data, Filename: filepath.Base(path), MimeType: "audio/wav"}, nil
}

// 被信号中断的 ffmpeg 会以非零码退出，这是正常结束
func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

// FileRecorder 依次回放预先准备好的音频文件，用于脚本化运行和测试。
type FileRecorder struct {
	mu        sync.Mutex
	paths     []string
	next      int
	recording bool
}

func NewFileRecorder(paths ...string) *FileRecorder {
	return &FileRecorder{paths: append([]string(nil), paths...)}
}

func (r *FileRecorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recording {
		return ErrAlreadyRecording
	}
	if r.next >= len(r.paths) {
		return ErrNoMoreRecordings
	}
	r.recording = true
	return nil
}

func (r *FileRecorder) Stop(ctx context.Context) (Recording, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return Recording{}, ErrNotRecording
	}
	r.recording = false

	path := r.paths[r.next]
	r.next++

	data, err := os.ReadFile(path)
	if err != nil {
		return Recording{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return Recording{
		Data:     data,
		Filename: filepath.Base(path),
		MimeType: speech.MimeTypeFromFilename(path),
	}, nil
}

// Remaining 返回还未回放的文件数。
func (r *FileRecorder) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.paths) - r.next
}
