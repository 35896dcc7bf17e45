package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"

	"github.com/zhouzirui/voice-diary/backend/internal/client"
)

// cliConfig 对应 diary.toml。
type cliConfig struct {
	ServerURL   string         `toml:"server_url"`
	DeviceID    string         `toml:"device_id"`
	Mode        string         `toml:"mode"`
	EntriesPath string         `toml:"entries_path"`
	Timezone    string         `toml:"timezone"`
	Timeout     string         `toml:"timeout"`
	Recorder    recorderConfig `toml:"recorder"`
}

type recorderConfig struct {
	Kind        string   `toml:"kind"`
	Command     string   `toml:"command"`
	InputFormat string   `toml:"input_format"`
	InputDevice string   `toml:"input_device"`
	SampleRate  int      `toml:"sample_rate"`
	Files       []string `toml:"files"`
}

func defaultConfig() cliConfig {
	dataDir := ".voice-diary"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".voice-diary")
	}
	return cliConfig{
		ServerURL:   "http://localhost:8080",
		Mode:        string(client.ModeStateless),
		EntriesPath: filepath.Join(dataDir, "entries.json"),
		Timeout:     "60s",
		Recorder:    recorderConfig{Kind: "ffmpeg"},
	}
}

// loadConfig 读取 TOML 配置；文件不存在时使用默认值。
func loadConfig(path string) (cliConfig, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	meta, err := toml.DecodeFile(path, &cfg)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cliConfig{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return cliConfig{}, fmt.Errorf("unknown keys in %s: %v", path, undecoded)
	}
	return cfg, nil
}

func (c cliConfig) timeout() (time.Duration, error) {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q: %w", c.Timeout, err)
	}
	return d, nil
}

func (c cliConfig) location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// deviceID 返回配置的设备 ID；未配置时生成一个并保存在数据目录，之后复用。
func (c cliConfig) deviceID() (string, error) {
	if id := strings.TrimSpace(c.DeviceID); id != "" {
		return id, nil
	}

	path := filepath.Join(filepath.Dir(c.EntriesPath), "device-id")
	if raw, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(raw)); id != "" {
			return id, nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("read device id: %w", err)
	}

	id := uuid.NewString()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("write device id: %w", err)
	}
	return id, nil
}

func (c cliConfig) newRecorder() (client.Recorder, error) {
	switch strings.ToLower(c.Recorder.Kind) {
	case "", "ffmpeg":
		return client.NewFFmpegRecorder(client.FFmpegConfig{
			Command:     c.Recorder.Command,
			InputFormat: c.Recorder.InputFormat,
			InputDevice: c.Recorder.InputDevice,
			SampleRate:  c.Recorder.SampleRate,
		}), nil
	case "files":
		if len(c.Recorder.Files) == 0 {
			return nil, errors.New("recorder.files is empty")
		}
		return client.NewFileRecorder(c.Recorder.Files...), nil
	default:
		return nil, fmt.Errorf("unknown recorder kind %q", c.Recorder.Kind)
	}
}
