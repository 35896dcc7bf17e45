package client

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func writeScript(t *testing.T, name string, contents string) string {
	t.Helper()
	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash not available")
	}
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o755); err != nil {
		t.Fatalf("write script err: %v", err)
	}
	return path
}

func TestFFmpegRecorderCapturesFile(t *testing.T) {
	// 模拟 ffmpeg：把内容写到最后一个参数指定的文件，收到中断后退出
	script := writeScript(t, "ffmpeg.sh", "#!/usr/bin/env bash\nfor out; do :; done\nprintf 'RIFFfake' > \"$out\"\ntrap 'exit 0' INT\nsleep 5 &\nwait $!\n")
	dir := t.TempDir()
	rec := NewFFmpegRecorder(FFmpegConfig{Command: script, Dir: dir})
	ctx := context.Background()

	if err := rec.Start(ctx); err != nil {
		t.Fatalf("Start err: %v", err)
	}
	if err := rec.Start(ctx); !errors.Is(err, ErrAlreadyRecording) {
		t.Fatalf("expected ErrAlreadyRecording, got %v", err)
	}

	recording, err := rec.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop err: %v", err)
	}
	if string(recording.Data) != "RIFFfake" || recording.MimeType != "audio/wav" {
		t.Fatalf("unexpected recording %+v", recording)
	}

	leftovers, _ := os.ReadDir(dir)
	if len(leftovers) != 0 {
		t.Fatalf("temp file should be removed, found %d", len(leftovers))
	}
	if _, err := rec.Stop(ctx); !errors.Is(err, ErrNotRecording) {
		t.Fatalf("expected ErrNotRecording, got %v", err)
	}
}

func TestFFmpegRecorderEarlyExit(t *testing.T) {
	script := writeScript(t, "fail.sh", "#!/usr/bin/env bash\necho 'no input device' 1>&2\nexit 1\n")
	rec := NewFFmpegRecorder(FFmpegConfig{Command: script, Dir: t.TempDir()})

	err := rec.Start(context.Background())
	if err == nil {
		t.Fatal("expected early exit error")
	}
	if !strings.Contains(err.Error(), "exited before capture started") || !strings.Contains(err.Error(), "no input device") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFileRecorder(t *testing.T) {
	paths := writeAudioFiles(t, 1)
	rec := NewFileRecorder(paths...)
	ctx := context.Background()

	if _, err := rec.Stop(ctx); !errors.Is(err, ErrNotRecording) {
		t.Fatalf("expected ErrNotRecording, got %v", err)
	}
	if err := rec.Start(ctx); err != nil {
		t.Fatalf("Start err: %v", err)
	}
	recording, err := rec.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop err: %v", err)
	}
	if recording.MimeType != "audio/m4a" || recording.Filename != filepath.Base(paths[0]) {
		t.Fatalf("unexpected recording %+v", recording)
	}
	if err := rec.Start(ctx); !errors.Is(err, ErrNoMoreRecordings) {
		t.Fatalf("expected ErrNoMoreRecordings, got %v", err)
	}
}
