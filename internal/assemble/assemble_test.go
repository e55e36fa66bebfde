package assemble

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func TestConcatList(t *testing.T) {
	got := ConcatList([]string{"/runs/a/scene_001.mp4", "/runs/a/it's.mp4"})
	want := "file '/runs/a/scene_001.mp4'\nfile '/runs/a/it'\\''s.mp4'\n"
	if got != want {
		t.Errorf("ConcatList =\n%q\nwant\n%q", got, want)
	}
}

func TestArgs(t *testing.T) {
	args := strings.Join(Args("list.txt", "out.mp4"), " ")
	for _, want := range []string{"-f concat", "-safe 0", "-i list.txt", "-c:v libx264", "-c:a aac", "-movflags +faststart"} {
		if !strings.Contains(args, want) {
			t.Errorf("args %q missing %q", args, want)
		}
	}
	if !strings.HasSuffix(args, "out.mp4") {
		t.Errorf("output must be last: %q", args)
	}
}

func TestAssemble_NoInputs(t *testing.T) {
	f := NewFFmpeg(nil)
	dir := t.TempDir()

	_, err := f.Assemble(context.Background(), []string{filepath.Join(dir, "missing.mp4"), dir}, filepath.Join(dir, "out.mp4"))
	if !errors.Is(err, ErrNoInputs) {
		t.Errorf("expected ErrNoInputs, got %v", err)
	}
}

func TestAssemble_ReportsFFmpegFailure(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	dir := t.TempDir()
	clip := filepath.Join(dir, "scene_001.mp4")
	if err := os.WriteFile(clip, []byte("not a video"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := NewFFmpeg(nil).Assemble(context.Background(), []string{clip}, filepath.Join(dir, "final.mp4"))
	if err == nil || !strings.Contains(err.Error(), "ffmpeg concat") {
		t.Errorf("expected an ffmpeg error, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "final.mp4.concat.txt")); !os.IsNotExist(err) {
		t.Error("concat list should be cleaned up")
	}
}
