// Package assemble joins scene clips into one video with ffmpeg.
package assemble

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/shehryarbajwa/flowreel/internal/logger"
)

// ErrNoInputs is returned when none of the given clips exist
var ErrNoInputs = errors.New("no clips to assemble")

// Assembler concatenates clips in order into output
type Assembler interface {
	Assemble(ctx context.Context, paths []string, output string) (string, error)
}

// FFmpeg assembles with the ffmpeg concat demuxer, re-encoding so clips with
// different encodings still join
type FFmpeg struct {
	Binary string
	logger *slog.Logger
}

// NewFFmpeg returns an assembler running the ffmpeg binary on PATH
func NewFFmpeg(log *slog.Logger) *FFmpeg {
	return &FFmpeg{Binary: "ffmpeg", logger: logger.OrDefault(log)}
}

// Assemble skips missing clips and fails when nothing is left
func (f *FFmpeg) Assemble(ctx context.Context, paths []string, output string) (string, error) {
	log := logger.FromContext(ctx, f.logger)

	clips := existing(paths, func(p string, err error) {
		log.Warn("clip missing, skipping", "path", p, "error", err)
	})
	if len(clips) == 0 {
		return "", ErrNoInputs
	}
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}

	listFile := output + ".concat.txt"
	if err := os.WriteFile(listFile, []byte(ConcatList(clips)), 0o644); err != nil {
		return "", fmt.Errorf("failed to write concat list: %w", err)
	}
	defer os.Remove(listFile)

	log.Info("assembling video", "clips", len(clips), "output", output)
	cmd := exec.CommandContext(ctx, f.Binary, Args(listFile, output)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("ffmpeg concat: %w: %s", err, tail(stderr.String(), 500))
	}
	log.Info("video assembled", "output", output)
	return output, nil
}

// Args are the ffmpeg arguments for a concat list
func Args(listFile, output string) []string {
	return []string{"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listFile,
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", "22",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-movflags", "+faststart",
		output,
	}
}

// ConcatList renders the concat demuxer input for clips
func ConcatList(clips []string) string {
	var b strings.Builder
	for _, c := range clips {
		abs, err := filepath.Abs(c)
		if err != nil {
			abs = c
		}
		fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
	}
	return b.String()
}

func existing(paths []string, skip func(string, error)) []string {
	var out []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err == nil && info.IsDir() {
			err = errors.New("is a directory")
		}
		if err != nil {
			skip(p, err)
			continue
		}
		out = append(out, p)
	}
	return out
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
