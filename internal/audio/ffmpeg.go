package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

const (
	// whisper models are trained on 16 kHz mono input
	TargetSampleRate = 16000
	TargetChannels   = 1
)

var ErrFFmpegUnavailable = errors.New("ffmpeg not found")

// Converter turns an arbitrary audio or video file into a WAV the engines accept.
type Converter interface {
	ToWAV(ctx context.Context, src, dst string) error
}

type FFmpeg struct {
	Binary     string
	SampleRate int
	Channels   int
	Logger     *zap.Logger
}

// NewFFmpeg resolves the ffmpeg binary from override or PATH.
func NewFFmpeg(override string, logger *zap.Logger) (*FFmpeg, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	binary := strings.TrimSpace(override)
	if binary == "" {
		binary = "ffmpeg"
	}

	resolved, err := exec.LookPath(binary)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFFmpegUnavailable, binary, err)
	}

	return &FFmpeg{Binary: resolved, Logger: logger}, nil
}

func (f *FFmpeg) ToWAV(ctx context.Context, src, dst string) error {
	if strings.TrimSpace(src) == "" {
		return errors.New("source path is required")
	}
	if strings.TrimSpace(dst) == "" {
		return errors.New("output path is required")
	}

	if err := os.MkdirAll(filepath.Dir(filepath.Clean(dst)), 0o755); err != nil {
		return err
	}

	args := f.args(src, dst)
	cmd := exec.CommandContext(ctx, f.binary(), args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	f.log().Debug("running ffmpeg", zap.String("binary", f.binary()), zap.Strings("args", args))
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		_ = os.Remove(dst)
		return fmt.Errorf("ffmpeg convert %s: %w (%s)", filepath.Base(src), err, strings.TrimSpace(stderr.String()))
	}

	return nil
}

func (f *FFmpeg) args(src, dst string) []string {
	return []string{
		"-nostdin", "-hide_banner", "-loglevel", "error", "-y",
		"-i", src,
		"-vn",
		"-ac", strconv.Itoa(defaultChannels(f.Channels)),
		"-ar", strconv.Itoa(defaultSampleRate(f.SampleRate)),
		"-c:a", "pcm_s16le",
		dst,
	}
}

func (f *FFmpeg) binary() string {
	if f.Binary == "" {
		return "ffmpeg"
	}
	return f.Binary
}

func (f *FFmpeg) log() *zap.Logger {
	if f.Logger == nil {
		return zap.NewNop()
	}
	return f.Logger
}

func defaultSampleRate(value int) int {
	if value <= 0 {
		return TargetSampleRate
	}
	return value
}

func defaultChannels(value int) int {
	if value <= 0 {
		return TargetChannels
	}
	return value
}
