// Package ffmpeg extracts audio tracks from downloaded video files.
package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"reel/internal/config"
	"reel/internal/services"
)

// Service runs ffmpeg for audio extraction.
type Service struct {
	binary        string
	timeout       time.Duration
	commandRunner func(ctx context.Context, name string, args ...string) error
}

// NewService creates an ffmpeg service from configuration.
func NewService(cfg config.FFmpeg) (*Service, error) {
	binary := strings.TrimSpace(cfg.Binary)
	if binary == "" {
		return nil, errors.New("ffmpeg binary required")
	}
	return &Service{
		binary:  binary,
		timeout: time.Duration(cfg.Timeout) * time.Second,
	}, nil
}

// WithCommandRunner sets a custom command runner (for testing).
func (s *Service) WithCommandRunner(runner func(ctx context.Context, name string, args ...string) error) {
	s.commandRunner = runner
}

// ExtractAudio pulls the audio stream out of source into an MP3 at dest.
// Existing destinations are overwritten.
func (s *Service) ExtractAudio(ctx context.Context, source, dest string) (string, error) {
	if source == "" {
		return "", services.Wrap(services.ErrTransient, "extract-audio", "ffmpeg", "source path required", nil)
	}
	if dest == "" {
		return "", services.Wrap(services.ErrTransient, "extract-audio", "ffmpeg", "destination path required", nil)
	}
	if _, err := os.Stat(source); err != nil {
		return "", services.Wrap(services.ErrTransient, "extract-audio", "ffmpeg", "source missing", err)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", services.Wrap(services.ErrTransient, "extract-audio", "ffmpeg", "ensure destination dir", err)
	}

	runCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	args := []string{"-y", "-i", source, "-vn", "-acodec", "libmp3lame", "-q:a", "2", dest}
	if err := s.run(runCtx, s.binary, args...); err != nil {
		_ = os.Remove(dest)
		if ctx.Err() != nil {
			return "", services.Wrap(services.ErrCancelled, "extract-audio", "ffmpeg", "", ctx.Err())
		}
		return "", services.Wrap(services.ErrTransient, "extract-audio", "ffmpeg", "extraction failed", err)
	}

	info, err := os.Stat(dest)
	if err != nil || info.Size() == 0 {
		_ = os.Remove(dest)
		return "", services.Wrap(services.ErrTransient, "extract-audio", "ffmpeg", "no audio produced", err)
	}
	return dest, nil
}

func (s *Service) run(ctx context.Context, name string, args ...string) error {
	if s.commandRunner != nil {
		return s.commandRunner(ctx, name, args...)
	}
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(output)))
	}
	return nil
}
