// Package demucs isolates the vocal stem from audio files using the Demucs
// source separator.
package demucs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"reel/internal/config"
	"reel/internal/fileutil"
	"reel/internal/services"
)

// Service runs Demucs two-stem separation.
type Service struct {
	binary        string
	model         string
	mp3Bitrate    int
	device        string
	timeout       time.Duration
	commandRunner func(ctx context.Context, name string, args ...string) error
}

// NewService creates a Demucs service from configuration. The device follows
// the transcription device setting so both GPU stages agree.
func NewService(cfg config.Separate, device string) (*Service, error) {
	binary := strings.TrimSpace(cfg.Binary)
	if binary == "" {
		return nil, errors.New("demucs binary required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "htdemucs_ft"
	}
	bitrate := cfg.MP3Bitrate
	if bitrate <= 0 {
		bitrate = 320
	}
	if device == "" || device == "auto" {
		device = "cpu"
	}
	return &Service{
		binary:     binary,
		model:      model,
		mp3Bitrate: bitrate,
		device:     device,
		timeout:    time.Duration(cfg.Timeout) * time.Second,
	}, nil
}

// WithCommandRunner sets a custom command runner (for testing).
func (s *Service) WithCommandRunner(runner func(ctx context.Context, name string, args ...string) error) {
	s.commandRunner = runner
}

// Model returns the configured separation model name for logging.
func (s *Service) Model() string { return s.model }

// SeparateVocals extracts the vocal stem from audioPath into destDir,
// returning the final vocals file. Demucs writes under a model-named
// directory inside destDir; the stem is moved out and the scratch layout
// removed.
func (s *Service) SeparateVocals(ctx context.Context, audioPath, destDir string) (string, error) {
	if audioPath == "" {
		return "", services.Wrap(services.ErrTransient, "separate-voice", "demucs", "audio path required", nil)
	}
	if _, err := os.Stat(audioPath); err != nil {
		return "", services.Wrap(services.ErrTransient, "separate-voice", "demucs", "audio missing", err)
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", services.Wrap(services.ErrTransient, "separate-voice", "demucs", "ensure destination dir", err)
	}

	stem := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	output := filepath.Join(destDir, stem+"_vocals.mp3")
	if _, err := os.Stat(output); err == nil {
		return output, nil
	}

	runCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	args := []string{
		"--two-stems=vocals",
		"-n", s.model,
		"--device", s.device,
		"--shifts", "1",
		"--overlap", "0.25",
		"--mp3",
		"--mp3-bitrate", strconv.Itoa(s.mp3Bitrate),
		"-o", destDir,
		audioPath,
	}
	if err := s.run(runCtx, s.binary, args...); err != nil {
		if ctx.Err() != nil {
			return "", services.Wrap(services.ErrCancelled, "separate-voice", "demucs", "", ctx.Err())
		}
		return "", services.Wrap(services.ErrTransient, "separate-voice", "demucs", "separation failed", err)
	}

	modelDir := filepath.Join(destDir, s.model)
	vocals, err := locateVocals(modelDir, stem)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "separate-voice", "demucs", "no vocals produced", err)
	}
	if err := fileutil.MoveFile(vocals, output); err != nil {
		return "", services.Wrap(services.ErrTransient, "separate-voice", "demucs", "collect vocals", err)
	}
	cleanupScratch(modelDir)
	return output, nil
}

// locateVocals finds the vocals stem under the model output directory. Demucs
// sometimes sanitizes track names, so a recursive search backs up the
// predicted path.
func locateVocals(modelDir, stem string) (string, error) {
	predicted := filepath.Join(modelDir, stem, "vocals.mp3")
	if _, err := os.Stat(predicted); err == nil {
		return predicted, nil
	}

	var newest string
	var newestMod time.Time
	walkErr := filepath.WalkDir(modelDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != "vocals.mp3" {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if newest == "" || info.ModTime().After(newestMod) {
			newest = path
			newestMod = info.ModTime()
		}
		return nil
	})
	if walkErr != nil {
		return "", walkErr
	}
	if newest == "" {
		return "", fmt.Errorf("vocals.mp3 not found under %s", modelDir)
	}
	return newest, nil
}

// cleanupScratch removes the per-track scratch directories Demucs leaves
// behind. Best effort.
func cleanupScratch(modelDir string) {
	entries, err := os.ReadDir(modelDir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			_ = os.RemoveAll(filepath.Join(modelDir, entry.Name()))
		}
	}
	_ = os.Remove(modelDir)
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
