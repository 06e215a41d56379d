// Package whisper wraps the faster-whisper and reference whisper CLIs for
// audio transcription and subtitle generation.
package whisper

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"reel/internal/config"
	langpkg "reel/internal/language"
	"reel/internal/services"
)

// Engine names accepted in the transcribe.engines config list.
const (
	EngineFast      = "faster-whisper"
	EngineReference = "whisper"
)

// Result contains the artifacts of one transcription run.
type Result struct {
	// TranscriptPath is the plain-text transcript.
	TranscriptPath string
	// SRTPath is the subtitle file when one was requested.
	SRTPath string
}

// Service provides transcription through interchangeable whisper CLIs.
type Service struct {
	cfg           config.Transcribe
	lookPath      func(string) (string, error)
	commandRunner func(ctx context.Context, name string, args ...string) error
}

// NewService creates a whisper service with the given configuration.
func NewService(cfg config.Transcribe) *Service {
	return &Service{
		cfg:      cfg,
		lookPath: exec.LookPath,
	}
}

// WithCommandRunner sets a custom command runner (for testing).
func (s *Service) WithCommandRunner(runner func(ctx context.Context, name string, args ...string) error) {
	s.commandRunner = runner
}

// WithLookPath overrides binary resolution (for testing).
func (s *Service) WithLookPath(lookPath func(string) (string, error)) {
	if lookPath != nil {
		s.lookPath = lookPath
	}
}

// Model returns the configured model name for logging.
func (s *Service) Model() string {
	if s.cfg.Model != "" {
		return s.cfg.Model
	}
	return "large-v3"
}

// TranscribeFast transcribes audio with the faster-whisper CLI and returns
// the plain-text transcript path. A missing binary soft-fails so the chain
// can fall through to the reference engine.
func (s *Service) TranscribeFast(ctx context.Context, audioPath, outputDir, language string) (Result, error) {
	binary := s.cfg.FastBinary
	if binary == "" {
		binary = EngineFast
	}
	args := []string{
		"--model", s.Model(),
		"--device", s.device(),
		"--compute_type", s.computeType(),
		"--beam_size", strconv.Itoa(s.beamSize()),
	}
	return s.transcribe(ctx, EngineFast, binary, args, audioPath, outputDir, language, "txt")
}

// TranscribeReference transcribes audio with the reference whisper CLI.
func (s *Service) TranscribeReference(ctx context.Context, audioPath, outputDir, language string) (Result, error) {
	binary := s.cfg.ReferenceBinary
	if binary == "" {
		binary = EngineReference
	}
	args := []string{
		"--model", s.referenceModel(),
		"--device", s.device(),
		"--task", "transcribe",
	}
	return s.transcribe(ctx, EngineReference, binary, args, audioPath, outputDir, language, "txt")
}

// GenerateSubtitles produces an SRT file for the audio in the requested
// language, using the fast engine.
func (s *Service) GenerateSubtitles(ctx context.Context, audioPath, outputDir, language string) (Result, error) {
	binary := s.cfg.FastBinary
	if binary == "" {
		binary = EngineFast
	}
	args := []string{
		"--model", s.Model(),
		"--device", s.device(),
		"--compute_type", s.computeType(),
		"--beam_size", strconv.Itoa(s.beamSize()),
	}
	result, err := s.transcribe(ctx, EngineFast, binary, args, audioPath, outputDir, language, "srt")
	if err != nil {
		return Result{}, err
	}

	// Suffix the language so generated and downloaded tracks coexist.
	code := langpkg.ToISO2(language)
	if code == "" {
		code = "und"
	}
	stem := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	tagged := filepath.Join(outputDir, fmt.Sprintf("%s_%s.srt", stem, code))
	if result.SRTPath != tagged {
		if err := os.Rename(result.SRTPath, tagged); err != nil {
			return Result{}, services.Wrap(services.ErrTransient, "subtitle", EngineFast, "tag subtitle file", err)
		}
		result.SRTPath = tagged
	}
	return result, nil
}

func (s *Service) transcribe(ctx context.Context, engineName, binary string, engineArgs []string, audioPath, outputDir, language, format string) (Result, error) {
	stage := "transcribe"
	if format == "srt" {
		stage = "subtitle"
	}
	if audioPath == "" {
		return Result{}, services.Wrap(services.ErrTransient, stage, engineName, "audio path required", nil)
	}
	if _, err := os.Stat(audioPath); err != nil {
		return Result{}, services.Wrap(services.ErrTransient, stage, engineName, "audio missing", err)
	}
	if _, err := s.lookPath(binary); err != nil {
		return Result{}, services.Wrap(services.ErrTransient, stage, engineName, fmt.Sprintf("binary %s not installed", binary), err)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return Result{}, services.Wrap(services.ErrTransient, stage, engineName, "ensure output dir", err)
	}

	runCtx := ctx
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(s.cfg.Timeout)*time.Second)
		defer cancel()
	}

	args := []string{audioPath}
	args = append(args, engineArgs...)
	args = append(args, "--output_dir", outputDir, "--output_format", format)
	if code := langpkg.WhisperCode(language); code != "" {
		args = append(args, "--language", code)
	}

	if err := s.run(runCtx, binary, args...); err != nil {
		if ctx.Err() != nil {
			return Result{}, services.Wrap(services.ErrCancelled, stage, engineName, "", ctx.Err())
		}
		return Result{}, services.Wrap(services.ErrTransient, stage, engineName, "transcription failed", err)
	}

	stem := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	produced := filepath.Join(outputDir, stem+"."+format)
	info, err := os.Stat(produced)
	if err != nil || info.Size() == 0 {
		return Result{}, services.Wrap(services.ErrTransient, stage, engineName, "no transcript produced", err)
	}

	result := Result{}
	if format == "srt" {
		result.SRTPath = produced
	} else {
		result.TranscriptPath = produced
	}
	return result, nil
}

// device resolves the configured device, mapping auto to cpu. The CLIs accept
// an explicit device only.
func (s *Service) device() string {
	device := strings.ToLower(strings.TrimSpace(s.cfg.Device))
	if device == "" || device == "auto" {
		return "cpu"
	}
	return device
}

func (s *Service) computeType() string {
	if s.device() == "cuda" {
		return "float16"
	}
	return "int8"
}

func (s *Service) beamSize() int {
	if s.cfg.BeamSize > 0 {
		return s.cfg.BeamSize
	}
	return 5
}

// referenceModel maps the configured model to the reference CLI's naming,
// which has no -v3 variants.
func (s *Service) referenceModel() string {
	model := s.Model()
	if idx := strings.Index(model, "-v"); idx > 0 {
		model = model[:idx]
	}
	return model
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
