package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateBatch(); err != nil {
		return err
	}
	if err := c.validateRateLimit(); err != nil {
		return err
	}
	if err := c.validateEngines(); err != nil {
		return err
	}
	if err := c.validateSubtitles(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.WorkspaceDir) == "" {
		return errors.New("paths.workspace_dir must be set")
	}
	return nil
}

func (c *Config) validateBatch() error {
	if c.Batch.Concurrency < 1 {
		return errors.New("batch.concurrency must be at least 1")
	}
	if c.Batch.MaxAttempts < 1 {
		return errors.New("batch.max_attempts must be at least 1")
	}
	return nil
}

func (c *Config) validateRateLimit() error {
	if c.RateLimit.CooldownMinutes <= 0 {
		return errors.New("rate_limit.cooldown_minutes must be positive")
	}
	if c.RateLimit.BackoffFactor < 1 {
		return errors.New("rate_limit.backoff_factor must be at least 1")
	}
	if c.RateLimit.MaxCooldownMinutes < c.RateLimit.CooldownMinutes {
		return errors.New("rate_limit.max_cooldown_minutes must be at least rate_limit.cooldown_minutes")
	}
	return nil
}

func (c *Config) validateEngines() error {
	if err := ensurePositiveMap(map[string]int{
		"download.timeout":   c.Download.Timeout,
		"transcribe.timeout": c.Transcribe.Timeout,
		"separate.timeout":   c.Separate.Timeout,
		"ffmpeg.timeout":     c.FFmpeg.Timeout,
		"translate.timeout":  c.Translate.Timeout,
	}); err != nil {
		return err
	}
	if len(c.Transcribe.Engines) == 0 {
		return errors.New("transcribe.engines must list at least one engine")
	}
	for _, name := range c.Transcribe.Engines {
		switch strings.TrimSpace(name) {
		case "faster-whisper", "whisper":
		default:
			return fmt.Errorf("transcribe.engines: unknown engine %q", name)
		}
	}
	switch c.Transcribe.Device {
	case "auto", "cuda", "cpu":
	default:
		return fmt.Errorf("transcribe.device must be auto, cuda, or cpu (got %q)", c.Transcribe.Device)
	}
	if c.Transcribe.BeamSize < 1 {
		return errors.New("transcribe.beam_size must be at least 1")
	}
	if c.Separate.MP3Bitrate < 32 {
		return errors.New("separate.mp3_bitrate must be at least 32")
	}
	return nil
}

func (c *Config) validateSubtitles() error {
	switch c.Subtitles.Source {
	case "download", "generate":
	default:
		return fmt.Errorf("subtitles.source must be download or generate (got %q)", c.Subtitles.Source)
	}
	if len(c.Subtitles.Languages) == 0 {
		return errors.New("subtitles.languages must list at least one language")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
