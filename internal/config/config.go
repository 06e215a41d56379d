package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains workspace directory configuration. All pipeline artifacts live
// in fixed subdirectories beneath WorkspaceDir.
type Paths struct {
	WorkspaceDir string `toml:"workspace_dir"`
	CookiesDir   string `toml:"cookies_dir"`
}

// Batch contains runner settings.
type Batch struct {
	Concurrency int  `toml:"concurrency"`
	MaxAttempts int  `toml:"max_attempts"`
	SafeMode    bool `toml:"safe_mode"`
}

// RateLimit configures the shared cooldown applied after a rate-limit signal.
type RateLimit struct {
	CooldownMinutes    int     `toml:"cooldown_minutes"`
	BackoffFactor      float64 `toml:"backoff_factor"`
	MaxCooldownMinutes int     `toml:"max_cooldown_minutes"`
}

// Download configures the yt-dlp download engine.
type Download struct {
	Binary           string `toml:"binary"`
	AudioFormat      string `toml:"audio_format"`
	AudioQuality     string `toml:"audio_quality"`
	Timeout          int    `toml:"timeout"`
	WriteThumbnail   bool   `toml:"write_thumbnail"`
	WriteDescription bool   `toml:"write_description"`
}

// Transcribe configures the transcription engine chain.
type Transcribe struct {
	Engines         []string `toml:"engines"`
	FastBinary      string   `toml:"fast_binary"`
	ReferenceBinary string   `toml:"reference_binary"`
	Model           string   `toml:"model"`
	Language        string   `toml:"language"`
	Device          string   `toml:"device"`
	BeamSize        int      `toml:"beam_size"`
	Timeout         int      `toml:"timeout"`
	Unified         bool     `toml:"unified"`
	KeepIndividual  bool     `toml:"keep_individual"`
}

// Separate configures Demucs voice separation.
type Separate struct {
	Binary     string `toml:"binary"`
	Model      string `toml:"model"`
	MP3Bitrate int    `toml:"mp3_bitrate"`
	Timeout    int    `toml:"timeout"`
}

// Subtitles configures subtitle retrieval and generation.
type Subtitles struct {
	Languages []string `toml:"languages"`
	Source    string   `toml:"source"`
}

// Translate configures the HTTP translation service used for subtitle blocks.
type Translate struct {
	Endpoint   string `toml:"endpoint"`
	TargetLang string `toml:"target_lang"`
	Timeout    int    `toml:"timeout"`
}

// FFmpeg configures audio extraction from video files.
type FFmpeg struct {
	Binary  string `toml:"binary"`
	Timeout int    `toml:"timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for reel.
type Config struct {
	Paths      Paths      `toml:"paths"`
	Batch      Batch      `toml:"batch"`
	RateLimit  RateLimit  `toml:"rate_limit"`
	Download   Download   `toml:"download"`
	Transcribe Transcribe `toml:"transcribe"`
	Separate   Separate   `toml:"separate"`
	Subtitles  Subtitles  `toml:"subtitles"`
	Translate  Translate  `toml:"translate"`
	FFmpeg     FFmpeg     `toml:"ffmpeg"`
	Logging    Logging    `toml:"logging"`
}

// DefaultConfigPath returns the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/reel/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config
// has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("reel.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

func (c *Config) normalize() error {
	var err error
	if c.Paths.WorkspaceDir, err = expandPath(c.Paths.WorkspaceDir); err != nil {
		return err
	}
	if c.Paths.CookiesDir, err = expandPath(c.Paths.CookiesDir); err != nil {
		return err
	}
	c.Subtitles.Source = strings.ToLower(strings.TrimSpace(c.Subtitles.Source))
	c.Transcribe.Device = strings.ToLower(strings.TrimSpace(c.Transcribe.Device))
	// Worker slots never exceed the machine.
	if max := runtime.NumCPU(); c.Batch.Concurrency > max {
		c.Batch.Concurrency = max
	}
	return nil
}

// Workspace subdirectories. Each pipeline operation writes only to its
// designated directory.
func (c *Config) DownloadDir() string      { return filepath.Join(c.Paths.WorkspaceDir, "downloads") }
func (c *Config) AudioDir() string         { return filepath.Join(c.Paths.WorkspaceDir, "audio") }
func (c *Config) VocalsDir() string        { return filepath.Join(c.Paths.WorkspaceDir, "vocals") }
func (c *Config) TranscriptionDir() string {
	return filepath.Join(c.Paths.WorkspaceDir, "transcriptions")
}
func (c *Config) SubtitleDir() string { return filepath.Join(c.Paths.WorkspaceDir, "subtitles") }
func (c *Config) LogDir() string      { return filepath.Join(c.Paths.WorkspaceDir, "logs") }
func (c *Config) TempDir() string     { return filepath.Join(c.Paths.WorkspaceDir, "temp") }

// EnsureDirectories creates the fixed workspace layout.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Paths.WorkspaceDir,
		c.DownloadDir(),
		c.AudioDir(),
		c.VocalsDir(),
		c.TranscriptionDir(),
		c.SubtitleDir(),
		c.LogDir(),
		c.TempDir(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
