package config

import "runtime"

const (
	defaultWorkspaceDir       = "~/.local/share/reel"
	defaultCookiesDir         = "~"
	defaultMaxConcurrency     = 8
	defaultMaxAttempts        = 3
	defaultCooldownMinutes    = 30
	defaultBackoffFactor      = 2.0
	defaultMaxCooldownMinutes = 120
	defaultDownloadBinary     = "yt-dlp"
	defaultAudioFormat        = "mp3"
	defaultAudioQuality       = "320k"
	defaultDownloadTimeout    = 3600
	defaultFastBinary         = "faster-whisper"
	defaultReferenceBinary    = "whisper"
	defaultWhisperModel       = "large-v3"
	defaultWhisperDevice      = "auto"
	defaultBeamSize           = 5
	defaultTranscribeTimeout  = 3600
	defaultDemucsBinary       = "demucs"
	defaultDemucsModel        = "htdemucs_ft"
	defaultDemucsBitrate      = 320
	defaultDemucsTimeout      = 1200
	defaultSubtitleSource     = "download"
	defaultTargetLang         = "en"
	defaultTranslateTimeout   = 30
	defaultFFmpegBinary       = "ffmpeg"
	defaultFFmpegTimeout      = 600
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
)

func defaultConcurrency() int {
	n := runtime.NumCPU()
	if n > defaultMaxConcurrency {
		return defaultMaxConcurrency
	}
	if n < 1 {
		return 1
	}
	return n
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkspaceDir: defaultWorkspaceDir,
			CookiesDir:   defaultCookiesDir,
		},
		Batch: Batch{
			Concurrency: defaultConcurrency(),
			MaxAttempts: defaultMaxAttempts,
			SafeMode:    true,
		},
		RateLimit: RateLimit{
			CooldownMinutes:    defaultCooldownMinutes,
			BackoffFactor:      defaultBackoffFactor,
			MaxCooldownMinutes: defaultMaxCooldownMinutes,
		},
		Download: Download{
			Binary:       defaultDownloadBinary,
			AudioFormat:  defaultAudioFormat,
			AudioQuality: defaultAudioQuality,
			Timeout:      defaultDownloadTimeout,
		},
		Transcribe: Transcribe{
			Engines:         []string{"faster-whisper", "whisper"},
			FastBinary:      defaultFastBinary,
			ReferenceBinary: defaultReferenceBinary,
			Model:           defaultWhisperModel,
			Device:          defaultWhisperDevice,
			BeamSize:        defaultBeamSize,
			Timeout:         defaultTranscribeTimeout,
			KeepIndividual:  true,
		},
		Separate: Separate{
			Binary:     defaultDemucsBinary,
			Model:      defaultDemucsModel,
			MP3Bitrate: defaultDemucsBitrate,
			Timeout:    defaultDemucsTimeout,
		},
		Subtitles: Subtitles{
			Languages: []string{"es", "en"},
			Source:    defaultSubtitleSource,
		},
		Translate: Translate{
			TargetLang: defaultTargetLang,
			Timeout:    defaultTranslateTimeout,
		},
		FFmpeg: FFmpeg{
			Binary:  defaultFFmpegBinary,
			Timeout: defaultFFmpegTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
