// Package ytdlp wraps the yt-dlp CLI for video, audio, and subtitle
// downloads.
package ytdlp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"reel/internal/config"
	"reel/internal/cookies"
	"reel/internal/fileutil"
	"reel/internal/platform"
	"reel/internal/services"
)

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, onOutput func(string)) error
}

// Option configures the client.
type Option func(*Client)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(c *Client) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// Client wraps yt-dlp CLI interactions.
type Client struct {
	binary       string
	timeout      time.Duration
	audioFormat  string
	audioQuality string
	safeMode     bool
	jar          *cookies.Jar
	exec         Executor
}

// New constructs a yt-dlp client. The jar may be empty; downloads then run
// without browser cookies.
func New(cfg config.Download, safeMode bool, jar *cookies.Jar, opts ...Option) (*Client, error) {
	binary := strings.TrimSpace(cfg.Binary)
	if binary == "" {
		return nil, errors.New("yt-dlp binary required")
	}
	if jar == nil {
		jar = &cookies.Jar{}
	}
	client := &Client{
		binary:       binary,
		timeout:      time.Duration(cfg.Timeout) * time.Second,
		audioFormat:  cfg.AudioFormat,
		audioQuality: cfg.AudioQuality,
		safeMode:     safeMode,
		jar:          jar,
		exec:         commandExecutor{},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Mode selects what a download run produces.
type Mode int

const (
	// ModeVideo downloads the full video file.
	ModeVideo Mode = iota
	// ModeAudio extracts audio to the configured format.
	ModeAudio
	// ModeSubtitles fetches subtitle tracks without media.
	ModeSubtitles
)

// Request describes one yt-dlp invocation.
type Request struct {
	URL     string
	Service platform.Service
	DestDir string
	Mode    Mode
	// UseCookies injects a rotated browser profile. TikTok downloads always
	// use cookies regardless of this flag.
	UseCookies bool
	// Languages selects subtitle languages for ModeSubtitles.
	Languages []string
	// BaseName overrides the output template base for ModeSubtitles.
	BaseName string
}

var videoExtensions = map[string]struct{}{
	".mp4": {}, ".mkv": {}, ".webm": {}, ".flv": {}, ".mov": {},
}

// Download runs yt-dlp and returns the files it produced in the destination
// directory, oldest first. Output lines are scanned for throttle and
// authentication signals which map to the failure taxonomy.
func (c *Client) Download(ctx context.Context, req Request) ([]string, error) {
	if strings.TrimSpace(req.URL) == "" {
		return nil, services.Wrap(services.ErrTransient, "download", "yt-dlp", "url required", nil)
	}
	if req.DestDir == "" {
		return nil, services.Wrap(services.ErrTransient, "download", "yt-dlp", "destination directory required", nil)
	}

	before, err := fileutil.SnapshotDir(req.DestDir)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "download", "yt-dlp", "snapshot destination", err)
	}

	runCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	args := c.buildArgs(req)
	scanner := newSignalScanner()
	runErr := c.exec.Run(runCtx, c.binary, args, scanner.observe)

	if signal := scanner.signal(req.Service, req.UseCookies); signal != nil {
		return nil, signal
	}
	if runErr != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, services.Wrap(services.ErrTransient, "download", "yt-dlp", "timed out", runErr)
		}
		if ctx.Err() != nil {
			return nil, services.Wrap(services.ErrCancelled, "download", "yt-dlp", "", ctx.Err())
		}
		return nil, services.Wrap(services.ErrTransient, "download", "yt-dlp", "command failed", runErr)
	}

	created, err := fileutil.ListNewFiles(req.DestDir, before)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "download", "yt-dlp", "scan destination", err)
	}
	created = filterByMode(created, req.Mode)
	if len(created) == 0 {
		return nil, services.Wrap(services.ErrTransient, "download", "yt-dlp", "no output produced", nil)
	}
	sortOldestFirst(created)
	return created, nil
}

// sortOldestFirst orders files by modification time so playlist entries come
// back in the order yt-dlp wrote them. Names break ties for stability on
// filesystems with coarse timestamps.
func sortOldestFirst(paths []string) {
	mods := make(map[string]time.Time, len(paths))
	for _, path := range paths {
		if info, err := os.Stat(path); err == nil {
			mods[path] = info.ModTime()
		}
	}
	sort.SliceStable(paths, func(i, j int) bool {
		mi, mj := mods[paths[i]], mods[paths[j]]
		if mi.Equal(mj) {
			return paths[i] < paths[j]
		}
		return mi.Before(mj)
	})
}

func (c *Client) buildArgs(req Request) []string {
	args := []string{"--restrict-filenames", "--no-overwrites", "--ignore-errors"}

	switch req.Mode {
	case ModeAudio:
		args = append(args, "-x", "--audio-format", c.audioFormat, "--audio-quality", c.audioQuality,
			"--embed-thumbnail", "--add-metadata")
	case ModeSubtitles:
		langs := strings.Join(appendEnglish(req.Languages), ",")
		args = append(args, "--write-subs", "--write-auto-subs", "--sub-langs", langs,
			"--skip-download", "--convert-subs", "srt")
	}

	template := "%(title)s.%(ext)s"
	if req.Mode == ModeSubtitles && req.BaseName != "" {
		template = req.BaseName + ".%(ext)s"
	}
	args = append(args, "-o", filepath.Join(req.DestDir, template))

	if c.safeMode {
		args = append(args, "--sleep-requests", "1", "--sleep-interval", "10",
			"--max-sleep-interval", "20", "--sleep-subtitles", "5")
	}

	useCookies := req.UseCookies || req.Service == platform.TikTok
	if useCookies {
		if profile, ok := c.jar.Next(); ok {
			args = append(args, "--cookies-from-browser", profile.BrowserSpec())
			if req.Service == platform.YouTube {
				args = append(args, "--extractor-args", "youtube:player_client=tv_downgraded,web")
			}
		}
	} else if req.Service == platform.YouTube {
		args = append(args, "--extractor-args", "youtube:player_client=android,tv")
	}

	return append(args, req.URL)
}

// appendEnglish ensures English is a subtitle fallback, matching yt-dlp's
// best-effort auto captions.
func appendEnglish(langs []string) []string {
	out := make([]string, 0, len(langs)+1)
	hasEnglish := false
	for _, lang := range langs {
		if lang == "" {
			continue
		}
		if lang == "en" {
			hasEnglish = true
		}
		out = append(out, lang)
	}
	if !hasEnglish {
		out = append(out, "en")
	}
	return out
}

func filterByMode(paths []string, mode Mode) []string {
	var out []string
	for _, path := range paths {
		ext := strings.ToLower(filepath.Ext(path))
		switch mode {
		case ModeVideo:
			if _, ok := videoExtensions[ext]; ok {
				out = append(out, path)
			}
		case ModeAudio:
			if ext != ".part" && ext != ".ytdl" {
				out = append(out, path)
			}
		case ModeSubtitles:
			if ext == ".srt" || ext == ".vtt" {
				out = append(out, path)
			}
		}
	}
	return out
}

// signalScanner watches yt-dlp output for throttle and block markers.
type signalScanner struct {
	mu          sync.Mutex
	rateLimited bool
	blocked     bool
	lastLine    string
}

var blockTokens = []string{
	"sign in to confirm",
	"not a bot",
	"captcha",
	"verify you are human",
	"403 forbidden",
}

var rateLimitTokens = []string{
	"rate-limited by youtube",
	"http error 429",
	"too many requests",
}

func newSignalScanner() *signalScanner {
	return &signalScanner{}
}

func (s *signalScanner) observe(line string) {
	lower := strings.ToLower(line)

	s.mu.Lock()
	defer s.mu.Unlock()
	if trimmed := strings.TrimSpace(line); trimmed != "" {
		s.lastLine = trimmed
	}
	for _, token := range rateLimitTokens {
		if strings.Contains(lower, token) {
			s.rateLimited = true
			return
		}
	}
	if strings.Contains(lower, "error:") {
		for _, token := range blockTokens {
			if strings.Contains(lower, token) {
				s.blocked = true
				return
			}
		}
	}
}

// signal converts observed markers to taxonomy errors. A block seen on a
// cookie-less attempt is transient so the chain can retry with a browser
// profile; with cookies already injected it is an auth failure the user must
// resolve.
func (s *signalScanner) signal(service platform.Service, usedCookies bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rateLimited {
		return &services.RateLimitError{Service: string(service), Detail: s.lastLine}
	}
	if s.blocked {
		if usedCookies {
			return services.Wrap(services.ErrAuthRequired, "download", "yt-dlp",
				fmt.Sprintf("blocked by %s, refresh the browser session", service), nil)
		}
		return services.Wrap(services.ErrTransient, "download", "yt-dlp",
			fmt.Sprintf("blocked by %s without cookies", service), nil)
	}
	return nil
}
