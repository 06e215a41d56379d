// Package pipeline executes the per-item stage sequence, binding work item
// operations to engine chains and the services behind them.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"reel/internal/config"
	"reel/internal/cookies"
	"reel/internal/engine"
	"reel/internal/fallback"
	"reel/internal/logging"
	"reel/internal/naming"
	"reel/internal/platform"
	"reel/internal/queue"
	"reel/internal/services"
	"reel/internal/services/demucs"
	"reel/internal/services/ffmpeg"
	"reel/internal/services/translate"
	"reel/internal/services/whisper"
	"reel/internal/services/ytdlp"
)

// stageOrder is the canonical execution order; an item's operation set is
// filtered through it.
var stageOrder = []queue.Operation{
	queue.OpDownload,
	queue.OpExtract,
	queue.OpSeparate,
	queue.OpTranscribe,
	queue.OpSubtitle,
	queue.OpTranslate,
}

// Pipeline holds the configured services and executes items stage by stage.
type Pipeline struct {
	cfg       *config.Config
	store     *queue.Store
	logger    *slog.Logger
	limiter   *fallback.Limiter
	jar       *cookies.Jar
	downloads *ytdlp.Client
	extractor *ffmpeg.Service
	separator *demucs.Service
	scriber   *whisper.Service
	translate *translate.Client
}

// Option overrides pipeline internals (primarily for tests).
type Option func(*Pipeline)

// WithDownloader replaces the yt-dlp client.
func WithDownloader(client *ytdlp.Client) Option {
	return func(p *Pipeline) { p.downloads = client }
}

// WithExtractor replaces the ffmpeg service.
func WithExtractor(svc *ffmpeg.Service) Option {
	return func(p *Pipeline) { p.extractor = svc }
}

// WithSeparator replaces the demucs service.
func WithSeparator(svc *demucs.Service) Option {
	return func(p *Pipeline) { p.separator = svc }
}

// WithTranscriber replaces the whisper service.
func WithTranscriber(svc *whisper.Service) Option {
	return func(p *Pipeline) { p.scriber = svc }
}

// WithTranslator replaces the translation client.
func WithTranslator(client *translate.Client) Option {
	return func(p *Pipeline) { p.translate = client }
}

// New wires a pipeline from configuration. The limiter is shared with the
// batch runner so rate-limit cooldowns pause dispatch globally.
func New(cfg *config.Config, store *queue.Store, limiter *fallback.Limiter, logger *slog.Logger, opts ...Option) (*Pipeline, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if limiter == nil {
		limiter = fallback.NewLimiter(cfg.RateLimit)
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	jar, err := cookies.Discover(cfg.Paths.CookiesDir)
	if err != nil {
		return nil, fmt.Errorf("discover cookie profiles: %w", err)
	}

	pipeline := &Pipeline{
		cfg:     cfg,
		store:   store,
		logger:  logging.WithComponent(logger, "pipeline"),
		limiter: limiter,
		jar:     jar,
		scriber: whisper.NewService(cfg.Transcribe),
	}

	pipeline.downloads, err = ytdlp.New(cfg.Download, cfg.Batch.SafeMode, jar)
	if err != nil {
		return nil, err
	}
	pipeline.extractor, err = ffmpeg.NewService(cfg.FFmpeg)
	if err != nil {
		return nil, err
	}
	pipeline.separator, err = demucs.NewService(cfg.Separate, cfg.Transcribe.Device)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Translate.Endpoint) != "" {
		pipeline.translate, err = translate.NewClient(cfg.Translate)
		if err != nil {
			return nil, err
		}
	}

	for _, opt := range opts {
		opt(pipeline)
	}
	return pipeline, nil
}

// Limiter exposes the shared rate-limit state.
func (p *Pipeline) Limiter() *fallback.Limiter { return p.limiter }

// Process runs the item's operations in canonical order, persisting artifact
// paths after each stage. The first stage error aborts the item.
func (p *Pipeline) Process(ctx context.Context, item *queue.Item) error {
	service := platform.Detect(item.Source)

	for _, op := range stageOrder {
		if !item.HasOperation(op) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return services.Wrap(services.ErrCancelled, string(op), "", "", err)
		}

		p.logger.Info("stage started",
			logging.Int64(logging.FieldItemID, item.ID),
			logging.String(logging.FieldStage, string(op)),
			logging.String(logging.FieldService, string(service)),
		)

		var err error
		switch op {
		case queue.OpDownload:
			err = p.download(ctx, item, service)
		case queue.OpExtract:
			err = p.extractAudio(ctx, item, service)
		case queue.OpSeparate:
			err = p.separateVoice(ctx, item)
		case queue.OpTranscribe:
			err = p.transcribe(ctx, item)
		case queue.OpSubtitle:
			err = p.subtitle(ctx, item, service)
		case queue.OpTranslate:
			err = p.translateSubtitles(ctx, item)
		}
		if err != nil {
			return err
		}
		if p.store != nil {
			if updateErr := p.store.Update(ctx, item); updateErr != nil {
				return updateErr
			}
		}
	}
	return nil
}

// downloadChain builds the two-step download ladder: a cookie-less attempt
// first, then a retry with a rotated browser profile when profiles exist.
func (p *Pipeline) downloadChain(stage engine.Stage, mode ytdlp.Mode, langs []string, baseName string, collect func(files []string)) (*fallback.Chain, error) {
	run := func(useCookies bool) engine.RunFunc {
		return func(ctx context.Context, req engine.Request) (engine.Result, error) {
			files, err := p.downloads.Download(ctx, ytdlp.Request{
				URL:        req.Source,
				Service:    platform.Service(req.Service),
				DestDir:    req.OutputDir,
				Mode:       mode,
				UseCookies: useCookies,
				Languages:  langs,
				BaseName:   baseName,
			})
			if err != nil {
				return engine.Result{}, err
			}
			if collect != nil {
				collect(files)
			}
			result := engine.Result{ArtifactPath: files[0]}
			if len(files) > 1 {
				result.ExtraArtifacts = files[1:]
			}
			return result, nil
		}
	}

	descriptors := []engine.Descriptor{
		{Name: "yt-dlp", Stage: stage, Priority: 1, Run: run(false)},
	}
	if p.jar.Len() > 0 {
		descriptors = append(descriptors, engine.Descriptor{
			Name: "yt-dlp-cookies", Stage: stage, Priority: 2, Run: run(true),
		})
	}
	return fallback.NewChain(stage, descriptors, p.limiter, p.logger)
}

func (p *Pipeline) download(ctx context.Context, item *queue.Item, service platform.Service) error {
	if !platform.IsURL(item.Source) {
		item.DownloadFile = item.Source
		return nil
	}

	chain, err := p.downloadChain(engine.StageDownload, ytdlp.ModeVideo, nil, "", nil)
	if err != nil {
		return err
	}
	result, _, err := chain.Run(ctx, engine.Request{
		Source:    item.Source,
		Service:   string(service),
		OutputDir: p.cfg.DownloadDir(),
	})
	if err != nil {
		return err
	}
	item.DownloadFile = result.ArtifactPath
	if item.Title == "" {
		stem := strings.TrimSuffix(filepath.Base(result.ArtifactPath), filepath.Ext(result.ArtifactPath))
		item.Title = naming.Title(strings.ReplaceAll(stem, "_", " "))
	}
	return nil
}

// extractAudio produces the item's audio file: from the downloaded video via
// ffmpeg when one exists, otherwise directly from the source URL via the
// audio download ladder.
func (p *Pipeline) extractAudio(ctx context.Context, item *queue.Item, service platform.Service) error {
	if item.DownloadFile != "" && !platform.IsURL(item.DownloadFile) {
		stem := strings.TrimSuffix(filepath.Base(item.DownloadFile), filepath.Ext(item.DownloadFile))
		dest := filepath.Join(p.cfg.AudioDir(), stem+".mp3")
		audio, err := p.extractor.ExtractAudio(ctx, item.DownloadFile, dest)
		if err != nil {
			return err
		}
		item.AudioFile = audio
		return nil
	}

	if !platform.IsURL(item.Source) {
		return services.Wrap(services.ErrTransient, "extract-audio", "", "no downloaded file to extract from", nil)
	}

	chain, err := p.downloadChain(engine.StageExtract, ytdlp.ModeAudio, nil, "", nil)
	if err != nil {
		return err
	}
	result, _, err := chain.Run(ctx, engine.Request{
		Source:    item.Source,
		Service:   string(service),
		OutputDir: p.cfg.AudioDir(),
	})
	if err != nil {
		return err
	}
	item.AudioFile = result.ArtifactPath
	if item.Title == "" {
		stem := strings.TrimSuffix(filepath.Base(result.ArtifactPath), filepath.Ext(result.ArtifactPath))
		item.Title = naming.Title(strings.ReplaceAll(stem, "_", " "))
	}
	return nil
}

func (p *Pipeline) separateVoice(ctx context.Context, item *queue.Item) error {
	source := item.AudioFile
	if source == "" {
		return services.Wrap(services.ErrTransient, "separate-voice", "", "no audio file; run extract-audio first", nil)
	}
	vocals, err := p.separator.SeparateVocals(ctx, source, p.cfg.VocalsDir())
	if err != nil {
		return err
	}
	item.VocalsFile = vocals
	return nil
}

// transcribe runs the configured engine ladder against the best available
// audio: isolated vocals when present, the plain audio track otherwise.
func (p *Pipeline) transcribe(ctx context.Context, item *queue.Item) error {
	source := item.VocalsFile
	if source == "" {
		source = item.AudioFile
	}
	if source == "" {
		return services.Wrap(services.ErrTransient, "transcribe", "", "no audio file; run extract-audio first", nil)
	}

	var descriptors []engine.Descriptor
	for i, name := range p.cfg.Transcribe.Engines {
		switch name {
		case whisper.EngineFast:
			descriptors = append(descriptors, engine.Descriptor{
				Name: whisper.EngineFast, Stage: engine.StageTranscribe, Priority: i + 1,
				Run: func(ctx context.Context, req engine.Request) (engine.Result, error) {
					result, err := p.scriber.TranscribeFast(ctx, req.Source, req.OutputDir, req.Language)
					if err != nil {
						return engine.Result{}, err
					}
					return engine.Result{ArtifactPath: result.TranscriptPath}, nil
				},
			})
		case whisper.EngineReference:
			descriptors = append(descriptors, engine.Descriptor{
				Name: whisper.EngineReference, Stage: engine.StageTranscribe, Priority: i + 1,
				Run: func(ctx context.Context, req engine.Request) (engine.Result, error) {
					result, err := p.scriber.TranscribeReference(ctx, req.Source, req.OutputDir, req.Language)
					if err != nil {
						return engine.Result{}, err
					}
					return engine.Result{ArtifactPath: result.TranscriptPath}, nil
				},
			})
		}
	}
	chain, err := fallback.NewChain(engine.StageTranscribe, descriptors, p.limiter, p.logger)
	if err != nil {
		return err
	}

	result, _, err := chain.Run(ctx, engine.Request{
		Source:    source,
		Service:   string(platform.Unknown),
		Language:  p.cfg.Transcribe.Language,
		OutputDir: p.cfg.TranscriptionDir(),
	})
	if err != nil {
		return err
	}
	item.TranscriptFile = result.ArtifactPath
	return nil
}

// subtitle fetches or generates subtitles per the configured source.
func (p *Pipeline) subtitle(ctx context.Context, item *queue.Item, service platform.Service) error {
	langs := p.cfg.Subtitles.Languages

	if p.cfg.Subtitles.Source == "download" && platform.IsURL(item.Source) {
		baseName := naming.ArtifactBase(item.Title, fmt.Sprintf("item-%d", item.ID))
		chain, err := p.downloadChain(engine.StageSubtitle, ytdlp.ModeSubtitles, langs, baseName, nil)
		if err != nil {
			return err
		}
		result, _, err := chain.Run(ctx, engine.Request{
			Source:    item.Source,
			Service:   string(service),
			OutputDir: p.cfg.SubtitleDir(),
		})
		if err == nil {
			item.SubtitleFile = result.ArtifactPath
			return nil
		}
		if services.Classify(err) != services.KindExhausted {
			return err
		}
		// No published subtitles; fall back to generating them.
	}

	source := item.VocalsFile
	if source == "" {
		source = item.AudioFile
	}
	if source == "" {
		return services.Wrap(services.ErrTransient, "subtitle", "", "no audio file to generate subtitles from", nil)
	}
	lang := ""
	if len(langs) > 0 {
		lang = langs[0]
	}
	result, err := p.scriber.GenerateSubtitles(ctx, source, p.cfg.SubtitleDir(), lang)
	if err != nil {
		return err
	}
	item.SubtitleFile = result.SRTPath
	return nil
}

func (p *Pipeline) translateSubtitles(ctx context.Context, item *queue.Item) error {
	if p.translate == nil {
		return services.Wrap(services.ErrTransient, "translate", "", "translate endpoint not configured", nil)
	}
	if item.SubtitleFile == "" {
		return services.Wrap(services.ErrTransient, "translate", "", "no subtitle file; run subtitle first", nil)
	}
	if until, active := p.limiter.ActiveCooldown("translate"); active {
		return services.Wrap(services.ErrRateLimited, "translate", "",
			fmt.Sprintf("translation service cooling down until %s", until.Format("15:04:05")), nil)
	}

	output, err := p.translate.TranslateSubtitleFile(ctx, item.SubtitleFile)
	if err != nil {
		if services.Classify(err) == services.KindRateLimited {
			hint, _ := services.RetryAfterHint(err)
			p.limiter.Signal("translate", hint)
		}
		return err
	}
	p.limiter.ReportSuccess("translate")
	item.SubtitleFile = output
	return nil
}
