package pipeline_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"reel/internal/config"
	"reel/internal/cookies"
	"reel/internal/fallback"
	"reel/internal/logging"
	"reel/internal/pipeline"
	"reel/internal/queue"
	"reel/internal/services"
	"reel/internal/services/demucs"
	"reel/internal/services/ffmpeg"
	"reel/internal/services/whisper"
	"reel/internal/services/ytdlp"
	"reel/internal/testsupport"
)

type stubExecutor struct {
	onRun func(binary string, args []string) error
}

func (s *stubExecutor) Run(ctx context.Context, binary string, args []string, onOutput func(string)) error {
	if s.onRun != nil {
		return s.onRun(binary, args)
	}
	return nil
}

func findArg(args []string, flag string) (string, bool) {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1], true
		}
	}
	return "", false
}

func newPipeline(t *testing.T, cfg *config.Config, store *queue.Store, opts ...pipeline.Option) *pipeline.Pipeline {
	t.Helper()
	p, err := pipeline.New(cfg, store, fallback.NewLimiter(cfg.RateLimit), logging.NewNop(), opts...)
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	return p
}

func stubbedDownloader(t *testing.T, cfg *config.Config, exec ytdlp.Executor) *ytdlp.Client {
	t.Helper()
	client, err := ytdlp.New(cfg.Download, false, &cookies.Jar{}, ytdlp.WithExecutor(exec))
	if err != nil {
		t.Fatalf("ytdlp.New: %v", err)
	}
	return client
}

func stubbedExtractor(t *testing.T, cfg *config.Config, runner func(ctx context.Context, name string, args ...string) error) *ffmpeg.Service {
	t.Helper()
	svc, err := ffmpeg.NewService(cfg.FFmpeg)
	if err != nil {
		t.Fatalf("ffmpeg.NewService: %v", err)
	}
	svc.WithCommandRunner(runner)
	return svc
}

func stubbedSeparator(t *testing.T, cfg *config.Config, runner func(ctx context.Context, name string, args ...string) error) *demucs.Service {
	t.Helper()
	svc, err := demucs.NewService(cfg.Separate, "cpu")
	if err != nil {
		t.Fatalf("demucs.NewService: %v", err)
	}
	svc.WithCommandRunner(runner)
	return svc
}

func stubbedTranscriber(t *testing.T, cfg *config.Config, runner func(ctx context.Context, name string, args ...string) error) *whisper.Service {
	t.Helper()
	svc := whisper.NewService(cfg.Transcribe)
	svc.WithLookPath(func(name string) (string, error) { return "/usr/bin/" + name, nil })
	svc.WithCommandRunner(runner)
	return svc
}

func TestProcessLocalFileFullChain(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	store := testsupport.MustOpenStore(t, cfg)

	source := filepath.Join(testsupport.BaseDir(cfg), "lecture.mp4")
	testsupport.WriteFile(t, source, 256)

	extractor := stubbedExtractor(t, cfg, func(ctx context.Context, name string, args ...string) error {
		testsupport.WriteFile(t, args[len(args)-1], 128)
		return nil
	})
	separator := stubbedSeparator(t, cfg, func(ctx context.Context, name string, args ...string) error {
		testsupport.WriteFile(t, filepath.Join(cfg.VocalsDir(), cfg.Separate.Model, "lecture", "vocals.mp3"), 64)
		return nil
	})
	transcriber := stubbedTranscriber(t, cfg, func(ctx context.Context, name string, args ...string) error {
		outputDir, _ := findArg(args, "--output_dir")
		stem := strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
		testsupport.WriteFile(t, filepath.Join(outputDir, stem+".txt"), 32)
		return nil
	})

	p := newPipeline(t, cfg, store,
		pipeline.WithExtractor(extractor),
		pipeline.WithSeparator(separator),
		pipeline.WithTranscriber(transcriber),
	)

	item := testsupport.AddItem(t, store, source,
		queue.OpDownload, queue.OpExtract, queue.OpSeparate, queue.OpTranscribe)

	if err := p.Process(context.Background(), item); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if item.DownloadFile != source {
		t.Fatalf("local source should become the download file, got %s", item.DownloadFile)
	}
	if filepath.Base(item.AudioFile) != "lecture.mp3" {
		t.Fatalf("unexpected audio file: %s", item.AudioFile)
	}
	if filepath.Base(item.VocalsFile) != "lecture_vocals.mp3" {
		t.Fatalf("unexpected vocals file: %s", item.VocalsFile)
	}
	if filepath.Base(item.TranscriptFile) != "lecture_vocals.txt" {
		t.Fatalf("unexpected transcript: %s", item.TranscriptFile)
	}

	stored, err := store.GetByID(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.TranscriptFile != item.TranscriptFile {
		t.Fatal("artifact paths should be persisted")
	}
}

func TestProcessDownloadsURL(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	store := testsupport.MustOpenStore(t, cfg)

	exec := &stubExecutor{onRun: func(binary string, args []string) error {
		testsupport.WriteFile(t, filepath.Join(cfg.DownloadDir(), "My_Talk.mp4"), 128)
		return nil
	}}
	p := newPipeline(t, cfg, store, pipeline.WithDownloader(stubbedDownloader(t, cfg, exec)))

	item := testsupport.AddItem(t, store, "https://www.youtube.com/watch?v=abc", queue.OpDownload)
	if err := p.Process(context.Background(), item); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if filepath.Base(item.DownloadFile) != "My_Talk.mp4" {
		t.Fatalf("unexpected download file: %s", item.DownloadFile)
	}
	if item.Title != "My Talk" {
		t.Fatalf("title should derive from the file name, got %q", item.Title)
	}
}

func TestProcessTranscribeFallsBackToReference(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	store := testsupport.MustOpenStore(t, cfg)

	audio := filepath.Join(cfg.AudioDir(), "clip.mp3")
	testsupport.WriteFile(t, audio, 64)

	var engines []string
	transcriber := stubbedTranscriber(t, cfg, func(ctx context.Context, name string, args ...string) error {
		engines = append(engines, name)
		if name == cfg.Transcribe.FastBinary {
			return errors.New("model load failed")
		}
		outputDir, _ := findArg(args, "--output_dir")
		stem := strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
		testsupport.WriteFile(t, filepath.Join(outputDir, stem+".txt"), 32)
		return nil
	})

	p := newPipeline(t, cfg, store, pipeline.WithTranscriber(transcriber))

	item := testsupport.AddItem(t, store, audio, queue.OpTranscribe)
	item.AudioFile = audio
	if err := p.Process(context.Background(), item); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(engines) != 2 || engines[0] != cfg.Transcribe.FastBinary || engines[1] != cfg.Transcribe.ReferenceBinary {
		t.Fatalf("expected fast engine then reference, got %v", engines)
	}
	if item.TranscriptFile == "" {
		t.Fatal("expected transcript from fallback engine")
	}
}

func TestProcessTranscribeWithoutAudioFails(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	store := testsupport.MustOpenStore(t, cfg)
	p := newPipeline(t, cfg, store)

	item := testsupport.AddItem(t, store, "https://www.youtube.com/watch?v=abc", queue.OpTranscribe)
	err := p.Process(context.Background(), item)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient failure, got %v", err)
	}
}

func TestProcessTranslateWithoutEndpointFails(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	store := testsupport.MustOpenStore(t, cfg)
	p := newPipeline(t, cfg, store)

	item := testsupport.AddItem(t, store, "https://www.youtube.com/watch?v=abc", queue.OpTranslate)
	item.SubtitleFile = filepath.Join(cfg.SubtitleDir(), "clip.srt")
	err := p.Process(context.Background(), item)
	if err == nil || !strings.Contains(err.Error(), "endpoint") {
		t.Fatalf("expected endpoint error, got %v", err)
	}
}

func TestProcessHonorsCancellation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	store := testsupport.MustOpenStore(t, cfg)
	p := newPipeline(t, cfg, store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	item := testsupport.AddItem(t, store, "https://www.youtube.com/watch?v=abc", queue.OpDownload)
	err := p.Process(ctx, item)
	if services.Classify(err) != services.KindCancelled {
		t.Fatalf("expected cancelled classification, got %v", err)
	}
}

func TestMergeTranscripts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Transcribe.KeepIndividual = false
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	store := testsupport.MustOpenStore(t, cfg)
	p := newPipeline(t, cfg, store)

	first := filepath.Join(cfg.TranscriptionDir(), "a.txt")
	second := filepath.Join(cfg.TranscriptionDir(), "b.txt")
	if err := os.WriteFile(first, []byte("alpha"), 0o644); err != nil {
		t.Fatalf("write first: %v", err)
	}
	if err := os.WriteFile(second, []byte("beta"), 0o644); err != nil {
		t.Fatalf("write second: %v", err)
	}

	items := []*queue.Item{
		{TranscriptFile: first},
		{TranscriptFile: second},
		{},
	}
	unified, err := p.MergeTranscripts(items)
	if err != nil {
		t.Fatalf("MergeTranscripts: %v", err)
	}
	if unified == "" {
		t.Fatal("expected unified transcript path")
	}

	content, err := os.ReadFile(unified)
	if err != nil {
		t.Fatalf("read unified: %v", err)
	}
	if !strings.Contains(string(content), "alpha") || !strings.Contains(string(content), "beta") {
		t.Fatalf("unexpected unified content: %s", content)
	}
	if _, err := os.Stat(first); !os.IsNotExist(err) {
		t.Fatal("individual transcripts should be removed when keep_individual is off")
	}
}

func TestMergeTranscriptsNoInput(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	p := newPipeline(t, cfg, nil)

	unified, err := p.MergeTranscripts(nil)
	if err != nil {
		t.Fatalf("MergeTranscripts: %v", err)
	}
	if unified != "" {
		t.Fatalf("expected no output, got %s", unified)
	}
}
