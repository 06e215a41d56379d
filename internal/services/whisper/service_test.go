package whisper_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"reel/internal/config"
	"reel/internal/services"
	"reel/internal/services/whisper"
	"reel/internal/testsupport"
)

func newService(t *testing.T, cfg config.Transcribe) *whisper.Service {
	t.Helper()
	svc := whisper.NewService(cfg)
	svc.WithLookPath(func(name string) (string, error) {
		return "/usr/bin/" + name, nil
	})
	return svc
}

func argValue(args []string, flag string) (string, bool) {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1], true
		}
	}
	return "", false
}

func TestTranscribeFast(t *testing.T) {
	dir := t.TempDir()
	audio := filepath.Join(dir, "clip_vocals.mp3")
	outputDir := filepath.Join(dir, "transcriptions")
	testsupport.WriteFile(t, audio, 64)

	svc := newService(t, config.Transcribe{Model: "large-v3", Device: "auto", BeamSize: 5})
	var gotBinary string
	var gotArgs []string
	svc.WithCommandRunner(func(ctx context.Context, name string, args ...string) error {
		gotBinary = name
		gotArgs = args
		testsupport.WriteFile(t, filepath.Join(outputDir, "clip_vocals.txt"), 32)
		return nil
	})

	result, err := svc.TranscribeFast(context.Background(), audio, outputDir, "spanish")
	if err != nil {
		t.Fatalf("TranscribeFast: %v", err)
	}
	if filepath.Base(result.TranscriptPath) != "clip_vocals.txt" {
		t.Fatalf("unexpected transcript: %s", result.TranscriptPath)
	}
	if gotBinary != "faster-whisper" {
		t.Fatalf("unexpected binary: %s", gotBinary)
	}
	if model, _ := argValue(gotArgs, "--model"); model != "large-v3" {
		t.Fatalf("unexpected model arg: %v", gotArgs)
	}
	if device, _ := argValue(gotArgs, "--device"); device != "cpu" {
		t.Fatalf("auto device should resolve to cpu, got %v", gotArgs)
	}
	if ct, _ := argValue(gotArgs, "--compute_type"); ct != "int8" {
		t.Fatalf("cpu should use int8, got %v", gotArgs)
	}
	if lang, ok := argValue(gotArgs, "--language"); !ok || lang != "es" {
		t.Fatalf("expected normalized language code, got %v", gotArgs)
	}
}

func TestTranscribeFastCUDAComputeType(t *testing.T) {
	dir := t.TempDir()
	audio := filepath.Join(dir, "clip.mp3")
	outputDir := filepath.Join(dir, "out")
	testsupport.WriteFile(t, audio, 64)

	svc := newService(t, config.Transcribe{Model: "large-v3", Device: "cuda"})
	var gotArgs []string
	svc.WithCommandRunner(func(ctx context.Context, name string, args ...string) error {
		gotArgs = args
		testsupport.WriteFile(t, filepath.Join(outputDir, "clip.txt"), 32)
		return nil
	})

	if _, err := svc.TranscribeFast(context.Background(), audio, outputDir, ""); err != nil {
		t.Fatalf("TranscribeFast: %v", err)
	}
	if ct, _ := argValue(gotArgs, "--compute_type"); ct != "float16" {
		t.Fatalf("cuda should use float16, got %v", gotArgs)
	}
	if _, ok := argValue(gotArgs, "--language"); ok {
		t.Fatalf("empty language should auto-detect, got %v", gotArgs)
	}
}

func TestTranscribeFastMissingBinarySoftFails(t *testing.T) {
	dir := t.TempDir()
	audio := filepath.Join(dir, "clip.mp3")
	testsupport.WriteFile(t, audio, 64)

	svc := whisper.NewService(config.Transcribe{Model: "large-v3"})
	svc.WithLookPath(func(name string) (string, error) {
		return "", errors.New("not found")
	})

	_, err := svc.TranscribeFast(context.Background(), audio, filepath.Join(dir, "out"), "")
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("missing binary should be transient, got %v", err)
	}
}

func TestTranscribeReferenceStripsModelVariant(t *testing.T) {
	dir := t.TempDir()
	audio := filepath.Join(dir, "clip.mp3")
	outputDir := filepath.Join(dir, "out")
	testsupport.WriteFile(t, audio, 64)

	svc := newService(t, config.Transcribe{Model: "large-v3", Device: "cpu"})
	var gotBinary string
	var gotArgs []string
	svc.WithCommandRunner(func(ctx context.Context, name string, args ...string) error {
		gotBinary = name
		gotArgs = args
		testsupport.WriteFile(t, filepath.Join(outputDir, "clip.txt"), 32)
		return nil
	})

	if _, err := svc.TranscribeReference(context.Background(), audio, outputDir, ""); err != nil {
		t.Fatalf("TranscribeReference: %v", err)
	}
	if gotBinary != "whisper" {
		t.Fatalf("unexpected binary: %s", gotBinary)
	}
	if model, _ := argValue(gotArgs, "--model"); model != "large" {
		t.Fatalf("reference model should drop the variant, got %v", gotArgs)
	}
}

func TestTranscribeNoOutputIsTransient(t *testing.T) {
	dir := t.TempDir()
	audio := filepath.Join(dir, "clip.mp3")
	testsupport.WriteFile(t, audio, 64)

	svc := newService(t, config.Transcribe{Model: "large-v3"})
	svc.WithCommandRunner(func(ctx context.Context, name string, args ...string) error {
		return nil
	})

	_, err := svc.TranscribeFast(context.Background(), audio, filepath.Join(dir, "out"), "")
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient failure, got %v", err)
	}
}

func TestGenerateSubtitlesTagsLanguage(t *testing.T) {
	dir := t.TempDir()
	audio := filepath.Join(dir, "clip.mp3")
	outputDir := filepath.Join(dir, "subtitles")
	testsupport.WriteFile(t, audio, 64)

	svc := newService(t, config.Transcribe{Model: "large-v3"})
	var gotArgs []string
	svc.WithCommandRunner(func(ctx context.Context, name string, args ...string) error {
		gotArgs = args
		testsupport.WriteFile(t, filepath.Join(outputDir, "clip.srt"), 32)
		return nil
	})

	result, err := svc.GenerateSubtitles(context.Background(), audio, outputDir, "spanish")
	if err != nil {
		t.Fatalf("GenerateSubtitles: %v", err)
	}
	if filepath.Base(result.SRTPath) != "clip_es.srt" {
		t.Fatalf("unexpected subtitle path: %s", result.SRTPath)
	}
	if format, _ := argValue(gotArgs, "--output_format"); format != "srt" {
		t.Fatalf("expected srt output format, got %v", gotArgs)
	}
}
