package demucs_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"reel/internal/config"
	"reel/internal/services"
	"reel/internal/services/demucs"
	"reel/internal/testsupport"
)

func newService(t *testing.T) *demucs.Service {
	t.Helper()
	svc, err := demucs.NewService(config.Separate{Binary: "demucs", Model: "htdemucs_ft", MP3Bitrate: 320}, "cpu")
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestSeparateVocals(t *testing.T) {
	dir := t.TempDir()
	audio := filepath.Join(dir, "clip.mp3")
	destDir := filepath.Join(dir, "vocals")
	testsupport.WriteFile(t, audio, 128)

	svc := newService(t)
	var gotArgs []string
	svc.WithCommandRunner(func(ctx context.Context, name string, args ...string) error {
		gotArgs = args
		testsupport.WriteFile(t, filepath.Join(destDir, "htdemucs_ft", "clip", "vocals.mp3"), 64)
		testsupport.WriteFile(t, filepath.Join(destDir, "htdemucs_ft", "clip", "no_vocals.mp3"), 64)
		return nil
	})

	output, err := svc.SeparateVocals(context.Background(), audio, destDir)
	if err != nil {
		t.Fatalf("SeparateVocals: %v", err)
	}
	if output != filepath.Join(destDir, "clip_vocals.mp3") {
		t.Fatalf("unexpected output path: %s", output)
	}
	if _, err := os.Stat(output); err != nil {
		t.Fatalf("vocals file missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(destDir, "htdemucs_ft")); !os.IsNotExist(err) {
		t.Fatal("scratch directory should be cleaned up")
	}

	foundStems := false
	for _, arg := range gotArgs {
		if arg == "--two-stems=vocals" {
			foundStems = true
		}
	}
	if !foundStems {
		t.Fatalf("expected two-stem flag, got %v", gotArgs)
	}
}

func TestSeparateVocalsSanitizedTrackName(t *testing.T) {
	dir := t.TempDir()
	audio := filepath.Join(dir, "My Clip.mp3")
	destDir := filepath.Join(dir, "vocals")
	testsupport.WriteFile(t, audio, 128)

	svc := newService(t)
	svc.WithCommandRunner(func(ctx context.Context, name string, args ...string) error {
		// Demucs sanitized the track directory name.
		testsupport.WriteFile(t, filepath.Join(destDir, "htdemucs_ft", "My_Clip", "vocals.mp3"), 64)
		return nil
	})

	output, err := svc.SeparateVocals(context.Background(), audio, destDir)
	if err != nil {
		t.Fatalf("SeparateVocals: %v", err)
	}
	if filepath.Base(output) != "My Clip_vocals.mp3" {
		t.Fatalf("unexpected output: %s", output)
	}
}

func TestSeparateVocalsReusesExistingOutput(t *testing.T) {
	dir := t.TempDir()
	audio := filepath.Join(dir, "clip.mp3")
	destDir := filepath.Join(dir, "vocals")
	testsupport.WriteFile(t, audio, 128)
	testsupport.WriteFile(t, filepath.Join(destDir, "clip_vocals.mp3"), 64)

	svc := newService(t)
	ran := false
	svc.WithCommandRunner(func(ctx context.Context, name string, args ...string) error {
		ran = true
		return nil
	})

	output, err := svc.SeparateVocals(context.Background(), audio, destDir)
	if err != nil {
		t.Fatalf("SeparateVocals: %v", err)
	}
	if ran {
		t.Fatal("existing output should short-circuit the run")
	}
	if filepath.Base(output) != "clip_vocals.mp3" {
		t.Fatalf("unexpected output: %s", output)
	}
}

func TestSeparateVocalsNoOutput(t *testing.T) {
	dir := t.TempDir()
	audio := filepath.Join(dir, "clip.mp3")
	testsupport.WriteFile(t, audio, 128)

	svc := newService(t)
	svc.WithCommandRunner(func(ctx context.Context, name string, args ...string) error {
		return nil
	})

	_, err := svc.SeparateVocals(context.Background(), audio, filepath.Join(dir, "vocals"))
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient failure, got %v", err)
	}
}

func TestSeparateVocalsCommandFailure(t *testing.T) {
	dir := t.TempDir()
	audio := filepath.Join(dir, "clip.mp3")
	testsupport.WriteFile(t, audio, 128)

	svc := newService(t)
	svc.WithCommandRunner(func(ctx context.Context, name string, args ...string) error {
		return errors.New("exit status 1")
	})

	_, err := svc.SeparateVocals(context.Background(), audio, filepath.Join(dir, "vocals"))
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient failure, got %v", err)
	}
}

func TestNewServiceDefaults(t *testing.T) {
	svc, err := demucs.NewService(config.Separate{Binary: "demucs"}, "auto")
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if svc.Model() != "htdemucs_ft" {
		t.Fatalf("unexpected default model: %s", svc.Model())
	}

	if _, err := demucs.NewService(config.Separate{}, "cpu"); err == nil {
		t.Fatal("expected error for missing binary")
	}
}
