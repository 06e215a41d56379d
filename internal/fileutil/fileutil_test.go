package fileutil_test

import (
	"os"
	"path/filepath"
	"testing"

	"reel/internal/fileutil"
	"reel/internal/testsupport"
)

func TestMoveFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in", "clip.mp3")
	dst := filepath.Join(dir, "out", "clip.mp3")
	testsupport.WriteFile(t, src, 128)

	if err := fileutil.MoveFile(src, dst); err != nil {
		t.Fatalf("MoveFile: %v", err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatal("source should be gone after move")
	}
	info, err := os.Stat(dst)
	if err != nil {
		t.Fatalf("stat destination: %v", err)
	}
	if info.Size() != 128 {
		t.Fatalf("expected 128 bytes, got %d", info.Size())
	}
}

func TestMoveFileMissingSource(t *testing.T) {
	dir := t.TempDir()
	err := fileutil.MoveFile(filepath.Join(dir, "absent.mp3"), filepath.Join(dir, "out.mp3"))
	if err == nil {
		t.Fatal("expected error for missing source")
	}
}

func TestUniquePath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clip.mp3")

	if got := fileutil.UniquePath(path); got != path {
		t.Fatalf("free path should be returned unchanged, got %s", got)
	}

	testsupport.WriteFile(t, path, 1)
	first := fileutil.UniquePath(path)
	if first != filepath.Join(dir, "clip (1).mp3") {
		t.Fatalf("unexpected unique path: %s", first)
	}

	testsupport.WriteFile(t, first, 1)
	second := fileutil.UniquePath(path)
	if second != filepath.Join(dir, "clip (2).mp3") {
		t.Fatalf("unexpected second unique path: %s", second)
	}
}

func TestSnapshotAndListNewFiles(t *testing.T) {
	dir := t.TempDir()
	testsupport.WriteFile(t, filepath.Join(dir, "existing.mp3"), 1)

	before, err := fileutil.SnapshotDir(dir)
	if err != nil {
		t.Fatalf("SnapshotDir: %v", err)
	}

	testsupport.WriteFile(t, filepath.Join(dir, "fresh.mp3"), 1)
	if err := os.MkdirAll(filepath.Join(dir, "subdir"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	created, err := fileutil.ListNewFiles(dir, before)
	if err != nil {
		t.Fatalf("ListNewFiles: %v", err)
	}
	if len(created) != 1 || filepath.Base(created[0]) != "fresh.mp3" {
		t.Fatalf("unexpected new files: %v", created)
	}
}

func TestSnapshotDirMissing(t *testing.T) {
	snapshot, err := fileutil.SnapshotDir(filepath.Join(t.TempDir(), "absent"))
	if err != nil {
		t.Fatalf("SnapshotDir: %v", err)
	}
	if len(snapshot) != 0 {
		t.Fatalf("expected empty snapshot, got %v", snapshot)
	}
}
