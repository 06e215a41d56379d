// Package preflight validates the environment before a batch run starts:
// workspace access and the external binaries the requested stages shell out
// to.
package preflight

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"reel/internal/config"
	"reel/internal/deps"
	"reel/internal/queue"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable checks for the given config and the
// operation set a run will execute. Binary checks are only run for stages the
// operations actually need.
func RunAll(cfg *config.Config, operations []queue.Operation) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result
	results = append(results, CheckDirectoryAccess("Workspace", cfg.Paths.WorkspaceDir))
	results = append(results, CheckFreeSpace("Workspace free space", cfg.Paths.WorkspaceDir))
	if cfg.Paths.CookiesDir != "" {
		if result := CheckDirectoryAccess("Cookie profiles", cfg.Paths.CookiesDir); result.Passed {
			results = append(results, result)
		} else {
			// Cookie profiles are optional; report but do not fail on them.
			results = append(results, Result{Name: result.Name, Passed: true, Detail: "absent (downloads run without cookies)"})
		}
	}

	for _, status := range deps.CheckBinaries(Requirements(cfg, operations)) {
		result := Result{Name: status.Name, Passed: status.Available, Detail: status.Detail}
		if status.Available {
			result.Detail = status.Path
		} else if status.Optional {
			result.Passed = true
			result.Detail = status.Detail + " (optional)"
		}
		results = append(results, result)
	}
	return results
}

// Requirements maps the operation set to the binaries it needs. Transcription
// engines are individually optional because the chain falls back between
// them; the run fails later only when every engine is missing.
func Requirements(cfg *config.Config, operations []queue.Operation) []deps.Requirement {
	needed := make(map[queue.Operation]bool, len(operations))
	for _, op := range operations {
		needed[op] = true
	}

	var requirements []deps.Requirement
	if needed[queue.OpDownload] || needed[queue.OpSubtitle] {
		requirements = append(requirements, deps.Requirement{
			Name:        "yt-dlp",
			Command:     cfg.Download.Binary,
			Description: "Required for downloads and subtitle retrieval",
		})
	}
	if needed[queue.OpExtract] {
		requirements = append(requirements, deps.Requirement{
			Name:        "FFmpeg",
			Command:     cfg.FFmpeg.Binary,
			Description: "Required for audio extraction",
		})
	}
	if needed[queue.OpSeparate] {
		requirements = append(requirements, deps.Requirement{
			Name:        "Demucs",
			Command:     cfg.Separate.Binary,
			Description: "Required for voice separation",
		})
	}
	if needed[queue.OpTranscribe] || needed[queue.OpSubtitle] {
		for _, engine := range cfg.Transcribe.Engines {
			switch engine {
			case "faster-whisper":
				requirements = append(requirements, deps.Requirement{
					Name:        "Faster-Whisper",
					Command:     cfg.Transcribe.FastBinary,
					Description: "Preferred transcription engine",
					Optional:    true,
				})
			case "whisper":
				requirements = append(requirements, deps.Requirement{
					Name:        "Whisper",
					Command:     cfg.Transcribe.ReferenceBinary,
					Description: "Fallback transcription engine",
					Optional:    true,
				})
			}
		}
	}
	return requirements
}

// CheckDirectoryAccess verifies that the directory exists and is
// readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// minFreeBytes is the smallest amount of free workspace space a run can
// reasonably start with; downloads and stem separation are disk-hungry.
const minFreeBytes = 500 << 20

// statfs allows tests to stub filesystem stats.
var statfs = realStatfs

// CheckFreeSpace verifies the filesystem holding the workspace has room for
// pipeline artifacts.
func CheckFreeSpace(name, path string) Result {
	free, err := statfs(path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: statfs: %v)", path, err)}
	}
	detail := fmt.Sprintf("%.1f GB available", float64(free)/(1<<30))
	if free < minFreeBytes {
		return Result{Name: name, Detail: detail + " (need at least 500 MB)"}
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

func realStatfs(path string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}

// FirstFailure returns an error describing the first failed check, or nil
// when everything passed.
func FirstFailure(results []Result) error {
	var failed []string
	for _, result := range results {
		if !result.Passed {
			failed = append(failed, fmt.Sprintf("%s: %s", result.Name, result.Detail))
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return fmt.Errorf("preflight failed: %s", strings.Join(failed, "; "))
}
