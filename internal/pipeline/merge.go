package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"reel/internal/logging"
	"reel/internal/queue"
)

// MergeTranscripts combines the transcript files of the given items into one
// timestamped file in the transcription directory. When keep_individual is
// off, the per-item transcripts are removed afterwards. Items without a
// transcript are skipped.
func (p *Pipeline) MergeTranscripts(items []*queue.Item) (string, error) {
	var paths []string
	for _, item := range items {
		if item.TranscriptFile != "" {
			paths = append(paths, item.TranscriptFile)
		}
	}
	if len(paths) == 0 {
		return "", nil
	}

	var builder strings.Builder
	for _, path := range paths {
		content, err := os.ReadFile(path)
		if err != nil {
			p.logger.Warn("skipping unreadable transcript",
				logging.String("path", path),
				logging.Error(err),
			)
			continue
		}
		builder.Write(content)
		builder.WriteString("\n")
	}
	if builder.Len() == 0 {
		return "", nil
	}

	timestamp := time.Now().Format("20060102_150405")
	unified := filepath.Join(p.cfg.TranscriptionDir(), fmt.Sprintf("unified_transcription_%s.txt", timestamp))
	if err := os.WriteFile(unified, []byte(builder.String()), 0o644); err != nil {
		return "", fmt.Errorf("write unified transcript: %w", err)
	}

	if !p.cfg.Transcribe.KeepIndividual {
		for _, path := range paths {
			if err := os.Remove(path); err != nil {
				p.logger.Warn("could not remove individual transcript",
					logging.String("path", path),
					logging.Error(err),
				)
			}
		}
	}
	return unified, nil
}
