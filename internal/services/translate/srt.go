package translate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"reel/internal/services"
)

// TranslateSubtitleFile translates the text of every cue in an SRT file,
// writing "<stem>_<target>.srt" next to the source. Cue numbering and
// timestamps are preserved. An existing output is reused.
func (c *Client) TranslateSubtitleFile(ctx context.Context, subtitlePath string) (string, error) {
	if subtitlePath == "" {
		return "", services.Wrap(services.ErrTransient, "translate", "srt", "subtitle path required", nil)
	}

	ext := filepath.Ext(subtitlePath)
	output := strings.TrimSuffix(subtitlePath, ext) + "_" + c.targetLang + ext
	if _, err := os.Stat(output); err == nil {
		return output, nil
	}

	content, err := os.ReadFile(subtitlePath)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "translate", "srt", "read subtitle", err)
	}

	blocks := splitBlocks(string(content))
	translated := make([]string, 0, len(blocks))
	for _, block := range blocks {
		if err := ctx.Err(); err != nil {
			return "", services.Wrap(services.ErrCancelled, "translate", "srt", "", err)
		}
		lines := strings.Split(block, "\n")
		if len(lines) < 3 {
			continue
		}
		text, err := c.Translate(ctx, strings.Join(lines[2:], " "))
		if err != nil {
			return "", err
		}
		translated = append(translated, fmt.Sprintf("%s\n%s\n%s\n", lines[0], lines[1], text))
	}
	if len(translated) == 0 {
		return "", services.Wrap(services.ErrTransient, "translate", "srt", "no cues found", nil)
	}

	if err := os.WriteFile(output, []byte(strings.Join(translated, "\n")), 0o644); err != nil {
		return "", services.Wrap(services.ErrTransient, "translate", "srt", "write output", err)
	}
	return output, nil
}

// splitBlocks separates an SRT document into cue blocks on blank lines,
// tolerating CRLF endings.
func splitBlocks(content string) []string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	var blocks []string
	for _, block := range strings.Split(strings.TrimSpace(content), "\n\n") {
		block = strings.TrimSpace(block)
		if block != "" {
			blocks = append(blocks, block)
		}
	}
	return blocks
}
