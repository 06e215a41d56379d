package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"reel/internal/config"
	"reel/internal/platform"
	"reel/internal/queue"
)

func newAddCommand(ctx *commandContext) *cobra.Command {
	var opsFlag string
	var title string

	cmd := &cobra.Command{
		Use:   "add <url-or-file> [more...]",
		Short: "Queue sources for processing",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ops, err := queue.ParseOperations(opsFlag)
			if err != nil {
				return err
			}
			if len(args) > 1 && title != "" {
				return fmt.Errorf("--title applies to a single source, got %d", len(args))
			}

			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				for _, raw := range args {
					source, err := resolveSource(raw)
					if err != nil {
						return err
					}
					item, err := store.Add(cmd.Context(), source, title, ops)
					if err != nil {
						return fmt.Errorf("add %q: %w", raw, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Added item %d: %s [%s]\n",
						item.ID, source, queue.JoinOperations(ops))
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&opsFlag, "ops", "download,extract-audio,separate-voice,transcribe",
		"Comma-separated operations to run for each source")
	cmd.Flags().StringVar(&title, "title", "", "Override the derived title (single source only)")
	return cmd
}

// resolveSource accepts a URL as-is and turns a local path into an absolute
// one, verifying the file exists.
func resolveSource(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty source")
	}
	if platform.IsURL(raw) {
		return raw, nil
	}
	abs, err := filepath.Abs(raw)
	if err != nil {
		return "", fmt.Errorf("resolve path %q: %w", raw, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("source %q: %w", raw, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("source %q is a directory", raw)
	}
	return abs, nil
}
