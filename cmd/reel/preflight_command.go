package main

import (
	"github.com/spf13/cobra"

	"reel/internal/preflight"
	"reel/internal/queue"
)

func newPreflightCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "preflight",
		Short: "Check binaries and workspace access for all operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			results := preflight.RunAll(cfg, []queue.Operation{
				queue.OpDownload,
				queue.OpExtract,
				queue.OpSeparate,
				queue.OpTranscribe,
				queue.OpSubtitle,
				queue.OpTranslate,
			})
			printPreflight(cmd, results)
			return preflight.FirstFailure(results)
		},
	}
}
