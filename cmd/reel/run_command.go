package main

import (
	"errors"
	"fmt"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"reel/internal/config"
	"reel/internal/fallback"
	"reel/internal/pipeline"
	"reel/internal/preflight"
	"reel/internal/queue"
	"reel/internal/runner"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var skipPreflight bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process all pending queue items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				lock := flock.New(filepath.Join(cfg.Paths.WorkspaceDir, "reel.lock"))
				ok, err := lock.TryLock()
				if err != nil {
					return fmt.Errorf("acquire workspace lock: %w", err)
				}
				if !ok {
					return errors.New("another reel run is already using this workspace")
				}
				defer lock.Unlock()

				runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
				defer stop()

				reset, err := store.ResetStuckRunning(runCtx)
				if err != nil {
					return fmt.Errorf("reset stuck items: %w", err)
				}
				if reset > 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "Reset %d interrupted item(s) to pending\n", reset)
				}

				items, err := store.List(runCtx, queue.StatusPending)
				if err != nil {
					return err
				}
				if len(items) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue has no pending items")
					return nil
				}

				if !skipPreflight {
					ops := operationsOf(items)
					results := preflight.RunAll(cfg, ops)
					printPreflight(cmd, results)
					if err := preflight.FirstFailure(results); err != nil {
						return err
					}
				}

				logger, err := ctx.newLogger(cfg)
				if err != nil {
					return err
				}

				limiter := fallback.NewLimiter(cfg.RateLimit)
				proc, err := pipeline.New(cfg, store, limiter, logger)
				if err != nil {
					return err
				}
				r, err := runner.New(cfg, store, proc, limiter, logger)
				if err != nil {
					return err
				}

				summary, err := r.Run(runCtx, items)
				if err != nil {
					return err
				}

				printSummary(cmd, summary)
				if summary.Failed() > 0 {
					return fmt.Errorf("%d of %d item(s) failed", summary.Failed(), len(summary.Results))
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&skipPreflight, "skip-preflight", false, "Skip environment checks before running")
	return cmd
}

// operationsOf collects the distinct operations requested across the batch.
func operationsOf(items []*queue.Item) []queue.Operation {
	seen := map[queue.Operation]struct{}{}
	var ops []queue.Operation
	for _, item := range items {
		for _, op := range item.Operations {
			if _, ok := seen[op]; ok {
				continue
			}
			seen[op] = struct{}{}
			ops = append(ops, op)
		}
	}
	return ops
}

func printPreflight(cmd *cobra.Command, results []preflight.Result) {
	out := cmd.OutOrStdout()
	for _, res := range results {
		mark := "ok"
		if !res.Passed {
			mark = "FAIL"
		}
		if res.Detail != "" {
			fmt.Fprintf(out, "preflight %-24s %-4s %s\n", res.Name, mark, res.Detail)
		} else {
			fmt.Fprintf(out, "preflight %-24s %s\n", res.Name, mark)
		}
	}
}

func printSummary(cmd *cobra.Command, summary *runner.Summary) {
	rows := make([][]string, 0, len(summary.Results))
	for _, res := range summary.Results {
		rows = append(rows, []string{
			strconv.FormatInt(res.Item.ID, 10),
			truncate(res.Item.Source, 60),
			string(res.Status),
			runner.FormatResult(res),
		})
	}
	table := renderTable(
		[]string{"ID", "Source", "Status", "Result"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft},
	)
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, table)
	fmt.Fprintf(out, "Batch %s: %d succeeded, %d failed in %s\n",
		summary.BatchID, summary.Succeeded(), summary.Failed(),
		summary.Finished.Sub(summary.Started).Round(time.Second))
	if summary.UnifiedPath != "" {
		fmt.Fprintf(out, "Unified transcript: %s\n", summary.UnifiedPath)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
