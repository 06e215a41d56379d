package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"reel/internal/config"
	"reel/internal/queue"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue health summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				health, err := store.Health(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if health.Total == 0 {
					fmt.Fprintln(out, "Queue is empty")
					return nil
				}
				rows := [][]string{
					{"pending", strconv.Itoa(health.Pending)},
					{"running", strconv.Itoa(health.Running)},
					{"retrying", strconv.Itoa(health.Retrying)},
					{"done", strconv.Itoa(health.Done)},
					{"failed", strconv.Itoa(health.Failed)},
					{"total", strconv.Itoa(health.Total)},
				}
				table := renderTable([]string{"Status", "Count"}, rows,
					[]columnAlignment{alignLeft, alignRight})
				fmt.Fprintln(out, table)

				failed, err := store.List(cmd.Context(), queue.StatusFailed)
				if err != nil {
					return err
				}
				for _, item := range failed {
					fmt.Fprintf(out, "failed %d: %s (%s: %s, %s)\n",
						item.ID, truncate(item.Source, 60),
						item.ErrorKind, item.ErrorMessage,
						item.UpdatedAt.Format(time.RFC3339))
				}
				return nil
			})
		},
	}
}
