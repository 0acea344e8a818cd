package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire overdue PENDING orders once and print the result",
		Long: `Run a single expiry sweep. Every PENDING order whose payment window has
closed is cancelled and its tickets are returned to inventory. Orders that
fail are listed and left for the next run.

Safe to run from cron next to "serve": overlapping sweeps are refused when
REDIS_URL is configured.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			result, err := a.expirySweeper().RunOnce(ctx)
			if err != nil {
				return fmt.Errorf("sweep failed: %w", err)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
}
