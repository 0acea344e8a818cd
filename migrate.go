package main

import (
	"context"
	"fmt"

	"github.com/Lead-Studios/veritix-backend-sub005/database"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
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

			if err := database.Migrate(a.db); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			a.log.Info("migrations applied")
			return nil
		},
	}
}
