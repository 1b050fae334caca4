package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCmd(root *rootFlags) *cobra.Command {
	f := &backendFlags{}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the store schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := root.logger()
			ctx := cmd.Context()

			b, err := openBackend(ctx, f, logger)
			if err != nil {
				return err
			}
			defer b.Close()
			defer b.store.Close()

			if err := b.store.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate %s: %w", f.store, err)
			}
			logger.Info("migrations applied")
			return nil
		},
	}
	addBackendFlags(cmd, f)
	return cmd
}
