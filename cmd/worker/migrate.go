package main

import (
	"fmt"

	"github.com/NPRiteshReddy/DS.2-sub000/internal/config"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/store"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Context())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if dir == "" {
				dir = cfg.Database.MigrationsDir
			}
			if err := store.RunMigrations(cfg.Database.URL, dir); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "migrations directory (default DATABASE_MIGRATIONS_DIR)")
	return cmd
}
