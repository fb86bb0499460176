package main

import (
	"fmt"

	"github.com/NPRiteshReddy/DS.2-sub000/internal/artifacts"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/config"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/store"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/worker"
	"github.com/spf13/cobra"
)

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "remove artifact directories of jobs that are not processing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load(ctx)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			pool, err := store.Connect(ctx, cfg.Database)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			defer pool.Close()

			arts, err := artifacts.NewStore(cfg.Worker.TempRoot)
			if err != nil {
				return fmt.Errorf("open artifact root: %w", err)
			}
			removed, err := worker.SweepArtifacts(ctx, store.NewPostgresStore(pool), arts)
			if err != nil {
				return fmt.Errorf("sweep artifacts: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d artifact directories\n", len(removed))
			return nil
		},
	}
}
