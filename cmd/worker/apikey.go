package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	mw "github.com/NPRiteshReddy/DS.2-sub000/internal/api/middleware"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/config"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/store"
	"github.com/NPRiteshReddy/DS.2-sub000/pkg/models"
	"github.com/spf13/cobra"
)

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "manage API keys",
	}
	cmd.AddCommand(apikeyCreateCmd())
	return cmd
}

func apikeyCreateCmd() *cobra.Command {
	var owner, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "issue an API key for an owner and print it once",
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
			return createAPIKey(ctx, store.NewPostgresStore(pool), owner, name, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner id the key acts as (required)")
	cmd.Flags().StringVar(&name, "name", "default", "label for the key")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

type keyCreator interface {
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
}

func createAPIKey(ctx context.Context, st keyCreator, owner, name string, out io.Writer) error {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return errors.New("owner is required")
	}
	key, raw, err := mw.GenerateAPIKey(owner, strings.TrimSpace(name))
	if err != nil {
		return err
	}
	if err := st.CreateAPIKey(ctx, key); err != nil {
		return fmt.Errorf("store api key: %w", err)
	}
	fmt.Fprintf(out, "id:     %s\nowner:  %s\nprefix: %s\nkey:    %s\n", key.ID, key.OwnerID, key.KeyPrefix, raw)
	return nil
}
