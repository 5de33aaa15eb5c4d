package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyclaw/rustyclaw/internal/auth"
	"github.com/rustyclaw/rustyclaw/internal/storage"
)

func newTokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage API tokens",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "create <username>",
		Short: "Mint an API token for an existing user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			setupLogging(cfg.Logging)

			store, err := storage.NewSQLiteStore(cfg.Storage.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := context.Background()
			user, err := store.GetUserByUsername(ctx, args[0])
			if err != nil {
				return fmt.Errorf("lookup user %q: %w", args[0], err)
			}
			svc := auth.NewService(cfg.API.Tokens, cfg.API.TokenSecret, store)
			token, err := svc.MintToken(ctx, user.ID, "cli")
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	})
	return cmd
}
