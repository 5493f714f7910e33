package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Anivie/gpt-cat/internal/bootstrap"
)

func newInitCmd() *cobra.Command {
	var opts bootstrap.InitOptions
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Scaffold config/ for a new gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Root = configRoot
			token, err := bootstrap.Init(opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote config for %q under %s\nadmin token: %s\n", envName(opts.Environment), configRoot, token)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Environment, "env", "dev", "environment name")
	cmd.Flags().StringVar(&opts.HTTPAddress, "http", "0.0.0.0:7117", "HTTP listen address")
	cmd.Flags().StringVar(&opts.DatabaseURL, "database-url", "", "account store (sqlite path or postgres:// DSN)")
	cmd.Flags().StringVar(&opts.AdminToken, "admin-token", "", "admin API token (random when empty)")
	cmd.Flags().IntVar(&opts.Retries, "retries", 3, "dispatch attempts per request")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 10, "concurrent requests per account")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "overwrite existing files")
	return cmd
}

func envName(env string) string {
	if env == "" {
		return "dev"
	}
	return env
}
