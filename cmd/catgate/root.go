package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Anivie/gpt-cat/internal/version"
)

var (
	serverURL  string
	adminToken string
	configRoot string
)

var rootCmd = &cobra.Command{
	Use:   "catgate",
	Short: "Administer the catgate gateway",
	Long: `catgate talks to the admin API of a running catgated to inspect the
account pool and enable or disable endpoints. Adding accounts writes to the
account store directly, using the gateway's configuration.`,
	Version:       version.Info(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", envOr("CATGATE_SERVER", "http://127.0.0.1:7117"), "gateway base URL")
	rootCmd.PersistentFlags().StringVarP(&adminToken, "token", "t", os.Getenv("CATGATE_ADMIN_TOKEN"), "admin token")
	rootCmd.PersistentFlags().StringVar(&configRoot, "root", envOr("CATGATE_ROOT", "."), "directory holding config/")

	rootCmd.AddCommand(newInitCmd(), newAccountsCmd(), newPoolCmd(), newRequestsCmd(), newUsageCmd(), newReloadCmd(), newVersionCmd())
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.FullInfo("catgate"))
		},
	}
}
