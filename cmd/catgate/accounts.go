package main

import (
	"fmt"
	"net/http"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Anivie/gpt-cat/internal/account"
	"github.com/Anivie/gpt-cat/internal/config"
	"github.com/Anivie/gpt-cat/internal/core"
	"github.com/Anivie/gpt-cat/internal/endpoint"
	"github.com/Anivie/gpt-cat/internal/httpserver"
)

func newAccountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "List or add upstream accounts",
	}
	cmd.AddCommand(newAccountsListCmd(), newAccountsAddCmd())
	return cmd
}

func newAccountsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored accounts with masked keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Accounts []httpserver.AccountView `json:"accounts"`
			}
			if err := newAdminClient().do(cmd.Context(), http.MethodGet, "/admin/accounts", &out); err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tENDPOINT\tDISABLED\tPROXY\tKEY")
			for _, a := range out.Accounts {
				fmt.Fprintf(tw, "%d\t%s\t%v\t%s\t%s\n", a.ID, a.Endpoint, a.Disabled, dash(a.UseProxy), a.Key)
			}
			return tw.Flush()
		},
	}
}

func newAccountsAddCmd() *cobra.Command {
	var rec account.Record
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an account to the store",
		Long: `add writes straight to the account store named by database_url. A
running gateway picks the account up on its next reload (catgate reload).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, ok := endpoint.ParseKind(rec.Endpoint); !ok {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %q is not a built-in endpoint; it must be declared as an alias in models.yaml\n", rec.Endpoint)
			}
			cfg, err := config.LoadGatewayConfig(configRoot)
			if err != nil {
				return err
			}
			store, err := core.OpenAccountStore(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer store.Close()
			id, err := store.Add(cmd.Context(), rec)
			if err != nil {
				return fmt.Errorf("add account: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added account %d (%s, key %s)\n", id, rec.Endpoint, rec.Masked())
			return nil
		},
	}
	cmd.Flags().StringVar(&rec.Endpoint, "endpoint", "", "endpoint the key belongs to (OpenAI, QianWen or an alias)")
	cmd.Flags().StringVar(&rec.APIKey, "key", "", "upstream API key")
	cmd.Flags().StringVar(&rec.UseProxy, "proxy", "", "name of a [proxy.<name>] section to route through")
	cmd.Flags().BoolVar(&rec.IsDisabled, "disabled", false, "store the account disabled")
	_ = cmd.MarkFlagRequired("endpoint")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

func dash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
