package main

import (
	"fmt"
	"net/http"
	"net/url"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Anivie/gpt-cat/internal/ledger"
	"github.com/Anivie/gpt-cat/internal/pool"
)

func newPoolCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pool",
		Short: "Inspect the live account pool and toggle endpoints",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "Show slot usage per pooled account",
			RunE: func(cmd *cobra.Command, args []string) error {
				var out struct {
					Accounts []pool.AccountStats `json:"accounts"`
				}
				if err := newAdminClient().do(cmd.Context(), http.MethodGet, "/admin/pool", &out); err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tENDPOINT\tSLOTS\tAVAILABLE\tBUSY")
				for _, a := range out.Accounts {
					fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%d\n", a.ID, a.Endpoint, a.Slots, a.Available, a.Busy)
				}
				return tw.Flush()
			},
		},
		newToggleCmd("enable", true),
		newToggleCmd("disable", false),
	)
	return cmd
}

func newToggleCmd(verb string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <endpoint>",
		Short: fmt.Sprintf("%s every account of an endpoint", verb),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Changed int64 `json:"changed"`
				Pool    int   `json:"pool"`
			}
			path := "/admin/endpoints/" + url.PathEscape(args[0]) + "/" + verb
			if err := newAdminClient().do(cmd.Context(), http.MethodPost, path, &out); err != nil {
				return err
			}
			state := "disabled"
			if enabled {
				state = "enabled"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d account(s) of %s; pool now holds %d\n", state, out.Changed, args[0], out.Pool)
			return nil
		},
	}
}

func newRequestsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "requests",
		Short: "Show the most recent relayed requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Requests []ledger.Entry `json:"requests"`
			}
			path := fmt.Sprintf("/admin/requests?limit=%d", limit)
			if err := newAdminClient().do(cmd.Context(), http.MethodGet, path, &out); err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tMODEL\tSTREAM\tACCOUNT\tATTEMPTS\tCHARS\tOUTCOME")
			for _, e := range out.Requests {
				fmt.Fprintf(tw, "%s\t%s\t%v\t%d\t%d\t%d\t%s\n",
					e.CreatedAt.Local().Format("01-02 15:04:05"), e.Model, e.Stream, e.AccountID, e.Attempts, e.OutputChars, e.Outcome)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of requests to show")
	return cmd
}

func newReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Re-read configuration and accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Pool int `json:"pool"`
			}
			if err := newAdminClient().do(cmd.Context(), http.MethodPost, "/admin/reload", &out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reloaded; pool holds %d account(s)\n", out.Pool)
			return nil
		},
	}
}

func newUsageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "usage <account-id>",
		Short: "Summarise ledger usage of one account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var sum ledger.Summary
			if err := newAdminClient().do(cmd.Context(), http.MethodGet, "/admin/accounts/"+url.PathEscape(args[0])+"/usage", &sum); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "requests:          %d (%d succeeded)\nprompt tokens:     %d\ncompletion tokens: %d\noutput chars:      %d\n",
				sum.Requests, sum.Succeeded, sum.PromptTokens, sum.CompletionTokens, sum.OutputChars)
			return nil
		},
	}
}
