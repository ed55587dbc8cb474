package main

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Gireeshbd/ai-sales-agent/internal/observability"
	"github.com/Gireeshbd/ai-sales-agent/internal/session"
)

type callsResponse struct {
	ActiveCalls int            `json:"active_calls"`
	Sessions    []session.Info `json:"sessions"`
}

func newCallsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calls",
		Short: "List calls the server is tracking",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			var res callsResponse
			if err := client.do(cmd.Context(), http.MethodGet, "/calls", nil, &res); err != nil {
				return err
			}
			if ctx.flags.json {
				return writeJSON(cmd, res)
			}
			if len(res.Sessions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No calls in progress")
				return nil
			}
			rows := make([][]string, 0, len(res.Sessions))
			for _, s := range res.Sessions {
				rows = append(rows, []string{
					s.BusinessName,
					s.Phone,
					s.CallSID,
					string(s.State),
					s.ProviderStatus,
					s.Reason,
					humanize.Time(s.CreatedAt),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Business", "Phone", "Call SID", "State", "Provider", "End reason", "Started"},
				rows, nil,
			))
			fmt.Fprintf(cmd.OutOrStdout(), "%d active call(s)\n", res.ActiveCalls)
			return nil
		},
	}
	cmd.AddCommand(newCallsLatencyCommand(ctx))
	return cmd
}

func newCallsLatencyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "latency",
		Short: "Show recent dial, connect and analysis latencies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			var snap observability.LatencySnapshot
			if err := client.do(cmd.Context(), http.MethodGet, "/calls/latency", nil, &snap); err != nil {
				return err
			}
			if ctx.flags.json {
				return writeJSON(cmd, snap)
			}
			if len(snap.Stages) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No latency samples yet")
				return nil
			}
			ms := func(v float64) string { return strconv.FormatFloat(v, 'f', 0, 64) + "ms" }
			rows := make([][]string, 0, len(snap.Stages))
			for _, s := range snap.Stages {
				target := "-"
				if s.TargetP95MS > 0 {
					target = ms(s.TargetP95MS)
				}
				rows = append(rows, []string{s.Stage, strconv.Itoa(s.Samples), ms(s.P50MS), ms(s.P95MS), ms(s.P99MS), target})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Stage", "Samples", "p50", "p95", "p99", "Target p95"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight},
			))
			return nil
		},
	}
}
