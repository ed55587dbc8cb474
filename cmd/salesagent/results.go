package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Gireeshbd/ai-sales-agent/internal/leads"
)

func newResultsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "results",
		Short: "Inspect recorded call outcomes",
	}
	cmd.AddCommand(newResultsListCommand(ctx))
	cmd.AddCommand(newResultsStatsCommand(ctx))
	return cmd
}

func newResultsListCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the most recent call results",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()
			results, err := store.ListResults(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if ctx.flags.json {
				return writeJSON(cmd, results)
			}
			if len(results) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No call results")
				return nil
			}
			rows := make([][]string, 0, len(results))
			for _, r := range results {
				meeting := ""
				if r.Outcome.ScheduledMeeting {
					meeting = "yes"
					if r.Outcome.MeetingTime != "" {
						meeting += " (" + r.Outcome.MeetingTime + ")"
					}
				}
				rows = append(rows, []string{
					humanize.Time(r.CallDate),
					r.Lead.DisplayName(),
					r.Outcome.CallStatus,
					r.Outcome.InterestLevel,
					meeting,
					r.Outcome.NextAction,
					(time.Duration(r.Outcome.DurationSeconds) * time.Second).String(),
					strings.Join(r.Outcome.Objections, ", "),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"When", "Business", "Status", "Interest", "Meeting", "Next", "Duration", "Objections"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of results to show (0 for all)")
	return cmd
}

func newResultsStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show campaign statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()
			stats, err := store.Statistics(cmd.Context())
			if err != nil {
				return err
			}
			if ctx.flags.json {
				return writeJSON(cmd, stats)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderFields(statisticsFields(stats)))
			return nil
		},
	}
}

func statisticsFields(s leads.Statistics) [][2]string {
	count := func(n int) string { return humanize.Comma(int64(n)) }
	return [][2]string{
		{"Total leads", count(s.TotalLeads)},
		{"Pending", count(s.PendingCalls)},
		{"Calls made", count(s.CompletedCalls)},
		{"Answered", count(s.AnsweredCalls)},
		{"Failed", count(s.FailedCalls)},
		{"Meetings", count(s.ScheduledMeetings)},
		{"High interest", count(s.HighInterest)},
		{"Conversion rate", strconv.FormatFloat(s.ConversionRate, 'f', 1, 64) + "%"},
	}
}
