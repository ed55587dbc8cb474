package main

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Gireeshbd/ai-sales-agent/internal/campaign"
)

func newCampaignCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "campaign",
		Short: "Control campaigns on a running server",
	}
	cmd.AddCommand(newCampaignStartCommand(ctx))
	cmd.AddCommand(newCampaignStopCommand(ctx))
	cmd.AddCommand(newCampaignStatusCommand(ctx))
	cmd.AddCommand(newCampaignRetryCommand(ctx))
	cmd.AddCommand(newCampaignScheduleCommand(ctx))
	return cmd
}

func addFilterFlags(cmd *cobra.Command, f *campaign.Filter) {
	cmd.Flags().StringSliceVar(&f.Categories, "type", nil, "Only call these business types")
	cmd.Flags().StringSliceVar(&f.SizeTiers, "size", nil, "Only call these company sizes")
	cmd.Flags().IntVar(&f.MaxCalls, "max-calls", 0, "Stop after this many calls (0 means no cap)")
}

func newCampaignStartCommand(ctx *commandContext) *cobra.Command {
	var (
		filter campaign.Filter
		wait   bool
	)
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start calling pending leads",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			path := "/campaign/start"
			if wait {
				path += "?wait=true"
			}
			var summary campaign.RunSummary
			if err := client.do(cmd.Context(), http.MethodPost, path, filter, &summary); err != nil {
				return err
			}
			return printSummary(cmd, ctx, summary)
		},
	}
	addFilterFlags(cmd, &filter)
	cmd.Flags().BoolVar(&wait, "wait", false, "Block until the campaign finishes")
	return cmd
}

func newCampaignRetryCommand(ctx *commandContext) *cobra.Command {
	var (
		maxAge time.Duration
		wait   bool
	)
	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Redial leads whose recent calls failed",
		RunE: func(cmd *cobra.Command, args []string) error {
			if maxAge <= 0 {
				return errors.New("--max-age must be positive")
			}
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			q := url.Values{}
			q.Set("max_age_hours", strconv.FormatFloat(maxAge.Hours(), 'f', -1, 64))
			if wait {
				q.Set("wait", "true")
			}
			var summary campaign.RunSummary
			if err := client.do(cmd.Context(), http.MethodPost, "/campaign/retry?"+q.Encode(), nil, &summary); err != nil {
				return err
			}
			return printSummary(cmd, ctx, summary)
		},
	}
	cmd.Flags().DurationVar(&maxAge, "max-age", 24*time.Hour, "Only retry failures newer than this")
	cmd.Flags().BoolVar(&wait, "wait", false, "Block until the retry run finishes")
	return cmd
}

func newCampaignStopCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running campaign",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			var res campaign.StopResult
			if err := client.do(cmd.Context(), http.MethodPost, "/campaign/stop", nil, &res); err != nil {
				return err
			}
			if ctx.flags.json {
				return writeJSON(cmd, res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Campaign %s, %d call(s) still active\n", strings.ReplaceAll(res.Status, "_", " "), res.ActiveCalls)
			return nil
		},
	}
}

func newCampaignStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show campaign status and lead statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			var report campaign.StatusReport
			if err := client.do(cmd.Context(), http.MethodGet, "/campaign/status", nil, &report); err != nil {
				return err
			}
			if ctx.flags.json {
				return writeJSON(cmd, report)
			}
			pairs := [][2]string{
				{"Running", strconv.FormatBool(report.Running)},
				{"Active calls", strconv.Itoa(report.ActiveCalls)},
				{"Business hours", report.BusinessHours},
				{"Within hours", strconv.FormatBool(report.WithinHours)},
				{"Max concurrent calls", strconv.Itoa(report.Settings.MaxConcurrentCalls)},
				{"Retry failed calls", strconv.FormatBool(report.Settings.RetryEnabled)},
			}
			if report.Schedule != nil {
				pairs = append(pairs, [2]string{"Scheduled", report.Schedule.At.Format(time.RFC3339) + " (" + humanize.Time(report.Schedule.At) + ")"})
			}
			run := report.Current
			if run == nil {
				run = report.Last
			}
			if run != nil {
				pairs = append(pairs, summaryFields(*run)...)
			}
			pairs = append(pairs, statisticsFields(report.Statistics)...)
			fmt.Fprintln(cmd.OutOrStdout(), renderFields(pairs))
			return nil
		},
	}
}

func newCampaignScheduleCommand(ctx *commandContext) *cobra.Command {
	var (
		filter campaign.Filter
		at     string
		in     time.Duration
		cancel bool
	)
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Start a campaign at a later time",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			if cancel {
				var res map[string]bool
				if err := client.do(cmd.Context(), http.MethodDelete, "/campaign/schedule", nil, &res); err != nil {
					return err
				}
				if res["cancelled"] {
					fmt.Fprintln(cmd.OutOrStdout(), "Scheduled campaign cancelled")
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), "No campaign was scheduled")
				}
				return nil
			}

			var when time.Time
			switch {
			case at != "":
				when, err = time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at: %w", err)
				}
			case in > 0:
				when = time.Now().Add(in)
			default:
				return errors.New("one of --at or --in is required")
			}
			body := struct {
				ScheduledTime string `json:"scheduled_time"`
				campaign.Filter
			}{ScheduledTime: when.Format(time.RFC3339), Filter: filter}
			var info campaign.ScheduleInfo
			if err := client.do(cmd.Context(), http.MethodPost, "/campaign/schedule", body, &info); err != nil {
				return err
			}
			if ctx.flags.json {
				return writeJSON(cmd, info)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Campaign scheduled for %s (%s)\n", info.At.Format(time.RFC3339), humanize.Time(info.At))
			return nil
		},
	}
	addFilterFlags(cmd, &filter)
	cmd.Flags().StringVar(&at, "at", "", "Start time (RFC 3339)")
	cmd.Flags().DurationVar(&in, "in", 0, "Start after this delay")
	cmd.Flags().BoolVar(&cancel, "cancel", false, "Cancel the scheduled campaign")
	return cmd
}

func printSummary(cmd *cobra.Command, ctx *commandContext, s campaign.RunSummary) error {
	if ctx.flags.json {
		return writeJSON(cmd, s)
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderFields(summaryFields(s)))
	return nil
}

func summaryFields(s campaign.RunSummary) [][2]string {
	pairs := [][2]string{
		{"Run", s.RunID},
		{"Kind", s.Kind},
		{"Status", s.Status},
	}
	if s.AbortReason != "" {
		pairs = append(pairs, [2]string{"Abort reason", s.AbortReason})
	}
	pairs = append(pairs,
		[2]string{"Queued", strconv.Itoa(s.Queued)},
		[2]string{"Attempted", strconv.Itoa(s.Attempted)},
		[2]string{"Completed", strconv.Itoa(s.Completed)},
		[2]string{"Meetings", strconv.Itoa(s.Meetings)},
		[2]string{"Started", humanize.Time(s.StartedAt)},
	)
	if s.FinishedAt != nil {
		pairs = append(pairs, [2]string{"Took", strings.TrimSpace(humanize.RelTime(s.StartedAt, *s.FinishedAt, "", ""))})
	}
	return pairs
}
