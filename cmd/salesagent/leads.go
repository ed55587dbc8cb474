package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Gireeshbd/ai-sales-agent/internal/leads"
)

func newLeadsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "leads",
		Short: "Manage the lead store",
	}
	cmd.AddCommand(newLeadsListCommand(ctx))
	cmd.AddCommand(newLeadsImportCommand(ctx))
	cmd.AddCommand(newLeadsTemplateCommand())
	return cmd
}

func newLeadsListCommand(ctx *commandContext) *cobra.Command {
	var pendingOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List leads",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			var all []leads.Lead
			if pendingOnly {
				all, err = store.ListPending(cmd.Context())
			} else {
				all, err = store.ListLeads(cmd.Context())
			}
			if err != nil {
				return err
			}
			if ctx.flags.json {
				return writeJSON(cmd, all)
			}
			if len(all) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No leads")
				return nil
			}
			rows := make([][]string, 0, len(all))
			for _, l := range all {
				rows = append(rows, []string{l.BusinessName, l.ContactName, l.Phone, l.Category, l.SizeTier, string(l.Status)})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Business", "Contact", "Phone", "Type", "Size", "Status"},
				rows, nil,
			))
			fmt.Fprintf(cmd.OutOrStdout(), "%s lead(s)\n", humanize.Comma(int64(len(all))))
			return nil
		},
	}
	cmd.Flags().BoolVar(&pendingOnly, "pending", false, "Only leads waiting to be called")
	return cmd
}

func newLeadsImportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Import leads from a CSV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			defer f.Close()
			parsed, err := leads.ReadLeadsCSV(f)
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}

			store, err := ctx.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()
			n, err := store.ImportLeads(cmd.Context(), parsed)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %s lead(s)\n", humanize.Comma(int64(n)))
			return nil
		},
	}
}

func newLeadsTemplateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "template [file.csv]",
		Short: "Write a sample leads CSV",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return leads.WriteTemplate(cmd.OutOrStdout())
			}
			f, err := os.Create(args[0])
			if err != nil {
				return err
			}
			if err := leads.WriteTemplate(f); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Template written to %s\n", args[0])
			return nil
		},
	}
}
