package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tmetzger/subtrack/internal/cli"
	"github.com/tmetzger/subtrack/internal/config"
	"github.com/tmetzger/subtrack/internal/sheets"
)

func exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Export a report to Google Sheets",
		Long: `Write a two-tab spend report to Google Sheets: an overview of every
tracked subscription and a tab of upcoming renewals.

Requires Google Sheets credentials. Run 'subtrack auth sheets' to set up
OAuth2, or configure a service account in the config file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			sheetsConfig, err := config.LoadSheetsConfig()
			if err != nil {
				return fmt.Errorf("failed to load sheets config: %w", err)
			}

			// Initialize storage with auto-migration
			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			owner := ownerID()
			subs, err := store.GetSubscriptions(ctx, owner)
			if err != nil {
				return fmt.Errorf("failed to get subscriptions: %w", err)
			}
			if len(subs) == 0 {
				fmt.Println(cli.InfoStyle.Render("Nothing to export yet."))
				return nil
			}

			summary, err := store.GetSpendSummary(ctx, owner)
			if err != nil {
				return fmt.Errorf("failed to get spend summary: %w", err)
			}

			slog.Info(cli.FormatTitle("Exporting report to Google Sheets"), "subscriptions", len(subs))

			writer, err := sheets.NewWriter(ctx, *sheetsConfig, slog.Default())
			if err != nil {
				return fmt.Errorf("failed to create sheets writer: %w", err)
			}

			if err := writer.Write(ctx, subs, summary); err != nil {
				return fmt.Errorf("failed to write report: %w", err)
			}

			fmt.Println(cli.FormatSuccess(fmt.Sprintf("Exported %d subscription(s)", len(subs))))
			return nil
		},
	}
}
