package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tmetzger/subtrack/internal/cli"
	"github.com/tmetzger/subtrack/internal/recurring"
	"github.com/tmetzger/subtrack/internal/simplefin"
)

func importSimpleFINCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import-simplefin",
		Short: "Import subscriptions from SimpleFIN",
		Long: `Fetch transactions from a SimpleFIN bridge and scan them for recurring
charges to review as subscription candidates.

SimpleFIN needs a one-time setup token from your bridge provider (for
example https://bridge.simplefin.org). The token is claimed on first use
and the resulting access URL is saved for later runs.

Examples:
  subtrack import-simplefin --token <setup-token>
  subtrack import-simplefin --days 180
  subtrack import-simplefin --list-accounts`,
		RunE: runImportSimpleFIN,
	}

	cmd.Flags().String("token", "", "SimpleFIN setup token (only needed once)")
	cmd.Flags().IntP("days", "d", 365, "Transaction window in days")
	cmd.Flags().Bool("dry-run", false, "Show candidates without saving")
	cmd.Flags().Bool("list-accounts", false, "List available accounts without importing")

	// Bind to viper
	_ = viper.BindPFlag("simplefin.token", cmd.Flags().Lookup("token"))
	_ = viper.BindPFlag("simplefin.days", cmd.Flags().Lookup("days"))
	_ = viper.BindPFlag("simplefin.dry_run", cmd.Flags().Lookup("dry-run"))
	_ = viper.BindPFlag("simplefin.list_accounts", cmd.Flags().Lookup("list-accounts"))

	return cmd
}

func runImportSimpleFIN(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	client, err := simplefin.NewClient(viper.GetString("simplefin.token"))
	if err != nil {
		return fmt.Errorf("failed to create SimpleFIN client (set simplefin.token or pass --token): %w", err)
	}

	// Handle list-accounts flag
	if viper.GetBool("simplefin.list_accounts") {
		return listSourceAccounts(ctx, client, "SimpleFIN accounts",
			"No accounts available through this access URL.")
	}

	slog.Info(cli.FormatTitle("Importing subscriptions from SimpleFIN"))

	transactions, err := fetchTransactionWindow(ctx, client, viper.GetInt("simplefin.days"))
	if err != nil {
		return err
	}

	candidates := recurring.NewDetector().Detect(transactions, "simplefin")
	return processCandidates(ctx, candidates, viper.GetBool("simplefin.dry_run"))
}
