package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tmetzger/subtrack/internal/cli"
	"github.com/tmetzger/subtrack/internal/model"
	"github.com/tmetzger/subtrack/internal/plaid"
	"github.com/tmetzger/subtrack/internal/recurring"
	"github.com/tmetzger/subtrack/internal/service"
	"github.com/tmetzger/subtrack/internal/storage"
)

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import subscriptions from Plaid",
		Long: `Find recurring charges on your connected Plaid accounts and review them
as subscription candidates. Candidates already being tracked are skipped.`,
		RunE: runImport,
	}

	// Account filtering
	cmd.Flags().StringSlice("accounts", []string{}, "Filter by specific account IDs (comma-separated)")
	cmd.Flags().Bool("list-accounts", false, "List available accounts without importing")

	// Detection source
	cmd.Flags().Bool("from-transactions", false, "Detect recurring charges from raw transactions instead of Plaid's recurring streams")
	cmd.Flags().IntP("days", "d", 365, "Transaction window in days (with --from-transactions)")

	// Other options
	cmd.Flags().Bool("dry-run", false, "Show candidates without saving")

	// Bind to viper
	_ = viper.BindPFlag("import.accounts", cmd.Flags().Lookup("accounts"))
	_ = viper.BindPFlag("import.list_accounts", cmd.Flags().Lookup("list-accounts"))
	_ = viper.BindPFlag("import.from_transactions", cmd.Flags().Lookup("from-transactions"))
	_ = viper.BindPFlag("import.days", cmd.Flags().Lookup("days"))
	_ = viper.BindPFlag("import.dry_run", cmd.Flags().Lookup("dry-run"))

	return cmd
}

func runImport(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	plaidClient, err := newPlaidClient()
	if err != nil {
		return err
	}

	// Handle list-accounts flag
	if viper.GetBool("import.list_accounts") {
		return listSourceAccounts(ctx, plaidClient, "Connected Plaid accounts",
			"No accounts connected. Run 'subtrack auth plaid' first.")
	}

	slog.Info(cli.FormatTitle("Importing subscriptions from Plaid"))

	var candidates []model.SubscriptionCandidate
	if viper.GetBool("import.from_transactions") {
		transactions, err := fetchTransactionWindow(ctx, plaidClient, viper.GetInt("import.days"))
		if err != nil {
			return err
		}
		candidates = recurring.NewDetector().Detect(transactions, "plaid")
	} else {
		slog.Info("🔄 Fetching recurring charges...")
		candidates, err = plaidClient.GetRecurringCharges(ctx, viper.GetStringSlice("import.accounts"))
		if err != nil {
			return fmt.Errorf("failed to fetch recurring charges: %w", err)
		}
	}

	return processCandidates(ctx, candidates, viper.GetBool("import.dry_run"))
}

// fetchTransactionWindow pulls raw transactions for the trailing window.
func fetchTransactionWindow(ctx context.Context, source service.TransactionSource, days int) ([]model.Transaction, error) {
	endDate := time.Now()
	startDate := endDate.AddDate(0, 0, -days)
	slog.Info("🔄 Fetching transactions...", "start", startDate.Format("2006-01-02"), "end", endDate.Format("2006-01-02"))

	transactions, err := source.GetTransactions(ctx, startDate, endDate)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transactions: %w", err)
	}
	slog.Info(fmt.Sprintf("Fetched %d transactions", len(transactions)))

	return transactions, nil
}

// processCandidates filters out already-tracked charges, then previews or
// saves the rest.
func processCandidates(ctx context.Context, candidates []model.SubscriptionCandidate, dryRun bool) error {
	if len(candidates) == 0 {
		fmt.Println(cli.InfoStyle.Render("No recurring charges found."))
		return nil
	}

	// Initialize storage with auto-migration
	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	candidates, skipped, err := filterTrackedCandidates(ctx, store, ownerID(), candidates)
	if err != nil {
		return err
	}
	if skipped > 0 {
		slog.Info(fmt.Sprintf("Skipping %d already tracked subscription(s)", skipped))
	}
	if len(candidates) == 0 {
		fmt.Println(cli.InfoStyle.Render("All detected charges are already tracked."))
		return nil
	}

	if dryRun {
		slog.Info(cli.FormatWarning("Dry run mode - not saving to database"))
		displayCandidates(candidates)
		return nil
	}

	return reviewAndSave(ctx, store, candidates)
}

// newPlaidClient builds a Plaid client from configuration.
func newPlaidClient() (*plaid.Client, error) {
	cfg := plaid.Config{
		ClientID:    viper.GetString("plaid.client_id"),
		Secret:      viper.GetString("plaid.secret"),
		Environment: viper.GetString("plaid.environment"),
		AccessToken: viper.GetString("plaid.access_token"),
	}

	// Set defaults if not provided
	if cfg.Environment == "" {
		cfg.Environment = "sandbox"
	}

	client, err := plaid.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Plaid client: %w", err)
	}
	return client, nil
}

func listSourceAccounts(ctx context.Context, source service.TransactionSource, title, emptyHint string) error {
	accounts, err := source.GetAccounts(ctx)
	if err != nil {
		return fmt.Errorf("failed to list accounts: %w", err)
	}

	if len(accounts) == 0 {
		fmt.Println(cli.InfoStyle.Render(emptyHint))
		return nil
	}

	fmt.Println(cli.FormatTitle(title))
	for _, id := range accounts {
		fmt.Printf("  %s\n", id)
	}
	return nil
}

// reviewAndSave walks the user through candidates and persists the accepted
// ones.
func reviewAndSave(ctx context.Context, store service.Storage, candidates []model.SubscriptionCandidate) error {
	prompter := cli.NewCLIPrompter(nil, nil)

	accepted, err := prompter.ReviewCandidates(ctx, candidates, ownerID())
	if err != nil {
		return fmt.Errorf("candidate review failed: %w", err)
	}
	if len(accepted) == 0 {
		fmt.Println(cli.InfoStyle.Render("Nothing selected."))
		return nil
	}

	autoBackup(ctx, store, "import")

	for i := range accepted {
		sub := &accepted[i]
		sub.ID = uuid.NewString()
		if err := store.CreateSubscription(ctx, sub); err != nil {
			return fmt.Errorf("failed to save subscription %s: %w", sub.Name, err)
		}
		slog.Debug("tracking subscription", "id", sub.ID, "name", sub.Name)
	}

	fmt.Println(cli.FormatSuccess(fmt.Sprintf("Now tracking %d subscription(s)", len(accepted))))
	return nil
}

// autoBackup snapshots the database before an import writes to it. Best
// effort: a failed snapshot is logged, never blocks the import.
func autoBackup(ctx context.Context, store service.Storage, prefix string) {
	sqliteStore, ok := store.(*storage.SQLiteStorage)
	if !ok {
		return
	}
	manager, err := sqliteStore.NewBackupManager()
	if err != nil {
		slog.Warn("skipping automatic backup", "error", err)
		return
	}
	if err := manager.AutoBackup(ctx, prefix); err != nil {
		slog.Warn("skipping automatic backup", "error", err)
	}
}

// filterTrackedCandidates drops candidates whose name is already tracked.
func filterTrackedCandidates(ctx context.Context, store subscriptionLookup, owner string, candidates []model.SubscriptionCandidate) ([]model.SubscriptionCandidate, int, error) {
	existing, err := store.GetSubscriptions(ctx, owner)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get subscriptions: %w", err)
	}

	tracked := make(map[string]bool, len(existing))
	for i := range existing {
		tracked[strings.ToLower(existing[i].Name)] = true
	}

	kept := make([]model.SubscriptionCandidate, 0, len(candidates))
	skipped := 0
	for _, candidate := range candidates {
		if tracked[strings.ToLower(candidate.Name)] {
			skipped++
			continue
		}
		kept = append(kept, candidate)
	}
	return kept, skipped, nil
}

// displayCandidates prints a candidate table without saving anything.
func displayCandidates(candidates []model.SubscriptionCandidate) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
		headerStyle.Render("Name"),
		headerStyle.Render("Amount"),
		headerStyle.Render("Interval"),
		headerStyle.Render("Seen"),
		headerStyle.Render("Next Billing"),
		headerStyle.Render("Category Guess"))
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
		strings.Repeat("-", 24),
		strings.Repeat("-", 10),
		strings.Repeat("-", 8),
		strings.Repeat("-", 4),
		strings.Repeat("-", 12),
		strings.Repeat("-", 16))

	for i := range candidates {
		c := &candidates[i]
		guess := c.CategoryGuess
		if guess == "" {
			guess = "-"
		}
		fmt.Fprintf(w, "%s\t%.2f %s\t%s\t%d\t%s\t%s\n",
			c.Name,
			c.Amount, c.Currency,
			c.Interval,
			c.Occurrences,
			c.NextBillingDate.Format(displayDateFormat),
			guess)
	}
}
