package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/tmetzger/subtrack/internal/cli"
	"github.com/tmetzger/subtrack/internal/model"
	"github.com/tmetzger/subtrack/internal/ofx"
	"github.com/tmetzger/subtrack/internal/recurring"
)

func importOFXCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import-ofx [files...]",
		Short: "Import subscriptions from OFX/QFX files",
		Long: `Detect recurring charges in OFX or QFX (Quicken) files exported from your
bank and review them as subscription candidates.

Examples:
  # Import single file
  subtrack import-ofx ~/Downloads/chase_jan_2024.qfx

  # Import a year of statements at once
  subtrack import-ofx ~/Downloads/chase_*.qfx

  # Import from multiple directories
  subtrack import-ofx ~/Downloads/Chase/*.qfx ~/Downloads/Ally/*.qfx`,
		Args: cobra.MinimumNArgs(1),
		RunE: runImportOFX,
	}

	cmd.Flags().Bool("dry-run", false, "Show candidates without saving")
	cmd.Flags().Bool("list-accounts", false, "List accounts in the files without importing")

	return cmd
}

func runImportOFX(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	listAccounts, _ := cmd.Flags().GetBool("list-accounts")

	files, err := expandOFXPatterns(args)
	if err != nil {
		return err
	}

	parser := ofx.NewParser()

	if listAccounts {
		return listOFXAccounts(ctx, parser, files)
	}

	slog.Info(cli.FormatTitle("Importing subscriptions from OFX files"), "file_count", len(files))

	transactions, err := collectOFXTransactions(ctx, parser, files)
	if err != nil {
		return err
	}
	if len(transactions) == 0 {
		fmt.Println(cli.InfoStyle.Render("No transactions found in any file."))
		return nil
	}

	candidates := recurring.NewDetector().Detect(transactions, "ofx")
	if len(candidates) == 0 {
		fmt.Println(cli.InfoStyle.Render("No recurring charges detected. Statements covering several months work best."))
		return nil
	}

	return processCandidates(ctx, candidates, dryRun)
}

// expandOFXPatterns resolves glob patterns and literal paths to files.
func expandOFXPatterns(patterns []string) ([]string, error) {
	var files []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %s: %w", pattern, err)
		}
		if len(matches) == 0 {
			// If no glob matches, check if it's a direct file
			if _, err := os.Stat(pattern); err == nil {
				files = append(files, pattern)
			} else {
				slog.Warn("No files found matching pattern", "pattern", pattern)
			}
		} else {
			files = append(files, matches...)
		}
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("no files found to import")
	}
	return files, nil
}

// collectOFXTransactions parses every file and merges the results, dropping
// duplicate transactions that appear in overlapping statements.
func collectOFXTransactions(ctx context.Context, parser *ofx.Parser, files []string) ([]model.Transaction, error) {
	var all []model.Transaction
	seen := make(map[string]bool)

	for _, filePath := range files {
		f, err := os.Open(filePath)
		if err != nil {
			slog.Error("Failed to open file", "file", filePath, "error", err)
			continue
		}

		transactions, err := parser.ParseFile(ctx, f)
		f.Close()
		if err != nil {
			slog.Error("Failed to parse OFX file", "file", filePath, "error", err)
			continue
		}

		added := 0
		for _, tx := range transactions {
			key := tx.Hash
			if key == "" {
				key = tx.ID
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			all = append(all, tx)
			added++
		}

		slog.Info("Processed file",
			"file", filepath.Base(filePath),
			"transactions", len(transactions),
			"added", added,
			"duplicates", len(transactions)-added)
	}

	return all, nil
}

// listOFXAccounts prints the union of account IDs across the files.
func listOFXAccounts(ctx context.Context, parser *ofx.Parser, files []string) error {
	seen := make(map[string]bool)
	for _, filePath := range files {
		f, err := os.Open(filePath)
		if err != nil {
			slog.Error("Failed to open file", "file", filePath, "error", err)
			continue
		}

		accounts, err := parser.GetAccounts(ctx, f)
		f.Close()
		if err != nil {
			slog.Error("Failed to read accounts", "file", filePath, "error", err)
			continue
		}

		for _, id := range accounts {
			seen[id] = true
		}
	}

	if len(seen) == 0 {
		fmt.Println(cli.InfoStyle.Render("No accounts found."))
		return nil
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	fmt.Println(cli.FormatTitle("Accounts in these files"))
	for _, id := range ids {
		fmt.Printf("  %s\n", id)
	}
	return nil
}
