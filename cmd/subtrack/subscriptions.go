package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tmetzger/subtrack/internal/cli"
	"github.com/tmetzger/subtrack/internal/model"
)

const displayDateFormat = "Jan 2, 2006"

func subscriptionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "subscription",
		Aliases: []string{"sub", "subs"},
		Short:   "Manage tracked subscriptions",
		Long:    `Add, list, update, and remove the recurring subscriptions being tracked.`,
	}

	cmd.AddCommand(addSubscriptionCmd())
	cmd.AddCommand(listSubscriptionsCmd())
	cmd.AddCommand(showSubscriptionCmd())
	cmd.AddCommand(setCategoryCmd())
	cmd.AddCommand(removeSubscriptionCmd())
	cmd.AddCommand(upcomingCmd())
	cmd.AddCommand(summaryCmd())

	return cmd
}

func addSubscriptionCmd() *cobra.Command {
	var (
		amount      float64
		currency    string
		interval    string
		nextBilling string
		category    string
		notes       string
		isTrial     bool
	)

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a subscription",
		Long:  `Track a new recurring subscription with its amount, billing interval, and next billing date.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			billingInterval := model.BillingInterval(strings.ToUpper(interval))
			if !billingInterval.Valid() {
				return fmt.Errorf("invalid interval %q (use monthly or yearly)", interval)
			}

			// Default the next billing date to one interval from today.
			nextDate := time.Now()
			if billingInterval == model.IntervalYearly {
				nextDate = nextDate.AddDate(1, 0, 0)
			} else {
				nextDate = nextDate.AddDate(0, 1, 0)
			}
			if nextBilling != "" {
				parsed, err := time.Parse("2006-01-02", nextBilling)
				if err != nil {
					return fmt.Errorf("invalid next billing date %q (use YYYY-MM-DD): %w", nextBilling, err)
				}
				nextDate = parsed
			}

			sub := &model.Subscription{
				ID:              uuid.NewString(),
				OwnerID:         ownerID(),
				Name:            args[0],
				Amount:          amount,
				Currency:        strings.ToUpper(currency),
				Interval:        billingInterval,
				NextBillingDate: nextDate,
				Notes:           notes,
				IsTrial:         isTrial,
			}
			if category != "" {
				sub.Category = &category
			}

			// Initialize storage with auto-migration
			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.CreateSubscription(ctx, sub); err != nil {
				return fmt.Errorf("failed to add subscription: %w", err)
			}

			fmt.Println(cli.FormatSuccess(fmt.Sprintf("Added %s (%s)", sub.Name, sub.ID)))
			fmt.Printf("  %s\n", sub.Summarize())
			return nil
		},
	}

	cmd.Flags().Float64Var(&amount, "amount", 0, "Billing amount per interval")
	cmd.Flags().StringVar(&currency, "currency", "USD", "ISO 4217 currency code")
	cmd.Flags().StringVar(&interval, "interval", "monthly", "Billing interval (monthly, yearly)")
	cmd.Flags().StringVar(&nextBilling, "next-billing", "", "Next billing date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&category, "category", "", "Category label")
	cmd.Flags().StringVar(&notes, "notes", "", "Free-form notes")
	cmd.Flags().BoolVar(&isTrial, "trial", false, "Mark as a trial subscription")
	_ = cmd.MarkFlagRequired("amount")

	return cmd
}

func listSubscriptionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tracked subscriptions",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			// Initialize storage with auto-migration
			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			subs, err := store.GetSubscriptions(ctx, ownerID())
			if err != nil {
				return fmt.Errorf("failed to get subscriptions: %w", err)
			}

			if len(subs) == 0 {
				fmt.Println(cli.InfoStyle.Render("No subscriptions tracked yet. Use 'subtrack subscription add' or 'subtrack import' to get started."))
				return nil
			}

			// Create table writer
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			defer w.Flush()

			// Header
			headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				headerStyle.Render("ID"),
				headerStyle.Render("Name"),
				headerStyle.Render("Amount"),
				headerStyle.Render("Interval"),
				headerStyle.Render("Next Billing"),
				headerStyle.Render("Category"))
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				strings.Repeat("-", 8),
				strings.Repeat("-", 24),
				strings.Repeat("-", 10),
				strings.Repeat("-", 8),
				strings.Repeat("-", 12),
				strings.Repeat("-", 16))

			for i := range subs {
				sub := &subs[i]
				name := sub.Name
				if sub.IsTrial {
					name += " " + cli.WarningStyle.Render("(trial)")
				}
				fmt.Fprintf(w, "%s\t%s\t%.2f %s\t%s\t%s\t%s\n",
					shortID(sub.ID),
					name,
					sub.Amount, sub.Currency,
					sub.Interval,
					sub.NextBillingDate.Format(displayDateFormat),
					categoryLabel(sub.Category))
			}

			return nil
		},
	}
}

func showSubscriptionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one subscription in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			// Initialize storage with auto-migration
			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			sub, err := resolveSubscription(ctx, store, ownerID(), args[0])
			if err != nil {
				return err
			}

			lines := []string{
				fmt.Sprintf("%-14s %s", "ID:", sub.ID),
				fmt.Sprintf("%-14s %.2f %s", "Amount:", sub.Amount, sub.Currency),
				fmt.Sprintf("%-14s %s", "Interval:", sub.Interval),
				fmt.Sprintf("%-14s %.2f %s/mo", "Normalized:", sub.MonthlyAmount(), sub.Currency),
				fmt.Sprintf("%-14s %s", "Next billing:", sub.NextBillingDate.Format(displayDateFormat)),
				fmt.Sprintf("%-14s %s", "Category:", categoryLabel(sub.Category)),
				fmt.Sprintf("%-14s %s", "Added:", sub.CreatedAt.Format(displayDateFormat)),
			}
			if sub.IsTrial {
				lines = append(lines, fmt.Sprintf("%-14s %s", "Trial:", "yes"))
			}
			if sub.Notes != "" {
				lines = append(lines, fmt.Sprintf("%-14s %s", "Notes:", sub.Notes))
			}

			fmt.Println(cli.RenderBox(sub.Name, strings.Join(lines, "\n")))
			return nil
		},
	}
}

func setCategoryCmd() *cobra.Command {
	var clear bool

	cmd := &cobra.Command{
		Use:   "set-category <id> [category]",
		Short: "Set or clear a subscription's category",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if clear && len(args) > 1 {
				return fmt.Errorf("cannot combine --clear with a category argument")
			}
			if !clear && len(args) < 2 {
				return fmt.Errorf("provide a category or pass --clear")
			}

			// Initialize storage with auto-migration
			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			sub, err := resolveSubscription(ctx, store, ownerID(), args[0])
			if err != nil {
				return err
			}

			var category *string
			if !clear {
				category = &args[1]
			}

			if err := store.UpdateSubscriptionCategory(ctx, sub.OwnerID, sub.ID, category); err != nil {
				return fmt.Errorf("failed to update category: %w", err)
			}

			if clear {
				fmt.Println(cli.FormatSuccess(fmt.Sprintf("Cleared category on %s", sub.Name)))
			} else {
				fmt.Println(cli.FormatSuccess(fmt.Sprintf("Set %s to category %q", sub.Name, *category)))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&clear, "clear", false, "Remove the category instead of setting one")

	return cmd
}

func removeSubscriptionCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a subscription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			// Initialize storage with auto-migration
			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			sub, err := resolveSubscription(ctx, store, ownerID(), args[0])
			if err != nil {
				return err
			}

			// Confirm deletion
			if !force {
				fmt.Printf("Remove %s (%.2f %s %s)? (y/N): ", sub.Name, sub.Amount, sub.Currency, sub.Interval)
				var response string
				fmt.Scanln(&response)
				if strings.ToLower(response) != "y" {
					fmt.Println("Removal cancelled.")
					return nil
				}
			}

			if err := store.DeleteSubscription(ctx, sub.OwnerID, sub.ID); err != nil {
				return fmt.Errorf("failed to remove subscription: %w", err)
			}

			fmt.Println(cli.FormatSuccess(fmt.Sprintf("Removed %s", sub.Name)))
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Skip confirmation prompt")

	return cmd
}

func upcomingCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "upcoming",
		Short: "Show charges due soon",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			// Initialize storage with auto-migration
			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			subs, err := store.GetSubscriptions(ctx, ownerID())
			if err != nil {
				return fmt.Errorf("failed to get subscriptions: %w", err)
			}

			cutoff := time.Now().AddDate(0, 0, days)
			due := upcomingWithin(subs, cutoff)
			if len(due) == 0 {
				fmt.Println(cli.InfoStyle.Render(fmt.Sprintf("Nothing due in the next %d days.", days)))
				return nil
			}

			fmt.Println(cli.TitleStyle.Render(cli.CalendarIcon + fmt.Sprintf(" Due in the next %d days", days)))

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			defer w.Flush()

			headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				headerStyle.Render("Date"),
				headerStyle.Render("Name"),
				headerStyle.Render("Amount"),
				headerStyle.Render("Interval"))
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				strings.Repeat("-", 12),
				strings.Repeat("-", 24),
				strings.Repeat("-", 10),
				strings.Repeat("-", 8))

			var total float64
			for i := range due {
				sub := &due[i]
				fmt.Fprintf(w, "%s\t%s\t%.2f %s\t%s\n",
					sub.NextBillingDate.Format(displayDateFormat),
					sub.Name,
					sub.Amount, sub.Currency,
					sub.Interval)
				total += sub.Amount
			}
			fmt.Fprintf(w, "\t%s\t%.2f\t\n", cli.BoldStyle.Render("Total"), total)

			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 30, "Look-ahead window in days")

	return cmd
}

func summaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Show spend totals by category",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			// Initialize storage with auto-migration
			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			summary, err := store.GetSpendSummary(ctx, ownerID())
			if err != nil {
				return fmt.Errorf("failed to get spend summary: %w", err)
			}

			if summary.Subscriptions == 0 {
				fmt.Println(cli.InfoStyle.Render("No subscriptions tracked yet."))
				return nil
			}

			var lines []string
			lines = append(lines,
				fmt.Sprintf("%-16s %d", "Subscriptions:", summary.Subscriptions),
				fmt.Sprintf("%-16s %.2f/mo", "Monthly total:", summary.MonthlyTotal),
				fmt.Sprintf("%-16s %.2f/yr", "Yearly total:", summary.YearlyTotal))
			if summary.Uncategorized > 0 {
				lines = append(lines, fmt.Sprintf("%-16s %d", "Uncategorized:", summary.Uncategorized))
			}

			names := make([]string, 0, len(summary.ByCategory))
			for name := range summary.ByCategory {
				names = append(names, name)
			}
			sort.Slice(names, func(i, j int) bool {
				return summary.ByCategory[names[i]].MonthlyTotal > summary.ByCategory[names[j]].MonthlyTotal
			})

			if len(names) > 0 {
				lines = append(lines, "")
				for _, name := range names {
					cat := summary.ByCategory[name]
					lines = append(lines, fmt.Sprintf("%-24s %8.2f/mo  (%d)", name, cat.MonthlyTotal, cat.Count))
				}
			}

			fmt.Println(cli.RenderBox(cli.ChartIcon+" Spend Summary", strings.Join(lines, "\n")))
			return nil
		},
	}
}

// upcomingWithin filters to subscriptions billing on or before cutoff, soonest
// first.
func upcomingWithin(subs []model.Subscription, cutoff time.Time) []model.Subscription {
	due := make([]model.Subscription, 0, len(subs))
	for _, sub := range subs {
		if !sub.NextBillingDate.After(cutoff) {
			due = append(due, sub)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextBillingDate.Before(due[j].NextBillingDate)
	})
	return due
}

// resolveSubscription finds a subscription by full ID or unambiguous prefix.
func resolveSubscription(ctx context.Context, store subscriptionLookup, owner, id string) (*model.Subscription, error) {
	sub, err := store.GetSubscription(ctx, owner, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	if sub != nil {
		return sub, nil
	}

	// Fall back to prefix matching so short IDs from list output work.
	subs, err := store.GetSubscriptions(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to get subscriptions: %w", err)
	}

	var match *model.Subscription
	for i := range subs {
		if strings.HasPrefix(subs[i].ID, id) {
			if match != nil {
				return nil, fmt.Errorf("subscription ID %q is ambiguous", id)
			}
			match = &subs[i]
		}
	}
	if match == nil {
		return nil, fmt.Errorf("subscription %q not found", id)
	}
	return match, nil
}

// subscriptionLookup is the slice of storage needed to resolve IDs.
type subscriptionLookup interface {
	GetSubscription(ctx context.Context, ownerID, id string) (*model.Subscription, error)
	GetSubscriptions(ctx context.Context, ownerID string) ([]model.Subscription, error)
}

// shortID abbreviates a UUID for table display.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// categoryLabel formats an optional category for display.
func categoryLabel(category *string) string {
	if category == nil || *category == "" {
		return lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render("(uncategorized)")
	}
	return *category
}
