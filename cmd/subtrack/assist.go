package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tmetzger/subtrack/internal/assist"
	"github.com/tmetzger/subtrack/internal/cli"
	"github.com/tmetzger/subtrack/internal/model"
	"github.com/tmetzger/subtrack/internal/tui"
)

func assistCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assist",
		Short: "Opt-in assistant for subscription suggestions",
		Long: `The assistant explains your subscriptions and proposes changes you can
apply or roll back. It stays off until you enable it, and it never touches
your data except through proposals you explicitly apply.`,
	}

	cmd.AddCommand(assistEnableCmd())
	cmd.AddCommand(assistDisableCmd())
	cmd.AddCommand(assistStatusCmd())
	cmd.AddCommand(assistExplainCmd())
	cmd.AddCommand(assistProposeCmd())
	cmd.AddCommand(assistProposalsCmd())
	cmd.AddCommand(assistShowCmd())
	cmd.AddCommand(assistDismissCmd())
	cmd.AddCommand(assistApplyCmd())
	cmd.AddCommand(assistRollbackCmd())
	cmd.AddCommand(assistPatchesCmd())
	cmd.AddCommand(assistLogCmd())
	cmd.AddCommand(assistAuditCmd())
	cmd.AddCommand(assistReviewCmd())

	return cmd
}

func assistEnableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enable",
		Short: "Turn the assistant on",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			svc, adv, err := newAssistService(store)
			if err != nil {
				return err
			}
			defer adv.Close()

			if err := svc.Enable(ctx, ownerID()); err != nil {
				return err
			}

			fmt.Println(cli.FormatSuccess(fmt.Sprintf("Assistant enabled for %s (backend: %s)", ownerID(), adv.Name())))
			fmt.Println(cli.InfoStyle.Render("Try 'subtrack assist propose recategorize' or 'subtrack assist explain duplicate'."))
			return nil
		},
	}
}

func assistDisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable",
		Short: "Turn the assistant off",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			svc, adv, err := newAssistService(store)
			if err != nil {
				return err
			}
			defer adv.Close()

			if err := svc.Disable(ctx, ownerID()); err != nil {
				return err
			}

			fmt.Println(cli.FormatSuccess(fmt.Sprintf("Assistant disabled for %s", ownerID())))
			fmt.Println(cli.InfoStyle.Render("Existing proposals are kept but cannot be applied until you re-enable."))
			return nil
		},
	}
}

func assistStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether the assistant is enabled",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			svc, adv, err := newAssistService(store)
			if err != nil {
				return err
			}
			defer adv.Close()

			owner := ownerID()
			enabled, err := svc.Enabled(ctx, owner)
			if err != nil {
				return err
			}

			if !enabled {
				fmt.Println(cli.WarningStyle.Render(fmt.Sprintf("Assistant is disabled for %s.", owner)))
				fmt.Println(cli.InfoStyle.Render("Run 'subtrack assist enable' to opt in."))
				return nil
			}

			fmt.Println(cli.FormatSuccess(fmt.Sprintf("Assistant is enabled for %s (backend: %s)", owner, adv.Name())))

			proposals, err := svc.ListProposals(ctx, owner)
			if err != nil {
				return err
			}
			active := 0
			for i := range proposals {
				if proposals[i].Status == model.ProposalActive {
					active++
				}
			}
			if active > 0 {
				fmt.Println(cli.InfoStyle.Render(fmt.Sprintf("%d active proposal(s) waiting. Run 'subtrack assist review'.", active)))
			}
			return nil
		},
	}
}

func assistExplainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "explain <topic> [subscription-id...]",
		Short: "Explain an aspect of your subscriptions",
		Long: `Ask the assistant to explain an aspect of your subscriptions. Topics:

  duplicate           overlapping or duplicate services
  yearly_vs_monthly   where switching billing interval would pay off
  category_rationale  why subscriptions carry the categories they do

With no subscription IDs the whole portfolio is considered.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			topic := args[0]

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			svc, adv, err := newAssistService(store)
			if err != nil {
				return err
			}
			defer adv.Close()

			owner := ownerID()
			ids, err := resolveSubscriptionIDs(ctx, store, owner, args[1:])
			if err != nil {
				return err
			}

			result, err := svc.Explain(ctx, owner, topic, ids)
			if err != nil {
				return assistErrorHint(err)
			}

			names, err := subscriptionNames(ctx, store, owner)
			if err != nil {
				return err
			}

			fmt.Println(renderExplainResult(result, names))
			return nil
		},
	}
}

func assistProposeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "propose <recategorize|savings> [subscription-id...]",
		Short: "Generate a new proposal",
		Long: `Ask the assistant for a proposal. Types:

  recategorize   suggest better categories for subscriptions
  savings        list concrete ways to spend less

Nothing changes until you apply the proposal.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			typ, err := parseProposalType(args[0])
			if err != nil {
				return err
			}

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			svc, adv, err := newAssistService(store)
			if err != nil {
				return err
			}
			defer adv.Close()

			owner := ownerID()
			ids, err := resolveSubscriptionIDs(ctx, store, owner, args[1:])
			if err != nil {
				return err
			}

			proposal, err := svc.Propose(ctx, owner, typ, ids)
			if err != nil {
				if assist.ReasonOf(err) == assist.ReasonNoFindings {
					fmt.Println(cli.InfoStyle.Render("Nothing to recommend right now."))
					return nil
				}
				return assistErrorHint(err)
			}

			fmt.Println(cli.FormatSuccess(fmt.Sprintf("Created proposal %s", shortID(proposal.ID))))
			fmt.Println(renderProposalDetail(proposal))
			fmt.Println(cli.InfoStyle.Render("Run 'subtrack assist review' to act on it, or 'subtrack assist apply " + shortID(proposal.ID) + "'."))
			return nil
		},
	}
}

func assistProposalsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "proposals",
		Short: "List proposals",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			svc, adv, err := newAssistService(store)
			if err != nil {
				return err
			}
			defer adv.Close()

			proposals, err := svc.ListProposals(ctx, ownerID())
			if err != nil {
				return err
			}

			if len(proposals) == 0 {
				fmt.Println(cli.InfoStyle.Render("No proposals. Run 'subtrack assist propose' to generate some."))
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			defer w.Flush()

			headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				headerStyle.Render("ID"),
				headerStyle.Render("Status"),
				headerStyle.Render("Type"),
				headerStyle.Render("Title"),
				headerStyle.Render("Confidence"),
				headerStyle.Render("Expires"))
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				strings.Repeat("-", 8),
				strings.Repeat("-", 10),
				strings.Repeat("-", 12),
				strings.Repeat("-", 36),
				strings.Repeat("-", 10),
				strings.Repeat("-", 12))

			for i := range proposals {
				p := &proposals[i]
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					shortID(p.ID),
					proposalStatusLabel(p.Status),
					p.Type,
					p.Title,
					confidenceLabel(p.Confidence),
					p.ExpiresAt.Local().Format(displayDateFormat))
			}

			return nil
		},
	}
}

func assistShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <proposal-id>",
		Short: "Show one proposal in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			svc, adv, err := newAssistService(store)
			if err != nil {
				return err
			}
			defer adv.Close()

			owner := ownerID()
			id, err := resolveProposalID(ctx, svc, owner, args[0])
			if err != nil {
				return err
			}

			proposal, err := svc.GetProposal(ctx, owner, id)
			if err != nil {
				return err
			}

			fmt.Println(renderProposalDetail(proposal))
			return nil
		},
	}
}

func assistDismissCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dismiss <proposal-id>",
		Short: "Dismiss an active proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			svc, adv, err := newAssistService(store)
			if err != nil {
				return err
			}
			defer adv.Close()

			owner := ownerID()
			id, err := resolveProposalID(ctx, svc, owner, args[0])
			if err != nil {
				return err
			}

			if err := svc.DismissProposal(ctx, owner, id); err != nil {
				return err
			}

			fmt.Println(cli.FormatSuccess(fmt.Sprintf("Dismissed proposal %s", shortID(id))))
			return nil
		},
	}
}

func assistApplyCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "apply <proposal-id>",
		Short: "Apply a proposal's changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			svc, adv, err := newAssistService(store)
			if err != nil {
				return err
			}
			defer adv.Close()

			owner := ownerID()
			id, err := resolveProposalID(ctx, svc, owner, args[0])
			if err != nil {
				return err
			}

			proposal, err := svc.GetProposal(ctx, owner, id)
			if err != nil {
				return err
			}

			// Confirm before mutating
			if !force {
				fmt.Println(renderProposalDetail(proposal))
				fmt.Printf("Apply this proposal? (y/N): ")
				var response string
				fmt.Scanln(&response)
				if strings.ToLower(response) != "y" {
					fmt.Println("Apply cancelled.")
					return nil
				}
			}

			patch, err := svc.ApplyProposal(ctx, owner, id)
			if err != nil {
				return assistErrorHint(err)
			}

			names, err := subscriptionNames(ctx, store, owner)
			if err != nil {
				return err
			}

			fmt.Println(cli.FormatSuccess(fmt.Sprintf("Applied proposal %s", shortID(id))))
			for _, change := range patch.ForwardPatch {
				fmt.Printf("  %s: %s → %s\n",
					nameOrID(names, change.SubscriptionID),
					categoryLabel(change.FromCategory),
					categoryLabel(change.ToCategory))
			}
			fmt.Println(cli.InfoStyle.Render(fmt.Sprintf("Patch %s recorded. Undo with 'subtrack assist rollback %s'.", shortID(patch.ID), shortID(patch.ID))))
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Skip confirmation prompt")

	return cmd
}

func assistRollbackCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "rollback <patch-id>",
		Short: "Undo an applied patch",
		Long: `Restore the categories recorded when the patch was applied. The patch's
inverse is replayed as saved, even if you changed categories since.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			svc, adv, err := newAssistService(store)
			if err != nil {
				return err
			}
			defer adv.Close()

			owner := ownerID()
			id, err := resolvePatchID(ctx, svc, owner, args[0])
			if err != nil {
				return err
			}

			// Confirm before mutating
			if !force {
				fmt.Printf("Roll back patch %s? (y/N): ", shortID(id))
				var response string
				fmt.Scanln(&response)
				if strings.ToLower(response) != "y" {
					fmt.Println("Rollback cancelled.")
					return nil
				}
			}

			patch, err := svc.RollbackPatch(ctx, owner, id)
			if err != nil {
				return assistErrorHint(err)
			}

			names, err := subscriptionNames(ctx, store, owner)
			if err != nil {
				return err
			}

			fmt.Println(cli.FormatSuccess(fmt.Sprintf("Rolled back patch %s", shortID(patch.ID))))
			for _, change := range patch.RollbackPatch {
				fmt.Printf("  %s: %s → %s\n",
					nameOrID(names, change.SubscriptionID),
					categoryLabel(change.FromCategory),
					categoryLabel(change.ToCategory))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Skip confirmation prompt")

	return cmd
}

func assistPatchesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "patches",
		Short: "List applied patches",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			svc, adv, err := newAssistService(store)
			if err != nil {
				return err
			}
			defer adv.Close()

			patches, err := svc.ListPatches(ctx, ownerID())
			if err != nil {
				return err
			}

			if len(patches) == 0 {
				fmt.Println(cli.InfoStyle.Render("No patches yet. Applying a proposal records one."))
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			defer w.Flush()

			headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				headerStyle.Render("ID"),
				headerStyle.Render("Status"),
				headerStyle.Render("Type"),
				headerStyle.Render("Changes"),
				headerStyle.Render("Applied"),
				headerStyle.Render("Rolled Back"))
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				strings.Repeat("-", 8),
				strings.Repeat("-", 11),
				strings.Repeat("-", 12),
				strings.Repeat("-", 7),
				strings.Repeat("-", 12),
				strings.Repeat("-", 12))

			for i := range patches {
				p := &patches[i]
				rolledBack := "-"
				if p.RolledBackAt != nil {
					rolledBack = p.RolledBackAt.Local().Format(displayDateFormat)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
					shortID(p.ID),
					p.Status,
					p.Type,
					len(p.ForwardPatch),
					p.AppliedAt.Local().Format(displayDateFormat),
					rolledBack)
			}

			return nil
		},
	}
}

func assistLogCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show the assistant's action log",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			svc, adv, err := newAssistService(store)
			if err != nil {
				return err
			}
			defer adv.Close()

			entries, err := svc.ActionLog(ctx, ownerID(), limit)
			if err != nil {
				return err
			}

			if len(entries) == 0 {
				fmt.Println(cli.InfoStyle.Render("No assistant actions recorded yet."))
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			defer w.Flush()

			headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				headerStyle.Render("When"),
				headerStyle.Render("Action"),
				headerStyle.Render("Topic"),
				headerStyle.Render("Result"),
				headerStyle.Render("Latency"),
				headerStyle.Render("Detail"))
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				strings.Repeat("-", 17),
				strings.Repeat("-", 8),
				strings.Repeat("-", 18),
				strings.Repeat("-", 6),
				strings.Repeat("-", 8),
				strings.Repeat("-", 40))

			for i := range entries {
				e := &entries[i]
				result := cli.SuccessStyle.Render("ok")
				detail := e.OutputSummary
				if !e.Success {
					result = cli.ErrorStyle.Render("fail")
					detail = e.ErrorReason
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%dms\t%s\n",
					e.CreatedAt.Local().Format("Jan 2, 2006 15:04"),
					e.ActionType,
					e.Topic,
					result,
					e.LatencyMS,
					detail)
			}

			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum entries to show")

	return cmd
}

func assistAuditCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the assistant's audit trail",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			svc, adv, err := newAssistService(store)
			if err != nil {
				return err
			}
			defer adv.Close()

			entries, err := svc.AuditTrail(ctx, ownerID(), limit)
			if err != nil {
				return err
			}

			if len(entries) == 0 {
				fmt.Println(cli.InfoStyle.Render("No audit entries yet."))
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			defer w.Flush()

			headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
			fmt.Fprintf(w, "%s\t%s\t%s\n",
				headerStyle.Render("When"),
				headerStyle.Render("Event"),
				headerStyle.Render("Details"))
			fmt.Fprintf(w, "%s\t%s\t%s\n",
				strings.Repeat("-", 17),
				strings.Repeat("-", 24),
				strings.Repeat("-", 40))

			for i := range entries {
				e := &entries[i]
				fmt.Fprintf(w, "%s\t%s\t%s\n",
					e.CreatedAt.Local().Format("Jan 2, 2006 15:04"),
					e.Action,
					metadataLabel(e.Metadata))
			}

			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum entries to show")

	return cmd
}

func assistReviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "review",
		Short: "Review proposals interactively",
		Long:  `Open an interactive screen to browse, apply, and dismiss proposals.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			svc, adv, err := newAssistService(store)
			if err != nil {
				return err
			}
			defer adv.Close()

			return tui.RunReview(ctx, tui.ReviewConfig{
				Service: svc,
				OwnerID: ownerID(),
				Theme:   viper.GetString("ui.theme"),
			})
		},
	}
}

// parseProposalType maps a CLI argument to a proposal type.
func parseProposalType(arg string) (model.ProposalType, error) {
	switch strings.ToLower(arg) {
	case "recategorize", "recategorise":
		return model.ProposalRecategorize, nil
	case "savings", "savings_list", "savings-list":
		return model.ProposalSavingsList, nil
	default:
		return "", fmt.Errorf("unknown proposal type %q (use recategorize or savings)", arg)
	}
}

// resolveSubscriptionIDs expands short subscription IDs to full ones.
func resolveSubscriptionIDs(ctx context.Context, store subscriptionLookup, owner string, args []string) ([]string, error) {
	if len(args) == 0 {
		return nil, nil
	}
	ids := make([]string, len(args))
	for i, arg := range args {
		sub, err := resolveSubscription(ctx, store, owner, arg)
		if err != nil {
			return nil, err
		}
		ids[i] = sub.ID
	}
	return ids, nil
}

// proposalLister is the slice of the assistant needed to resolve proposal IDs.
type proposalLister interface {
	ListProposals(ctx context.Context, ownerID string) ([]model.Proposal, error)
}

// resolveProposalID expands a short proposal ID to a full one. Unmatched
// input passes through so the service can report its own not-found error.
func resolveProposalID(ctx context.Context, svc proposalLister, owner, arg string) (string, error) {
	proposals, err := svc.ListProposals(ctx, owner)
	if err != nil {
		return "", err
	}

	var match string
	for i := range proposals {
		if strings.HasPrefix(proposals[i].ID, arg) {
			if match != "" && match != proposals[i].ID {
				return "", fmt.Errorf("proposal ID %q is ambiguous", arg)
			}
			match = proposals[i].ID
		}
	}
	if match == "" {
		return arg, nil
	}
	return match, nil
}

// patchLister is the slice of the assistant needed to resolve patch IDs.
type patchLister interface {
	ListPatches(ctx context.Context, ownerID string) ([]model.Patch, error)
}

// resolvePatchID expands a short patch ID to a full one.
func resolvePatchID(ctx context.Context, svc patchLister, owner, arg string) (string, error) {
	patches, err := svc.ListPatches(ctx, owner)
	if err != nil {
		return "", err
	}

	var match string
	for i := range patches {
		if strings.HasPrefix(patches[i].ID, arg) {
			if match != "" && match != patches[i].ID {
				return "", fmt.Errorf("patch ID %q is ambiguous", arg)
			}
			match = patches[i].ID
		}
	}
	if match == "" {
		return arg, nil
	}
	return match, nil
}

// subscriptionNames returns an ID to name map for display.
func subscriptionNames(ctx context.Context, store subscriptionLookup, owner string) (map[string]string, error) {
	subs, err := store.GetSubscriptions(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to get subscriptions: %w", err)
	}
	names := make(map[string]string, len(subs))
	for i := range subs {
		names[subs[i].ID] = subs[i].Name
	}
	return names, nil
}

func nameOrID(names map[string]string, id string) string {
	if name, ok := names[id]; ok {
		return name
	}
	return shortID(id)
}

// renderExplainResult formats an explanation for the terminal.
func renderExplainResult(result *model.ExplainResult, names map[string]string) string {
	titles := map[string]string{
		model.TopicDuplicate:         "Possible duplicates",
		model.TopicYearlyVsMonthly:   "Yearly vs monthly",
		model.TopicCategoryRationale: "Category rationale",
	}
	title := titles[result.Topic]
	if title == "" {
		title = result.Topic
	}
	if result.Confidence != nil {
		title += fmt.Sprintf(" (%s confident)", confidenceLabel(result.Confidence))
	}

	if len(result.Items) == 0 {
		return cli.RenderBox(title, cli.SubtleStyle.Render("Nothing noteworthy found."))
	}

	var lines []string
	for i, item := range result.Items {
		if i > 0 {
			lines = append(lines, "")
		}
		head := item.Summary
		if item.SubscriptionID != "" {
			head = nameOrID(names, item.SubscriptionID) + ": " + item.Summary
		}
		lines = append(lines, "• "+head)
		if item.Rationale != "" {
			lines = append(lines, cli.SubtleStyle.Render("  "+item.Rationale))
		}
	}

	return cli.RenderBox(title, strings.Join(lines, "\n"))
}

// renderProposalDetail formats one proposal for the terminal.
func renderProposalDetail(p *model.Proposal) string {
	var lines []string
	lines = append(lines,
		fmt.Sprintf("%-12s %s", "ID:", p.ID),
		fmt.Sprintf("%-12s %s", "Status:", proposalStatusLabel(p.Status)),
		fmt.Sprintf("%-12s %s", "Type:", p.Type),
		fmt.Sprintf("%-12s %s", "Provider:", p.Provider),
		fmt.Sprintf("%-12s %s", "Confidence:", confidenceLabel(p.Confidence)),
		fmt.Sprintf("%-12s %s", "Expires:", p.ExpiresAt.Local().Format("Jan 2, 2006 15:04")))
	if p.Summary != "" {
		lines = append(lines, "", p.Summary)
	}

	if details := renderProposalPayload(p); details != "" {
		lines = append(lines, "", details)
	}

	return cli.RenderBox(p.Title, strings.Join(lines, "\n"))
}

func renderProposalPayload(p *model.Proposal) string {
	switch p.Type {
	case model.ProposalRecategorize:
		var payload model.RecategorizePayload
		if err := json.Unmarshal(p.Payload, &payload); err != nil {
			return cli.ErrorStyle.Render("Unreadable payload: " + err.Error())
		}
		lines := make([]string, 0, len(payload.Recommendations)*2)
		for _, rec := range payload.Recommendations {
			lines = append(lines, fmt.Sprintf("%s: %s → %s",
				shortID(rec.SubscriptionID),
				categoryLabel(rec.FromCategory),
				categoryLabel(rec.ToCategory)))
			if rec.Rationale != "" {
				lines = append(lines, cli.SubtleStyle.Render("  "+rec.Rationale))
			}
		}
		return strings.Join(lines, "\n")
	case model.ProposalSavingsList:
		var payload model.SavingsPayload
		if err := json.Unmarshal(p.Payload, &payload); err != nil {
			return cli.ErrorStyle.Render("Unreadable payload: " + err.Error())
		}
		lines := make([]string, 0, len(payload.Suggestions))
		var total float64
		for _, s := range payload.Suggestions {
			line := fmt.Sprintf("%s: %s", shortID(s.SubscriptionID), s.Suggestion)
			if s.EstimatedSavings != nil {
				line += fmt.Sprintf(" (saves %.2f/mo)", *s.EstimatedSavings)
				total += *s.EstimatedSavings
			}
			lines = append(lines, line)
		}
		if total > 0 {
			lines = append(lines, cli.SuccessStyle.Render(fmt.Sprintf("Estimated total: %.2f/mo", total)))
		}
		return strings.Join(lines, "\n")
	default:
		return ""
	}
}

func proposalStatusLabel(status model.ProposalStatus) string {
	switch status {
	case model.ProposalActive:
		return cli.SuccessStyle.Render(string(status))
	case model.ProposalDismissed, model.ProposalExpired:
		return cli.SubtleStyle.Render(string(status))
	case model.ProposalApplied:
		return cli.InfoStyle.Render(string(status))
	case model.ProposalRolledBack:
		return cli.WarningStyle.Render(string(status))
	default:
		return string(status)
	}
}

func confidenceLabel(confidence *float64) string {
	if confidence == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.0f%%", *confidence*100)
}

// metadataLabel renders audit metadata as sorted key=value pairs.
func metadataLabel(metadata map[string]any) string {
	if len(metadata) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, metadata[k])
	}
	return strings.Join(parts, " ")
}
