package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/tmetzger/subtrack/internal/model"
)

// ReviewStats summarizes an interactive candidate review session.
type ReviewStats struct {
	Duration time.Duration
	Reviewed int
	Accepted int
	Edited   int
	Skipped  int
}

type reviewOutcome int

const (
	reviewAccepted reviewOutcome = iota
	reviewEdited
	reviewSkipped
)

// Prompter implements the interactive review flow for detected subscription
// candidates.
type Prompter struct {
	startTime        time.Time
	writer           io.Writer
	reader           *NonBlockingReader
	progressBar      *progressbar.ProgressBar
	recentCategories []string
	stats            ReviewStats
	totalCandidates  int
	statsMutex       sync.RWMutex
	historyMutex     sync.RWMutex
}

// NewCLIPrompter creates a new CLI prompter with the given reader and writer.
func NewCLIPrompter(reader io.Reader, writer io.Writer) *Prompter {
	if reader == nil {
		reader = os.Stdin
	}
	if writer == nil {
		writer = os.Stdout
	}

	return &Prompter{
		reader:    NewNonBlockingReader(reader),
		writer:    writer,
		startTime: time.Now(),
	}
}

// ReviewCandidates walks the user through each candidate in turn and returns
// the subscriptions they chose to track.
func (p *Prompter) ReviewCandidates(ctx context.Context, candidates []model.SubscriptionCandidate, ownerID string) ([]model.Subscription, error) {
	if len(candidates) == 0 {
		return []model.Subscription{}, nil
	}

	p.SetTotalCandidates(len(candidates))

	accepted := make([]model.Subscription, 0, len(candidates))
	for i, candidate := range candidates {
		if _, err := fmt.Fprintf(p.writer, "\n[%d/%d] ", i+1, len(candidates)); err != nil {
			slog.Warn("Failed to write progress", "error", err)
		}

		sub, err := p.ReviewCandidate(ctx, candidate, ownerID)
		if err != nil {
			return nil, err
		}
		if sub != nil {
			accepted = append(accepted, *sub)
		}

		p.updateProgress()
	}

	return accepted, nil
}

// ReviewCandidate prompts the user to decide on a single candidate. A nil
// subscription means the candidate was skipped.
func (p *Prompter) ReviewCandidate(ctx context.Context, candidate model.SubscriptionCandidate, ownerID string) (*model.Subscription, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	content := p.formatCandidate(candidate)
	if _, err := fmt.Fprintln(p.writer, RenderBox("Recurring Charge", content)); err != nil {
		return nil, fmt.Errorf("failed to write candidate box: %w", err)
	}

	if _, err := fmt.Fprintln(p.writer, FormatPrompt("Options:")); err != nil {
		return nil, fmt.Errorf("failed to write options prompt: %w", err)
	}
	if _, err := fmt.Fprintln(p.writer, "  [A] Track as subscription"); err != nil {
		return nil, fmt.Errorf("failed to write track option: %w", err)
	}
	if _, err := fmt.Fprintln(p.writer, "  [T] Track as trial"); err != nil {
		return nil, fmt.Errorf("failed to write trial option: %w", err)
	}
	if _, err := fmt.Fprintln(p.writer, "  [C] Track with a different category"); err != nil {
		return nil, fmt.Errorf("failed to write category option: %w", err)
	}
	if _, err := fmt.Fprintln(p.writer, "  [S] Skip"); err != nil {
		return nil, fmt.Errorf("failed to write skip option: %w", err)
	}
	if _, err := fmt.Fprintln(p.writer); err != nil {
		return nil, fmt.Errorf("failed to write newline: %w", err)
	}

	choice, err := p.promptChoice(ctx, "Choice [A/T/C/S]", []string{"a", "t", "c", "s"})
	if err != nil {
		return nil, err
	}

	switch choice {
	case "a", "t":
		sub := candidate.ToSubscription(ownerID)
		sub.IsTrial = choice == "t"
		p.trackCategory(candidate.CategoryGuess)
		p.incrementStats(reviewAccepted)

		msg := fmt.Sprintf("Tracking %s at %.2f %s %s",
			sub.Name, sub.Amount, sub.Currency, strings.ToLower(string(sub.Interval)))
		if sub.IsTrial {
			msg += " (trial)"
		}
		if _, err := fmt.Fprintln(p.writer, FormatSuccess(msg)); err != nil {
			slog.Warn("Failed to write success message", "error", err)
		}
		return &sub, nil

	case "c":
		category, err := p.promptCustomCategory(ctx)
		if err != nil {
			return nil, err
		}
		sub := candidate.ToSubscription(ownerID)
		sub.Category = &category
		p.trackCategory(category)
		p.incrementStats(reviewEdited)

		if _, err := fmt.Fprintln(p.writer, FormatSuccess(fmt.Sprintf("Tracking %s under %s",
			sub.Name, category))); err != nil {
			slog.Warn("Failed to write success message", "error", err)
		}
		return &sub, nil

	default: // "s"
		p.incrementStats(reviewSkipped)
		if _, err := fmt.Fprintln(p.writer, SubtleStyle.Render("Skipped "+candidate.Name)); err != nil {
			slog.Warn("Failed to write skip message", "error", err)
		}
		return nil, nil
	}
}

// GetReviewStats returns statistics about the review session.
func (p *Prompter) GetReviewStats() ReviewStats {
	p.statsMutex.RLock()
	defer p.statsMutex.RUnlock()

	stats := p.stats
	stats.Duration = time.Since(p.startTime)
	return stats
}

// SetTotalCandidates sets the total number of candidates to be reviewed.
func (p *Prompter) SetTotalCandidates(total int) {
	p.totalCandidates = total
	p.initProgressBar()
}

// ShowCompletion displays the review summary to the user.
func (p *Prompter) ShowCompletion() {
	if p.progressBar != nil {
		if err := p.progressBar.Finish(); err != nil {
			slog.Warn("Failed to finish progress bar", "error", err)
		}
		if _, err := fmt.Fprintln(p.writer); err != nil {
			slog.Warn("Failed to write newline", "error", err)
		}
	}

	stats := p.GetReviewStats()

	summary := fmt.Sprintf("%s Review Complete!\n\n", AppIcon) +
		fmt.Sprintf("%s Statistics:\n", ChartIcon) +
		fmt.Sprintf("  • Candidates reviewed: %d\n", stats.Reviewed) +
		fmt.Sprintf("  • Tracked: %d\n", stats.Accepted) +
		fmt.Sprintf("  • Tracked with edits: %d\n", stats.Edited) +
		fmt.Sprintf("  • Skipped: %d\n", stats.Skipped) +
		fmt.Sprintf("  • Time taken: %s\n", stats.Duration.Round(time.Second))

	if _, err := fmt.Fprintln(p.writer, RenderBox("Review Complete", summary)); err != nil {
		slog.Warn("Failed to write completion box", "error", err)
	}
}

func (p *Prompter) initProgressBar() {
	p.progressBar = progressbar.NewOptions(p.totalCandidates,
		progressbar.OptionSetWriter(p.writer),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[cyan][bold]Reviewing candidates...[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			if _, err := fmt.Fprintln(p.writer); err != nil {
				slog.Warn("Failed to write newline after progress bar", "error", err)
			}
		}),
	)
}

func (p *Prompter) updateProgress() {
	if p.progressBar != nil {
		if err := p.progressBar.Add(1); err != nil {
			slog.Warn("Failed to update progress bar", "error", err)
		}
	}
}

func (p *Prompter) formatCandidate(c model.SubscriptionCandidate) string {
	header := TitleStyle.Render(fmt.Sprintf("Candidate: %s", c.Name))

	details := fmt.Sprintf("%s Details:\n", InfoIcon) +
		fmt.Sprintf("  Amount: %.2f %s %s\n", c.Amount, c.Currency, strings.ToLower(string(c.Interval))) +
		fmt.Sprintf("  Charges seen: %d (%s to %s)\n",
			c.Occurrences,
			c.FirstSeen.Format("Jan 2, 2006"),
			c.LastSeen.Format("Jan 2, 2006")) +
		fmt.Sprintf("  Next renewal: %s\n", c.NextBillingDate.Format("Jan 2, 2006")) +
		fmt.Sprintf("  Source: %s, account %s\n", c.Source, c.AccountID)

	var suggestion string
	if c.CategoryGuess != "" {
		suggestion = fmt.Sprintf("\n%s Suggested category: %s",
			RobotIcon,
			SuccessStyle.Render(c.CategoryGuess))
	}

	return header + "\n\n" + details + suggestion
}

func (p *Prompter) trackCategory(category string) {
	if category == "" {
		return
	}

	p.historyMutex.Lock()
	defer p.historyMutex.Unlock()

	p.recentCategories = append([]string{category}, p.recentCategories...)
	if len(p.recentCategories) > 10 {
		p.recentCategories = p.recentCategories[:10]
	}
}

func (p *Prompter) promptChoice(ctx context.Context, prompt string, validChoices []string) (string, error) {
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		if _, err := fmt.Fprint(p.writer, FormatPrompt(prompt)); err != nil {
			return "", fmt.Errorf("failed to write prompt: %w", err)
		}

		input, err := p.reader.ReadLine(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", fmt.Errorf("input terminated")
			}
			return "", err
		}

		choice := strings.ToLower(input)

		for _, valid := range validChoices {
			if choice == valid {
				return choice, nil
			}
		}

		if _, err := fmt.Fprintln(p.writer, FormatError("Invalid choice. Please try again.")); err != nil {
			slog.Warn("Failed to write error message", "error", err)
		}
	}
}

func (p *Prompter) promptCustomCategory(ctx context.Context) (string, error) {
	if _, err := fmt.Fprintln(p.writer); err != nil {
		return "", fmt.Errorf("failed to write newline: %w", err)
	}

	p.historyMutex.RLock()
	recent := make([]string, len(p.recentCategories))
	copy(recent, p.recentCategories)
	p.historyMutex.RUnlock()

	if len(recent) > 0 {
		if _, err := fmt.Fprintln(p.writer, FormatInfo("Recent categories:")); err != nil {
			return "", fmt.Errorf("failed to write recent categories header: %w", err)
		}
		seen := make(map[string]bool)
		for _, cat := range recent {
			if !seen[cat] {
				if _, err := fmt.Fprintf(p.writer, "  • %s\n", cat); err != nil {
					slog.Warn("Failed to write recent category", "error", err)
				}
				seen[cat] = true
			}
		}
		if _, err := fmt.Fprintln(p.writer); err != nil {
			return "", fmt.Errorf("failed to write newline after categories: %w", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		if _, err := fmt.Fprint(p.writer, FormatPrompt("Enter category")); err != nil {
			return "", fmt.Errorf("failed to write category prompt: %w", err)
		}

		category, err := p.reader.ReadLine(ctx)
		if err != nil {
			return "", err
		}

		if category == "" {
			if _, err := fmt.Fprintln(p.writer, FormatError("Category cannot be empty. Please try again.")); err != nil {
				slog.Warn("Failed to write empty category error", "error", err)
			}
			continue
		}

		return category, nil
	}
}

func (p *Prompter) incrementStats(outcome reviewOutcome) {
	p.statsMutex.Lock()
	defer p.statsMutex.Unlock()

	p.stats.Reviewed++

	switch outcome {
	case reviewAccepted:
		p.stats.Accepted++
	case reviewEdited:
		p.stats.Edited++
	case reviewSkipped:
		p.stats.Skipped++
	}
}
