package tui

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/tmetzger/subtrack/internal/model"
	"github.com/tmetzger/subtrack/internal/tui/themes"
)

// View renders the current screen.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return m.renderLoading()
	}

	switch m.state {
	case stateDetail:
		return m.renderDetail()
	case stateHelp:
		return m.renderHelp()
	default:
		return m.renderList()
	}
}

// renderLoading renders the initial loading screen.
func (m Model) renderLoading() string {
	content := lipgloss.JoinVertical(
		lipgloss.Center,
		m.theme.Title.Render("Subtrack Assistant"),
		"",
		m.spinner.View()+" Loading proposals...",
	)
	if m.width == 0 || m.height == 0 {
		return content
	}
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, content)
}

// renderList renders the proposal list screen.
func (m Model) renderList() string {
	var b strings.Builder

	b.WriteString(m.theme.Title.Render("Assistant Proposals"))
	b.WriteString("\n")
	b.WriteString(m.theme.Subtitle.Render(fmt.Sprintf("%d proposal(s) for %s", len(m.proposals), m.ownerID)))
	b.WriteString("\n\n")

	if len(m.proposals) == 0 {
		b.WriteString(m.theme.StatusPending.Render("Nothing to review. Run `subtrack assist propose` to generate suggestions."))
		b.WriteString("\n")
	}

	for i, p := range m.proposals {
		row := fmt.Sprintf("%s %-11s %-12s %-44s %s · %s",
			themes.GetStatusIcon(string(p.Status)),
			p.Status,
			p.Type,
			truncate(p.Title, 44),
			fmtConfidence(p.Confidence),
			fmtExpiry(p.ExpiresAt, time.Now()),
		)
		if i == m.cursor {
			b.WriteString(m.theme.Selected.Render("> " + row))
		} else {
			b.WriteString(m.theme.Normal.Render("  " + row))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.renderFooter())
	return m.theme.Box.Render(b.String())
}

// renderDetail renders the selected proposal in full.
func (m Model) renderDetail() string {
	p := m.selected
	if p == nil {
		return m.renderList()
	}

	var b strings.Builder
	b.WriteString(m.theme.Title.Render(p.Title))
	b.WriteString("\n")

	fields := []struct {
		label string
		value string
	}{
		{"Status", themes.GetStatusIcon(string(p.Status)) + " " + string(p.Status)},
		{"Type", string(p.Type)},
		{"Provider", p.Provider},
		{"Confidence", fmtConfidence(p.Confidence)},
		{"Created", p.CreatedAt.Local().Format("Jan 2, 2006 15:04")},
		{"Expires", p.ExpiresAt.Local().Format("Jan 2, 2006 15:04")},
	}
	for _, f := range fields {
		b.WriteString(m.theme.Bold.Render(fmt.Sprintf("%-12s", f.label+":")))
		b.WriteString(m.theme.Normal.Render(f.value))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	if p.Summary != "" {
		b.WriteString(m.theme.Italic.Render(p.Summary))
		b.WriteString("\n\n")
	}

	b.WriteString(m.renderPayload(p))
	b.WriteString("\n")
	b.WriteString(m.renderFooter())
	return m.theme.Box.Render(b.String())
}

// renderPayload renders the type-specific body of a proposal.
func (m Model) renderPayload(p *model.Proposal) string {
	switch p.Type {
	case model.ProposalRecategorize:
		var payload model.RecategorizePayload
		if err := json.Unmarshal(p.Payload, &payload); err != nil {
			return m.theme.StatusError.Render("Unreadable payload: " + err.Error())
		}
		var b strings.Builder
		b.WriteString(m.theme.Bold.Render(fmt.Sprintf("Recommendations (%d)", len(payload.Recommendations))))
		b.WriteString("\n")
		for _, rec := range payload.Recommendations {
			b.WriteString(m.theme.Normal.Render(fmt.Sprintf("  %s: %s → %s",
				rec.SubscriptionID, fmtCategory(rec.FromCategory), fmtCategory(rec.ToCategory))))
			b.WriteString("\n")
			if rec.Rationale != "" {
				b.WriteString(m.theme.StatusPending.Render("    " + rec.Rationale))
				b.WriteString("\n")
			}
		}
		return b.String()

	case model.ProposalSavingsList:
		var payload model.SavingsPayload
		if err := json.Unmarshal(p.Payload, &payload); err != nil {
			return m.theme.StatusError.Render("Unreadable payload: " + err.Error())
		}
		var b strings.Builder
		b.WriteString(m.theme.Bold.Render(fmt.Sprintf("Suggestions (%d)", len(payload.Suggestions))))
		b.WriteString("\n")
		var total float64
		var haveTotal bool
		for _, s := range payload.Suggestions {
			line := fmt.Sprintf("  %s: %s", s.SubscriptionID, s.Suggestion)
			if s.EstimatedSavings != nil {
				line += fmt.Sprintf(" (saves %.2f/mo)", *s.EstimatedSavings)
				total += *s.EstimatedSavings
				haveTotal = true
			}
			b.WriteString(m.theme.Normal.Render(line))
			b.WriteString("\n")
			if s.Rationale != "" {
				b.WriteString(m.theme.StatusPending.Render("    " + s.Rationale))
				b.WriteString("\n")
			}
		}
		if haveTotal {
			b.WriteString(m.theme.StatusSuccess.Render(fmt.Sprintf("  Estimated total: %.2f/mo", total)))
			b.WriteString("\n")
		}
		return b.String()

	default:
		return m.theme.StatusPending.Render("No details for this proposal type.")
	}
}

// renderHelp renders the full key binding reference.
func (m Model) renderHelp() string {
	var b strings.Builder
	b.WriteString(m.theme.Title.Render("Help"))
	b.WriteString("\n")

	titles := []string{"Navigation", "Actions", "Application"}
	for i, group := range m.keymap.FullHelp() {
		if i < len(titles) {
			b.WriteString(m.theme.Subtitle.Render(titles[i]))
			b.WriteString("\n")
		}
		for _, binding := range group {
			b.WriteString("  ")
			b.WriteString(m.theme.Code.Render(fmt.Sprintf("%-10s", binding.Help().Key)))
			b.WriteString("  ")
			b.WriteString(m.theme.Normal.Render(binding.Help().Desc))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString(m.theme.StatusPending.Render("Press ? or esc to return."))
	return m.theme.Box.Render(b.String())
}

// renderFooter renders the shared status and hint lines.
func (m Model) renderFooter() string {
	var parts []string
	if m.busy {
		parts = append(parts, m.theme.StatusInfo.Render(m.spinner.View()+" Working..."))
	}
	if m.lastError != nil {
		parts = append(parts, m.theme.StatusError.Render("Error: "+m.lastError.Error()))
	} else if m.notice != "" {
		parts = append(parts, m.theme.StatusSuccess.Render(m.notice))
	}
	parts = append(parts, m.theme.StatusPending.Render(m.renderShortHelp()))
	return strings.Join(parts, "\n")
}

func (m Model) renderShortHelp() string {
	hints := make([]string, 0, len(m.keymap.ShortHelp()))
	for _, b := range m.keymap.ShortHelp() {
		hints = append(hints, b.Help().Key+" "+b.Help().Desc)
	}
	return strings.Join(hints, " • ")
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

func fmtConfidence(c *float64) string {
	if c == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.0f%%", *c*100)
}

func fmtExpiry(expiresAt, now time.Time) string {
	remaining := expiresAt.Sub(now)
	if remaining <= 0 {
		return "expired"
	}
	if remaining >= 24*time.Hour {
		return fmt.Sprintf("expires in %dd", int(remaining.Hours()/24))
	}
	return fmt.Sprintf("expires in %dh", int(remaining.Hours()))
}

func fmtCategory(c *string) string {
	if c == nil || *c == "" {
		return "Uncategorized"
	}
	return *c
}
