package tui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
)

// ReviewConfig holds the dependencies for the interactive proposal review.
type ReviewConfig struct {
	Service ReviewService
	OwnerID string
	Theme   string
}

func (c ReviewConfig) validate() error {
	if c.Service == nil {
		return fmt.Errorf("service is required")
	}
	if c.OwnerID == "" {
		return fmt.Errorf("owner ID is required")
	}
	return nil
}

// RunReview starts the interactive proposal review and blocks until the
// user quits or ctx is cancelled.
func RunReview(ctx context.Context, cfg ReviewConfig) error {
	if err := cfg.validate(); err != nil {
		return fmt.Errorf("invalid review config: %w", err)
	}

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Restore the terminal on any exit. Bubbletea does this itself on a
	// clean quit, but a kill or panic can leave the alternate screen
	// active and the cursor hidden.
	cleanupTerminal := func() {
		// Ignore errors as this is best-effort cleanup
		_, _ = os.Stdout.Write([]byte("\033[?1049l")) // Exit alternate screen
		_, _ = os.Stdout.Write([]byte("\033[?25h"))   // Show cursor
		_, _ = os.Stdout.Write([]byte("\033[m"))      // Reset colors
		_, _ = os.Stdout.Write([]byte("\033[?1000l")) // Disable mouse
	}
	defer cleanupTerminal()

	go func() {
		select {
		case <-sigChan:
			cleanupTerminal()
			cancel()
		case <-ctx.Done():
		}
	}()

	p := tea.NewProgram(newModel(ctx, cfg), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("review ui failed: %w", err)
	}
	return nil
}
