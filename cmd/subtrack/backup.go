package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/tmetzger/subtrack/internal/cli"
	"github.com/tmetzger/subtrack/internal/service"
	"github.com/tmetzger/subtrack/internal/storage"
)

func backupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Manage database backups",
		Long: `Create, list, restore, and delete database backups.

Backups snapshot your whole database before risky changes. Imports create
one automatically; restore rewinds everything to the snapshot.`,
	}

	cmd.AddCommand(backupCreateCmd())
	cmd.AddCommand(backupListCmd())
	cmd.AddCommand(backupRestoreCmd())
	cmd.AddCommand(backupDeleteCmd())

	return cmd
}

// newBackupManager opens storage and builds its backup manager. The caller
// owns the returned storage handle.
func newBackupManager(ctx context.Context) (service.Storage, *storage.BackupManager, error) {
	store, err := initStorage(ctx)
	if err != nil {
		return nil, nil, err
	}

	sqliteStore, ok := store.(*storage.SQLiteStorage)
	if !ok {
		store.Close()
		return nil, nil, fmt.Errorf("backups require SQLite storage")
	}

	manager, err := sqliteStore.NewBackupManager()
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("failed to create backup manager: %w", err)
	}
	return store, manager, nil
}

func backupCreateCmd() *cobra.Command {
	var tag string
	var description string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Snapshot the current database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			store, manager, err := newBackupManager(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			info, err := manager.Create(ctx, tag, description)
			if err != nil {
				return fmt.Errorf("failed to create backup: %w", err)
			}

			fmt.Println(cli.FormatSuccess(fmt.Sprintf("Created backup %s (%s)",
				info.ID, formatFileSize(info.FileSize))))
			if info.Description != "" {
				fmt.Printf("  Description: %s\n", info.Description)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&tag, "tag", "t", "", "Backup name (timestamped if omitted)")
	cmd.Flags().StringVarP(&description, "description", "d", "", "What this backup captures")

	return cmd
}

func backupListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all backups",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			store, manager, err := newBackupManager(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			backups, err := manager.List(ctx)
			if err != nil {
				return fmt.Errorf("failed to list backups: %w", err)
			}

			if len(backups) == 0 {
				fmt.Println(cli.InfoStyle.Render("No backups yet. Create one with 'subtrack backup create'."))
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			defer w.Flush()

			headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				headerStyle.Render("Name"),
				headerStyle.Render("Created"),
				headerStyle.Render("Size"),
				headerStyle.Render("Subscriptions"),
				headerStyle.Render("Proposals"),
				headerStyle.Render("Type"))

			for _, b := range backups {
				kind := "manual"
				if b.IsAuto {
					kind = "auto"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
					b.ID,
					formatRelativeTime(b.CreatedAt),
					formatFileSize(b.FileSize),
					b.Subscriptions,
					b.Proposals,
					kind)
			}
			return nil
		},
	}
}

func backupRestoreCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "restore <backup-name>",
		Short: "Replace the database with a snapshot",
		Long: `Rewind the whole database to a backup. Everything added or changed since
the snapshot is lost, including proposals, patches, and logs.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id := args[0]

			store, manager, err := newBackupManager(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			info, err := manager.GetInfo(ctx, id)
			if err != nil {
				return fmt.Errorf("failed to load backup info: %w", err)
			}

			// Confirm before mutating
			if !force {
				fmt.Println(cli.FormatWarning(fmt.Sprintf("This replaces your current database with backup %s.", id)))
				fmt.Printf("  Created: %s (%d subscriptions, %d proposals)\n",
					info.CreatedAt.Format("2006-01-02 15:04:05"), info.Subscriptions, info.Proposals)
				if info.Description != "" {
					fmt.Printf("  Description: %s\n", info.Description)
				}
				fmt.Printf("Continue? (y/N): ")
				var response string
				fmt.Scanln(&response)
				if strings.ToLower(response) != "y" {
					fmt.Println("Restore cancelled.")
					return nil
				}
			}

			if err := manager.Restore(ctx, id); err != nil {
				return fmt.Errorf("failed to restore backup: %w", err)
			}

			fmt.Println(cli.FormatSuccess(fmt.Sprintf("Restored database from backup %s", id)))
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Skip confirmation prompt")

	return cmd
}

func backupDeleteCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete <backup-name>",
		Short: "Delete a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id := args[0]

			store, manager, err := newBackupManager(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			info, err := manager.GetInfo(ctx, id)
			if err != nil {
				return fmt.Errorf("failed to load backup info: %w", err)
			}

			// Confirm before mutating
			if !force {
				fmt.Println(cli.FormatWarning(fmt.Sprintf("This permanently deletes backup %s (%s, created %s).",
					id, formatFileSize(info.FileSize), formatRelativeTime(info.CreatedAt))))
				fmt.Printf("Continue? (y/N): ")
				var response string
				fmt.Scanln(&response)
				if strings.ToLower(response) != "y" {
					fmt.Println("Deletion cancelled.")
					return nil
				}
			}

			if err := manager.Delete(ctx, id); err != nil {
				return fmt.Errorf("failed to delete backup: %w", err)
			}

			fmt.Println(cli.FormatSuccess(fmt.Sprintf("Deleted backup %s", id)))
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Skip confirmation prompt")

	return cmd
}

func formatFileSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}

func formatRelativeTime(t time.Time) string {
	duration := time.Since(t)

	switch {
	case duration < time.Minute:
		return "just now"
	case duration < time.Hour:
		minutes := int(duration.Minutes())
		if minutes == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", minutes)
	case duration < 24*time.Hour:
		hours := int(duration.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	case duration < 7*24*time.Hour:
		days := int(duration.Hours() / 24)
		if days == 1 {
			return "yesterday"
		}
		return fmt.Sprintf("%d days ago", days)
	default:
		return t.Format("2006-01-02 15:04")
	}
}
