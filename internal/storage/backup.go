package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Backup errors.
var (
	ErrBackupNotFound  = errors.New("backup not found")
	ErrBackupCorrupted = errors.New("backup integrity check failed")
	ErrBackupExists    = errors.New("backup already exists")
	ErrDiskSpaceLow    = errors.New("insufficient disk space for backup")
)

// maxAutoBackups bounds how many automatic pre-import snapshots are kept.
const maxAutoBackups = 5

// BackupManager snapshots the database file and restores from snapshots.
// Each backup is a standalone SQLite file next to a JSON metadata sidecar
// under <db dir>/backups.
type BackupManager struct {
	db         *sql.DB
	dbPath     string
	backupsDir string
}

// backupMetadata is the sidecar file written next to each snapshot.
type backupMetadata struct {
	CreatedAt     time.Time      `json:"created_at"`
	RowCounts     map[string]int `json:"row_counts"`
	ID            string         `json:"id"`
	Description   string         `json:"description"`
	FileSize      int64          `json:"file_size"`
	SchemaVersion int            `json:"schema_version"`
	IsAuto        bool           `json:"is_auto"`
}

// BackupInfo describes one backup for listing and confirmation prompts.
type BackupInfo struct {
	CreatedAt     time.Time
	ID            string
	Description   string
	FileSize      int64
	Subscriptions int
	Proposals     int
	Patches       int
	SchemaVersion int
	IsAuto        bool
}

// NewBackupManager creates the backup manager for this database.
func (s *SQLiteStorage) NewBackupManager() (*BackupManager, error) {
	backupsDir := filepath.Join(filepath.Dir(s.dbPath), "backups")
	if err := os.MkdirAll(backupsDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create backups directory: %w", err)
	}

	return &BackupManager{
		db:         s.db,
		dbPath:     s.dbPath,
		backupsDir: backupsDir,
	}, nil
}

// Create snapshots the current database under the given tag. An empty tag
// gets a timestamp-based name.
func (m *BackupManager) Create(ctx context.Context, tag, description string) (*BackupInfo, error) {
	return m.create(ctx, tag, description, false)
}

func (m *BackupManager) create(ctx context.Context, tag, description string, isAuto bool) (*BackupInfo, error) {
	if tag == "" {
		tag = fmt.Sprintf("backup-%s", time.Now().Format("2006-01-02-1504"))
	}
	if err := validateBackupTag(tag); err != nil {
		return nil, err
	}

	backupPath := filepath.Join(m.backupsDir, tag+".db")
	if _, err := os.Stat(backupPath); err == nil {
		return nil, ErrBackupExists
	}

	var schemaVersion int
	if err := m.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&schemaVersion); err != nil {
		return nil, fmt.Errorf("failed to get schema version: %w", err)
	}

	rowCounts := m.collectRowCounts(ctx)

	dbInfo, err := os.Stat(m.dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat database: %w", err)
	}
	if !m.hasEnoughDiskSpace(int64(float64(dbInfo.Size()) * 1.1)) {
		return nil, ErrDiskSpaceLow
	}

	if err := m.snapshotDatabase(ctx, backupPath); err != nil {
		return nil, fmt.Errorf("failed to snapshot database: %w", err)
	}

	backupInfo, err := os.Stat(backupPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat backup: %w", err)
	}

	metadata := backupMetadata{
		ID:            tag,
		CreatedAt:     time.Now(),
		Description:   description,
		FileSize:      backupInfo.Size(),
		RowCounts:     rowCounts,
		SchemaVersion: schemaVersion,
		IsAuto:        isAuto,
	}

	metadataPath := filepath.Join(m.backupsDir, tag+".meta.json")
	if err := saveBackupMetadata(metadataPath, metadata); err != nil {
		if rmErr := os.Remove(backupPath); rmErr != nil {
			slog.Error("failed to remove backup file after metadata save failure", "error", rmErr)
		}
		return nil, fmt.Errorf("failed to save backup metadata: %w", err)
	}

	slog.Debug("created backup", "id", tag, "size", metadata.FileSize, "auto", isAuto)
	return infoFromMetadata(&metadata), nil
}

// List returns all backups, newest first. Snapshots with unreadable
// metadata are skipped.
func (m *BackupManager) List(_ context.Context) ([]BackupInfo, error) {
	entries, err := os.ReadDir(m.backupsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read backups directory: %w", err)
	}

	backups := make([]BackupInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".meta.json") {
			continue
		}

		metadata, err := loadBackupMetadata(filepath.Join(m.backupsDir, entry.Name()))
		if err != nil {
			continue
		}
		backups = append(backups, *infoFromMetadata(metadata))
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].CreatedAt.After(backups[j].CreatedAt)
	})
	return backups, nil
}

// GetInfo returns one backup's metadata.
func (m *BackupManager) GetInfo(_ context.Context, id string) (*BackupInfo, error) {
	if err := validateBackupTag(id); err != nil {
		return nil, err
	}

	metadata, err := loadBackupMetadata(filepath.Join(m.backupsDir, id+".meta.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrBackupNotFound
		}
		return nil, fmt.Errorf("failed to load backup metadata: %w", err)
	}
	return infoFromMetadata(metadata), nil
}

// Restore replaces the live database file with the named snapshot. The
// database connection is closed in the process; the caller must reopen
// storage afterwards.
func (m *BackupManager) Restore(_ context.Context, id string) error {
	if err := validateBackupTag(id); err != nil {
		return err
	}

	backupPath := filepath.Join(m.backupsDir, id+".db")
	if _, err := os.Stat(backupPath); err != nil {
		if os.IsNotExist(err) {
			return ErrBackupNotFound
		}
		return fmt.Errorf("failed to access backup: %w", err)
	}

	if _, err := loadBackupMetadata(filepath.Join(m.backupsDir, id+".meta.json")); err != nil {
		return fmt.Errorf("failed to load backup metadata: %w", err)
	}

	if err := verifyBackupIntegrity(backupPath); err != nil {
		return fmt.Errorf("%w: %v", ErrBackupCorrupted, err)
	}

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	// Keep the replaced database until the copy lands.
	safetyPath := m.dbPath + ".restore-backup"
	if err := copyFileAtomic(m.dbPath, safetyPath); err != nil {
		return fmt.Errorf("failed to back up current database: %w", err)
	}

	if err := copyFileAtomic(backupPath, m.dbPath); err != nil {
		if undoErr := copyFileAtomic(safetyPath, m.dbPath); undoErr != nil {
			slog.Error("failed to restore previous database after failed restore", "error", undoErr)
		}
		return fmt.Errorf("failed to restore backup: %w", err)
	}

	// Stale WAL sidecars belong to the replaced file, not the restored one.
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(m.dbPath + suffix); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to remove WAL sidecar", "error", err, "path", m.dbPath+suffix)
		}
	}

	if err := os.Remove(safetyPath); err != nil {
		slog.Warn("failed to remove restore safety copy", "error", err, "path", safetyPath)
	}

	slog.Info("restored database from backup", "id", id)
	return nil
}

// Delete removes a backup and its metadata.
func (m *BackupManager) Delete(_ context.Context, id string) error {
	if err := validateBackupTag(id); err != nil {
		return err
	}

	backupPath := filepath.Join(m.backupsDir, id+".db")
	if _, err := os.Stat(backupPath); err != nil {
		if os.IsNotExist(err) {
			return ErrBackupNotFound
		}
		return fmt.Errorf("failed to access backup: %w", err)
	}

	if err := os.Remove(backupPath); err != nil {
		return fmt.Errorf("failed to remove backup file: %w", err)
	}
	if err := os.Remove(filepath.Join(m.backupsDir, id+".meta.json")); err != nil && !os.IsNotExist(err) {
		slog.Debug("failed to remove backup metadata", "error", err, "id", id)
	}

	slog.Debug("deleted backup", "id", id)
	return nil
}

// AutoBackup snapshots the database under an auto-<prefix>-<timestamp> tag
// and prunes older automatic snapshots beyond the retained count.
func (m *BackupManager) AutoBackup(ctx context.Context, prefix string) error {
	tag := fmt.Sprintf("auto-%s-%s", prefix, time.Now().Format("2006-01-02-150405"))
	description := fmt.Sprintf("Automatic backup before %s", prefix)

	if _, err := m.create(ctx, tag, description, true); err != nil {
		return fmt.Errorf("failed to create automatic backup: %w", err)
	}

	if err := m.pruneAutoBackups(ctx); err != nil {
		slog.Warn("failed to prune old automatic backups", "error", err)
	}
	return nil
}

func (m *BackupManager) pruneAutoBackups(ctx context.Context) error {
	backups, err := m.List(ctx)
	if err != nil {
		return err
	}

	autoSeen := 0
	for _, b := range backups {
		if !b.IsAuto {
			continue
		}
		autoSeen++
		if autoSeen <= maxAutoBackups {
			continue
		}
		if err := m.Delete(ctx, b.ID); err != nil {
			slog.Debug("failed to delete old automatic backup", "error", err, "id", b.ID)
		}
	}
	return nil
}

func (m *BackupManager) collectRowCounts(ctx context.Context) map[string]int {
	counts := make(map[string]int)
	tableQueries := map[string]string{
		"subscriptions": "SELECT COUNT(*) FROM subscriptions",
		"proposals":     "SELECT COUNT(*) FROM proposals",
		"patches":       "SELECT COUNT(*) FROM patches",
	}

	for table, query := range tableQueries {
		var count int
		if err := m.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
			counts[table] = 0
			continue
		}
		counts[table] = count
	}
	return counts
}

func (m *BackupManager) hasEnoughDiskSpace(required int64) bool {
	// Probe by growing a scratch file to the required size.
	probe := filepath.Join(m.backupsDir, ".space-probe")
	f, err := os.Create(probe)
	if err != nil {
		return false
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			slog.Debug("failed to close space probe", "error", closeErr)
		}
		if rmErr := os.Remove(probe); rmErr != nil {
			slog.Debug("failed to remove space probe", "error", rmErr)
		}
	}()

	return f.Truncate(required) == nil
}

// snapshotDatabase copies the live database to destPath. VACUUM INTO gives
// an atomic, compacted copy; older SQLite builds fall back to a file copy
// after the WAL is flushed.
func (m *BackupManager) snapshotDatabase(ctx context.Context, destPath string) error {
	if _, err := m.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("failed to checkpoint WAL: %w", err)
	}

	if strings.ContainsAny(destPath, `'";`) || strings.Contains(destPath, "..") {
		return fmt.Errorf("invalid backup destination path")
	}
	query := fmt.Sprintf("VACUUM INTO '%s'", destPath)
	if _, err := m.db.ExecContext(ctx, query); err != nil {
		return copyFileAtomic(m.dbPath, destPath)
	}
	return nil
}

func verifyBackupIntegrity(path string) error {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Debug("failed to close backup database", "error", closeErr)
		}
	}()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return err
	}
	if result != "ok" {
		return fmt.Errorf("integrity check reported: %s", result)
	}
	return nil
}

// validateBackupTag rejects tags that could escape the backups directory.
func validateBackupTag(tag string) error {
	if strings.TrimSpace(tag) == "" {
		return fmt.Errorf("%w: backup tag", ErrEmptyString)
	}
	if strings.ContainsAny(tag, `/\`) || strings.Contains(tag, "..") {
		return errors.New("invalid backup tag: cannot contain path separators")
	}
	return nil
}

func copyFileAtomic(src, dst string) error {
	cleanSrc := filepath.Clean(src)
	if strings.Contains(src, "..") || strings.Contains(dst, "..") {
		return fmt.Errorf("invalid file paths")
	}

	source, err := os.Open(cleanSrc)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := source.Close(); closeErr != nil {
			slog.Debug("failed to close source file", "error", closeErr)
		}
	}()

	tmpDst := dst + ".tmp"
	destination, err := os.Create(tmpDst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(destination, source); err != nil {
		if closeErr := destination.Close(); closeErr != nil {
			slog.Debug("failed to close destination after copy error", "error", closeErr)
		}
		if rmErr := os.Remove(tmpDst); rmErr != nil {
			slog.Debug("failed to remove temporary file after copy error", "error", rmErr)
		}
		return err
	}
	if err := destination.Close(); err != nil {
		if rmErr := os.Remove(tmpDst); rmErr != nil {
			slog.Debug("failed to remove temporary file after close error", "error", rmErr)
		}
		return err
	}

	return os.Rename(tmpDst, dst)
}

func saveBackupMetadata(path string, metadata backupMetadata) error {
	data, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return err
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

func loadBackupMetadata(path string) (*backupMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var metadata backupMetadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil, err
	}
	return &metadata, nil
}

func infoFromMetadata(metadata *backupMetadata) *BackupInfo {
	return &BackupInfo{
		ID:            metadata.ID,
		CreatedAt:     metadata.CreatedAt,
		Description:   metadata.Description,
		FileSize:      metadata.FileSize,
		Subscriptions: metadata.RowCounts["subscriptions"],
		Proposals:     metadata.RowCounts["proposals"],
		Patches:       metadata.RowCounts["patches"],
		SchemaVersion: metadata.SchemaVersion,
		IsAuto:        metadata.IsAuto,
	}
}
