package lifecycle

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// BackupManager snapshots the store's backing file before structural changes.
type BackupManager struct {
	dbPath    string
	backupDir string
	now       func() time.Time
}

// NewBackupManager creates a backup manager for the given database file.
// Backups are written to backupDir, or next to the database file when empty.
func NewBackupManager(dbPath, backupDir string) *BackupManager {
	if backupDir == "" {
		backupDir = filepath.Dir(dbPath)
	}
	return &BackupManager{
		dbPath:    dbPath,
		backupDir: backupDir,
		now:       time.Now,
	}
}

// Backup copies the database file to a timestamped sibling path and returns
// it. A missing source file is not an error: a fresh deployment has nothing
// to lose yet, so Backup returns ("", nil) and the upgrade proceeds.
func (b *BackupManager) Backup(beforeVersion, afterVersion string) (string, error) {
	src, err := os.Open(b.dbPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("open database for backup: %w", err)
	}
	defer src.Close()

	if err := os.MkdirAll(b.backupDir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}

	name := fmt.Sprintf("%s.backup-%s-v%s-to-v%s",
		filepath.Base(b.dbPath),
		b.now().Format("20060102-150405"),
		beforeVersion, afterVersion,
	)
	dstPath := filepath.Join(b.backupDir, name)

	dst, err := os.Create(dstPath)
	if err != nil {
		return "", fmt.Errorf("create backup file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		_ = os.Remove(dstPath)
		return "", fmt.Errorf("copy database to backup: %w", err)
	}
	return dstPath, nil
}
