package configstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	// MaxBackups is the number of corrupt-document backups kept per file.
	MaxBackups = 3

	// BackupSuffix separates the document path from the backup timestamp.
	BackupSuffix = ".corrupt"

	backupTimeFormat = "20060102-150405.000"
)

// backupCorrupt writes data next to path as <path>.corrupt.<timestamp> and
// prunes older backups. Returns the backup path.
func backupCorrupt(path string, data []byte, now time.Time) (string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	base := fmt.Sprintf("%s%s.%s", path, BackupSuffix, now.UTC().Format(backupTimeFormat))
	backupPath := base
	for i := 1; fileExists(backupPath); i++ {
		backupPath = fmt.Sprintf("%s-%d", base, i)
	}

	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write backup: %w", err)
	}

	// Best effort; the backup itself succeeded.
	_ = pruneBackups(path)

	return backupPath, nil
}

// ListBackups returns the corrupt-document backups for path, newest first.
func ListBackups(path string) ([]string, error) {
	dir := filepath.Dir(path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list config directory: %w", err)
	}

	prefix := filepath.Base(path) + BackupSuffix + "."
	var backups []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		backups = append(backups, filepath.Join(dir, entry.Name()))
	}

	// Timestamps sort lexically.
	sort.Sort(sort.Reverse(sort.StringSlice(backups)))
	return backups, nil
}

func pruneBackups(path string) error {
	backups, err := ListBackups(path)
	if err != nil {
		return err
	}
	if len(backups) <= MaxBackups {
		return nil
	}
	for _, old := range backups[MaxBackups:] {
		_ = os.Remove(old)
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
