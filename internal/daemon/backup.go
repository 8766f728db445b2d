package daemon

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"oakci/internal/config"
	"oakci/internal/logging"
	"oakci/internal/store"
)

// BackupPath returns this machine's backup file under .oak/ci-history. Each
// machine writes its own file so restores across machines never clobber each
// other.
func (a *App) BackupPath() string {
	return filepath.Join(config.BackupDir(a.ProjectRoot), a.Store.MachineID()+".sql")
}

// CreateBackup exports the history dump to the machine's backup file. The
// write goes through a temp file so a crash never leaves a torn backup.
func (a *App) CreateBackup() (string, error) {
	dir := config.BackupDir(a.ProjectRoot)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	path := a.BackupPath()
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("failed to create backup file: %w", err)
	}

	includeActivities := a.Config().Backup.IncludeActivities
	if err := a.Store.ExportSQL(f, includeActivities); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("backup export failed: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", err
	}
	logging.Backup("Backup written: %s", path)
	return path, nil
}

// RestoreBackup imports a history dump and replays its resolution events so
// observation statuses converge. Returns rows imported and events replayed.
func (a *App) RestoreBackup(r io.Reader) (imported, replayed int, err error) {
	br := bufio.NewReader(r)
	if err := store.ValidateBackupHeader(br); err != nil {
		return 0, 0, err
	}
	imported, err = a.Store.ImportSQL(br)
	if err != nil {
		return imported, 0, fmt.Errorf("backup import failed: %w", err)
	}
	replayed, err = a.Processor.ReplayResolutionEvents()
	if err != nil {
		return imported, replayed, fmt.Errorf("resolution replay failed: %w", err)
	}
	logging.Backup("Backup restored: %d rows, %d events replayed", imported, replayed)
	return imported, replayed, nil
}

// RestoreBackupFile restores from a file path, defaulting to this machine's
// own backup file when path is empty.
func (a *App) RestoreBackupFile(path string) (int, int, error) {
	if path == "" {
		path = a.BackupPath()
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to open backup: %w", err)
	}
	defer f.Close()
	return a.RestoreBackup(f)
}

// BackupStatus summarizes the backup files present for the status route.
func (a *App) BackupStatus() map[string]interface{} {
	c := a.Config()
	status := map[string]interface{}{
		"enabled":          c.Backup.Enabled,
		"interval_minutes": c.Backup.IntervalMinutes,
		"directory":        config.BackupDir(a.ProjectRoot),
		"machine_id":       a.Store.MachineID(),
	}
	if last := a.LastAutoBackup(); !last.IsZero() {
		status["last_auto_backup"] = last.UTC().Format(time.RFC3339)
	}

	var files []map[string]interface{}
	entries, err := os.ReadDir(config.BackupDir(a.ProjectRoot))
	if err == nil {
		for _, entry := range entries {
			if entry.IsDir() || filepath.Ext(entry.Name()) != ".sql" {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			files = append(files, map[string]interface{}{
				"name":         entry.Name(),
				"size_bytes":   info.Size(),
				"modified_at":  info.ModTime().UTC().Format(time.RFC3339),
				"this_machine": entry.Name() == a.Store.MachineID()+".sql",
			})
		}
	}
	status["files"] = files
	return status
}
