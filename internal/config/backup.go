package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	ragerr "github.com/zoterag/zoterag/internal/errors"
)

// maxBackups is the number of timestamped config backups kept.
const maxBackups = 3

const backupSuffix = ".bak"

// BackupUserConfig copies the user config to a timestamped .bak file and
// prunes old backups. Returns the backup path, or "" when there is no
// config to back up.
func BackupUserConfig() (string, error) {
	path := GetUserConfigPath()
	if !fileExists(path) {
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", ragerr.ConfigError(fmt.Sprintf("read config for backup: %v", err), err)
	}

	stamp := time.Now().Format("20060102-150405")
	backupPath := fmt.Sprintf("%s%s.%s", path, backupSuffix, stamp)
	if err := os.WriteFile(backupPath, data, 0644); err != nil {
		return "", ragerr.ConfigError(fmt.Sprintf("write backup: %v", err), err)
	}

	pruneBackups()
	return backupPath, nil
}

// ListUserConfigBackups returns backup files for the user config, newest
// first.
func ListUserConfigBackups() ([]string, error) {
	path := GetUserConfigPath()
	dir := filepath.Dir(path)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, ragerr.ConfigError(fmt.Sprintf("list config directory: %v", err), err)
	}

	type backup struct {
		path string
		mod  time.Time
	}
	prefix := filepath.Base(path) + backupSuffix + "."
	var found []backup
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		found = append(found, backup{filepath.Join(dir, entry.Name()), info.ModTime()})
	}

	sort.Slice(found, func(i, j int) bool {
		return found[i].mod.After(found[j].mod)
	})

	paths := make([]string, len(found))
	for i, b := range found {
		paths[i] = b.path
	}
	return paths, nil
}

// RestoreUserConfig replaces the user config with the named backup. The
// current config, if any, is backed up first.
func RestoreUserConfig(backupPath string) error {
	if _, err := os.Stat(backupPath); err != nil {
		return ragerr.New(ragerr.ErrCodeConfigNotFound,
			fmt.Sprintf("backup not found: %s", backupPath), err)
	}

	if UserConfigExists() {
		if _, err := BackupUserConfig(); err != nil {
			return err
		}
	}

	data, err := os.ReadFile(backupPath)
	if err != nil {
		return ragerr.ConfigError(fmt.Sprintf("read backup: %v", err), err)
	}

	if err := os.MkdirAll(GetUserConfigDir(), 0755); err != nil {
		return ragerr.ConfigError(fmt.Sprintf("create config directory: %v", err), err)
	}
	if err := os.WriteFile(GetUserConfigPath(), data, 0644); err != nil {
		return ragerr.ConfigError(fmt.Sprintf("restore config: %v", err), err)
	}
	return nil
}

// pruneBackups removes backups beyond maxBackups, keeping the newest.
// Best effort; a failed removal is skipped.
func pruneBackups() {
	backups, err := ListUserConfigBackups()
	if err != nil || len(backups) <= maxBackups {
		return
	}
	for _, old := range backups[maxBackups:] {
		_ = os.Remove(old)
	}
}
