package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupUserConfig_NoConfig(t *testing.T) {
	isolateConfigDir(t)

	path, err := BackupUserConfig()
	require.NoError(t, err)
	assert.Equal(t, "", path)
}

func TestBackupUserConfig_CreatesCopy(t *testing.T) {
	configDir := isolateConfigDir(t)

	require.NoError(t, os.MkdirAll(configDir, 0755))
	original := []byte("provider:\n  active: ollama\n")
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "config.yaml"), original, 0644))

	backupPath, err := BackupUserConfig()
	require.NoError(t, err)
	require.NotEmpty(t, backupPath)

	data, err := os.ReadFile(backupPath)
	require.NoError(t, err)
	assert.Equal(t, original, data)
}

func TestBackupUserConfig_PrunesOldBackups(t *testing.T) {
	configDir := isolateConfigDir(t)

	require.NoError(t, os.MkdirAll(configDir, 0755))
	configPath := filepath.Join(configDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("version: 1\n"), 0644))

	// Seed stale backups with staggered mtimes, oldest first.
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		p := fmt.Sprintf("%s.bak.2024010%d-000000", configPath, i+1)
		require.NoError(t, os.WriteFile(p, []byte("old\n"), 0644))
		require.NoError(t, os.Chtimes(p, base, base.Add(time.Duration(i)*time.Minute)))
	}

	_, err := BackupUserConfig()
	require.NoError(t, err)

	backups, err := ListUserConfigBackups()
	require.NoError(t, err)
	assert.Len(t, backups, maxBackups)

	// The fresh backup is the newest entry.
	data, err := os.ReadFile(backups[0])
	require.NoError(t, err)
	assert.Equal(t, "version: 1\n", string(data))
}

func TestListUserConfigBackups_NewestFirst(t *testing.T) {
	configDir := isolateConfigDir(t)

	require.NoError(t, os.MkdirAll(configDir, 0755))
	configPath := filepath.Join(configDir, "config.yaml")

	older := configPath + ".bak.20240101-000000"
	newer := configPath + ".bak.20240601-000000"
	require.NoError(t, os.WriteFile(older, []byte("a"), 0644))
	require.NoError(t, os.WriteFile(newer, []byte("b"), 0644))

	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(older, past, past))

	backups, err := ListUserConfigBackups()
	require.NoError(t, err)
	require.Len(t, backups, 2)
	assert.Equal(t, newer, backups[0])
	assert.Equal(t, older, backups[1])
}

func TestListUserConfigBackups_NoDir(t *testing.T) {
	isolateConfigDir(t)

	backups, err := ListUserConfigBackups()
	require.NoError(t, err)
	assert.Empty(t, backups)
}

func TestRestoreUserConfig(t *testing.T) {
	configDir := isolateConfigDir(t)

	require.NoError(t, os.MkdirAll(configDir, 0755))
	configPath := filepath.Join(configDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("current\n"), 0644))

	backupPath := configPath + ".bak.20240101-000000"
	require.NoError(t, os.WriteFile(backupPath, []byte("restored\n"), 0644))

	require.NoError(t, RestoreUserConfig(backupPath))

	data, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Equal(t, "restored\n", string(data))
}

func TestRestoreUserConfig_MissingBackup(t *testing.T) {
	isolateConfigDir(t)

	err := RestoreUserConfig("/nonexistent/backup")
	require.Error(t, err)
}
