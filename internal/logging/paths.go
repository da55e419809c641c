package logging

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultLogDir returns ~/.zoterag/logs, falling back to the temp
// directory when the home directory cannot be resolved.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".zoterag", "logs")
	}
	return filepath.Join(home, ".zoterag", "logs")
}

// DefaultLogPath returns the default service log path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "service.log")
}

// FindLogFile resolves the log file for viewing. An explicit path wins
// when given; otherwise the default service log is used. Either way the
// file must already exist, since a viewer has nothing to say about a
// log that was never written.
func FindLogFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("log file not found: %s", explicit)
		}
		return explicit, nil
	}

	path := DefaultLogPath()
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("no log file found. The service may not have run yet.\nExpected at: %s", path)
	}
	return path, nil
}
