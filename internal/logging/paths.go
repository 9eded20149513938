package logging

import (
	"os"
	"path/filepath"
)

// DefaultLogDir returns the default log directory (~/.swiftsearch/logs/).
// Falls back to the temp directory if the home directory is unavailable.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".swiftsearch", "logs")
	}
	return filepath.Join(home, ".swiftsearch", "logs")
}

// DefaultLogPath returns the default mediator log path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "mediator.log")
}
