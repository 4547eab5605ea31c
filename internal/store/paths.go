package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultFile is the database file name inside a defsim directory.
const DefaultFile = "results.db"

// GlobalPath returns the path to the global .defsim directory.
// On Unix: ~/.defsim
// On Windows: %USERPROFILE%\.defsim
func GlobalPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".defsim"), nil
}

// DefaultPath returns ~/.defsim/results.db.
func DefaultPath() (string, error) {
	dir, err := GlobalPath()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultFile), nil
}
