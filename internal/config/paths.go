package config

import (
	"os"
	"path/filepath"
)

// Dir returns the client's config directory. WD_HOME overrides ~/.wingdesk.
func Dir() (string, error) {
	if d := os.Getenv("WD_HOME"); d != "" {
		return d, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(homeDir, ".wingdesk"), nil
}

func Path(dir string) string {
	return filepath.Join(dir, "config.yaml")
}

func HistoryFile(dir string) string {
	return filepath.Join(dir, "history.db")
}

func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0700)
}
