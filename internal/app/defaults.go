package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Defaults holds the application's default filesystem locations.
type Defaults struct {
	ConfigPath string
	BaseDir    string
}

// GetDefaults resolves default paths, checking environment variables first.
//   - FICT_CONFIG_PATH: config file location (default: ~/.config/fict.toml)
//   - FICT_HOME: base directory for service data (default: ~/.local/share/fict)
func GetDefaults() (*Defaults, error) {
	configPath := os.Getenv("FICT_CONFIG_PATH")
	baseDir := os.Getenv("FICT_HOME")

	if configPath == "" || baseDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot determine home directory: %w", err)
		}
		if configPath == "" {
			configPath = filepath.Join(homeDir, ".config", "fict.toml")
		}
		if baseDir == "" {
			baseDir = filepath.Join(homeDir, ".local", "share", "fict")
		}
	}

	return &Defaults{ConfigPath: configPath, BaseDir: baseDir}, nil
}
