package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnvConfigPath names the environment variable that points at a config file.
const EnvConfigPath = "SPOOL_CONFIG"

// Discover finds the config file by checking standard locations.
// Priority order: $SPOOL_CONFIG, ~/.config/spool/config.yaml, ./spool.yaml
func Discover() (string, error) {
	for _, candidate := range discoveryCandidates() {
		if fileExists(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no config found (checked: $%s, ~/.config/spool/config.yaml, ./spool.yaml)", EnvConfigPath)
}

func discoveryCandidates() []string {
	var candidates []string
	if path := os.Getenv(EnvConfigPath); path != "" {
		candidates = append(candidates, path)
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(homeDir, ".config", "spool", "config.yaml"))
	}
	return append(candidates, "spool.yaml")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
