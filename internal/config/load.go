package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// readUserConfig parses the user config. JSON is the canonical format;
// YAML is accepted by extension. Parse errors are fatal, no fallback.
func readUserConfig(path string) (*UserFileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read user config %s: %w", path, err)
	}

	var cfg UserFileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse user config %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse user config %s: %w", path, err)
		}
	}
	return &cfg, nil
}

// readSystemConfig parses the system modules config. A missing file yields
// the shipped defaults; a present but broken file is fatal.
func readSystemConfig(path string) (*SystemFileConfig, error) {
	if path == "" {
		return &SystemFileConfig{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &SystemFileConfig{}, nil
		}
		return nil, fmt.Errorf("read system config %s: %w", path, err)
	}

	var cfg SystemFileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse system config %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse system config %s: %w", path, err)
		}
	}
	return &cfg, nil
}

// expandPath expands ~ and environment variables in file paths.
func expandPath(path string) (string, error) {
	if path == "" {
		return path, nil
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot get home directory: %v", err)
		}
		path = filepath.Join(home, path[2:])
	}
	path = os.ExpandEnv(path)
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("cannot convert to absolute path: %v", err)
	}
	return absPath, nil
}

// DefaultHomeDir returns <home>/.routecodex.
func DefaultHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".routecodex"
	}
	return filepath.Join(home, ".routecodex")
}

// DefaultUserConfigPath returns <home>/.routecodex/config.json.
func DefaultUserConfigPath() string {
	return filepath.Join(DefaultHomeDir(), "config.json")
}
