package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// clientConfig mirrors ~/.config/termgate/termctl.toml.
//
//	server = "http://gateway.internal:8440"
//	default_target = "db-1"
//	timeout_ms = 60000
type clientConfig struct {
	Server        string `toml:"server"`
	DefaultTarget string `toml:"default_target"`
	TimeoutMS     int64  `toml:"timeout_ms"`
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "termgate", "termctl.toml")
}

// loadClientConfig reads the TOML config at path, falling back to the
// default location when path is empty. A missing file is not an error;
// the zero config means "use built-in defaults".
func loadClientConfig(path string) (clientConfig, error) {
	var cfg clientConfig
	if path == "" {
		path = defaultConfigPath()
	}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
