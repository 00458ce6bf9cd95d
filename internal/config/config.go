package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// DefaultHistoryPageSize is used when history_page_size is unset.
const DefaultHistoryPageSize = 50

// Config represents the global ~/.pigeon/config.toml.
type Config struct {
	DefaultProfile  string `toml:"default_profile"`
	ServerURL       string `toml:"server_url"`
	SocketURL       string `toml:"socket_url"`
	HistoryPageSize int    `toml:"history_page_size"`
}

// Load reads config from the given path. Returns zero config and error
// if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	if cfg.HistoryPageSize <= 0 {
		cfg.HistoryPageSize = DefaultHistoryPageSize
	}
	if cfg.SocketURL == "" {
		cfg.SocketURL = deriveSocketURL(cfg.ServerURL)
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// deriveSocketURL turns an http(s) server URL into the matching ws(s)
// push-channel URL.
func deriveSocketURL(serverURL string) string {
	switch {
	case len(serverURL) > 8 && serverURL[:8] == "https://":
		return "wss://" + serverURL[8:] + "/ws"
	case len(serverURL) > 7 && serverURL[:7] == "http://":
		return "ws://" + serverURL[7:] + "/ws"
	default:
		return ""
	}
}
