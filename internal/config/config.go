// Package config loads persistent daemon settings from
// ~/.sidecard/config.yaml. Everything is optional; the zero Config runs the
// daemon on its Unix socket with no TCP or metrics listener.
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds persistent daemon configuration.
type Config struct {
	// APIAddr, when set, exposes the control API on TCP in addition to the
	// Unix socket.
	APIAddr string `yaml:"api_addr"`

	// MetricsAddr, when set, serves Prometheus metrics on this address.
	MetricsAddr string `yaml:"metrics_addr"`

	// ProfilePath is the default runtime profile used when neither the
	// start request nor the environment names one.
	ProfilePath string `yaml:"profile_path"`
}

func dotDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".sidecard")
}

// DefaultPath returns the default config file path: ~/.sidecard/config.yaml.
func DefaultPath() string {
	dir := dotDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "config.yaml")
}

// DefaultSocketPath returns the default control socket path:
// ~/.sidecard/sidecard.sock.
func DefaultSocketPath() string {
	dir := dotDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "sidecard.sock")
}

// Load reads a YAML config file from path. If the file does not exist,
// it returns an empty Config and no error. An empty or all-comment file
// also returns an empty Config with no error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
