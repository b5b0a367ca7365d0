// Package config reads motionbridgectl's own on-disk configuration,
// separate from the daemon's INI file (pkg/config): the socket path,
// websocket address, and default output format an operator would
// otherwise have to pass on every invocation. Grounded on nexctl's
// pkg/config/config.go — same default-path-plus-permission-warning
// shape, YAML instead of the daemon's INI.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds motionbridgectl's configuration.
type Config struct {
	SocketPath   string `yaml:"socket_path"`
	WSAddr       string `yaml:"ws_address"`
	OutputFormat string `yaml:"output_format"`
}

// DefaultPath returns ~/.motionbridge/ctl.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".motionbridge", "ctl.yaml")
	}
	return filepath.Join(home, ".motionbridge", "ctl.yaml")
}

// Load reads path, returning a default Config with no error if the
// file does not exist.
func Load(path string) (*Config, error) {
	cfg := &Config{
		SocketPath:   "/var/run/motionbridge.sock",
		WSAddr:       "ws://localhost:7130/ws",
		OutputFormat: "table",
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		fmt.Fprintf(os.Stderr,
			"warning: config file %s has permissions %04o — expected 0600\n", path, perm)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
