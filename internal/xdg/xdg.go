// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grindstone Contributors

// Package xdg provides XDG Base Directory paths for scripthost.
package xdg

import (
	"os"
	"path/filepath"
)

const appName = "scripthost"

// ConfigDir returns the XDG config directory for scripthost.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func ConfigDir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(base, appName)
}

// ConfigFile returns the default configuration file path.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// DataDir returns the XDG data directory for scripthost.
// Checks XDG_DATA_HOME first, falls back to ~/.local/share.
func DataDir() string {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		base = filepath.Join(os.Getenv("HOME"), ".local", "share")
	}
	return filepath.Join(base, appName)
}

// ModulesDir returns the default directory modules are discovered in.
func ModulesDir() string {
	return filepath.Join(DataDir(), "modules")
}
