// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grindstone Contributors

// Package module reads script module sources from disk: single Lua files and
// directories described by a module.yaml manifest.
package module

import (
	"fmt"
	"regexp"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// ManifestFile is the manifest name inside a module directory.
const ManifestFile = "module.yaml"

// DefaultEntry is the entry chunk used when a manifest names none.
const DefaultEntry = "main.lua"

// Manifest represents a module.yaml file.
type Manifest struct {
	Name        string `yaml:"name" json:"name" jsonschema:"minLength=1,maxLength=64"`
	Version     string `yaml:"version" json:"version" jsonschema:"minLength=1"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Entry       string `yaml:"entry,omitempty" json:"entry,omitempty"`
	// Core is a semver constraint on the core library version.
	Core string `yaml:"core,omitempty" json:"core,omitempty"`
}

// maxNameLength is the maximum allowed length for module names.
const maxNameLength = 64

// namePattern validates module names: must start with lowercase letter,
// followed by lowercase letters, digits, or hyphens.
var namePattern = regexp.MustCompile(`^[a-z]([a-z0-9-]*[a-z0-9])?$`)

// ParseManifest parses and validates a module.yaml file.
func ParseManifest(data []byte) (*Manifest, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("manifest data is empty")
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	if m.Entry == "" {
		m.Entry = DefaultEntry
	}

	return &m, nil
}

// Validate checks manifest constraints.
func (m *Manifest) Validate() error {
	if m.Name == "" || !namePattern.MatchString(m.Name) {
		return fmt.Errorf("name %q must start with a-z, contain only a-z, 0-9, hyphens, and not end with a hyphen", m.Name)
	}
	if len(m.Name) > maxNameLength {
		return fmt.Errorf("name must be %d characters or less, got %d", maxNameLength, len(m.Name))
	}

	if m.Version == "" {
		return fmt.Errorf("version is required")
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return fmt.Errorf("version %q is not a semantic version: %w", m.Version, err)
	}

	if m.Core != "" {
		if _, err := semver.NewConstraint(m.Core); err != nil {
			return fmt.Errorf("core constraint %q is invalid: %w", m.Core, err)
		}
	}

	return nil
}

// CheckCore reports whether the core library version satisfies the
// manifest's core constraint. An empty constraint accepts any version.
func (m *Manifest) CheckCore(coreVersion string) error {
	if m.Core == "" {
		return nil
	}
	c, err := semver.NewConstraint(m.Core)
	if err != nil {
		return fmt.Errorf("core constraint %q is invalid: %w", m.Core, err)
	}
	v, err := semver.NewVersion(coreVersion)
	if err != nil {
		return fmt.Errorf("core version %q is invalid: %w", coreVersion, err)
	}
	if ok, errs := c.Validate(v); !ok {
		if len(errs) > 0 {
			return fmt.Errorf("module %s requires core %s: %w", m.Name, m.Core, errs[0])
		}
		return fmt.Errorf("module %s requires core %s, have %s", m.Name, m.Core, coreVersion)
	}
	return nil
}
