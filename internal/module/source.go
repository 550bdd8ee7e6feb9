// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grindstone Contributors

package module

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNotFound is returned when a module path does not name a loadable source.
var ErrNotFound = errors.New("module source not found")

// Source is a module located on disk.
type Source struct {
	// Path is the cleaned absolute path the module was located by.
	Path string
	// Dir is the directory require() resolves against.
	Dir string
	// Entry is the absolute path of the main chunk.
	Entry string
	// Manifest is nil for single-file modules.
	Manifest *Manifest
}

// Name returns the manifest name, or the entry file's base name without
// extension for single-file modules.
func (s *Source) Name() string {
	if s.Manifest != nil {
		return s.Manifest.Name
	}
	return strings.TrimSuffix(filepath.Base(s.Entry), filepath.Ext(s.Entry))
}

// Locate resolves path to a module source. A path naming a .lua file is a
// single-file module. A path naming a directory must contain module.yaml or
// main.lua.
func Locate(path string) (*Source, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrNotFound)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNotFound, path, err)
	}
	abs = filepath.Clean(abs)

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, abs)
	}

	if !info.IsDir() {
		if filepath.Ext(abs) != ".lua" {
			return nil, fmt.Errorf("%w: %s is not a .lua file", ErrNotFound, abs)
		}
		return &Source{Path: abs, Dir: filepath.Dir(abs), Entry: abs}, nil
	}

	src := &Source{Path: abs, Dir: abs, Entry: filepath.Join(abs, DefaultEntry)}

	data, err := os.ReadFile(filepath.Join(abs, ManifestFile)) //nolint:gosec // path is the module directory chosen by the host
	switch {
	case err == nil:
		m, perr := ParseManifest(data)
		if perr != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Join(abs, ManifestFile), perr)
		}
		entry, eerr := entryPath(abs, m.Entry)
		if eerr != nil {
			return nil, eerr
		}
		src.Manifest = m
		src.Entry = entry
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	if _, err := os.Stat(src.Entry); err != nil {
		return nil, fmt.Errorf("%w: entry %s", ErrNotFound, src.Entry)
	}
	return src, nil
}

// entryPath joins entry onto dir, rejecting entries that leave dir.
func entryPath(dir, entry string) (string, error) {
	if filepath.IsAbs(entry) {
		return "", fmt.Errorf("entry %q must be relative to the module directory", entry)
	}
	p := filepath.Join(dir, entry)
	rel, err := filepath.Rel(dir, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("entry %q escapes the module directory", entry)
	}
	return p, nil
}

// Discover lists the modules under root: every subdirectory that Locate
// accepts and every top-level .lua file. Invalid modules are logged and
// skipped. A missing root yields no modules.
func Discover(_ context.Context, root string) ([]*Source, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read modules directory: %w", err)
	}

	var sources []*Source
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if !entry.IsDir() && filepath.Ext(entry.Name()) != ".lua" {
			continue
		}

		src, err := Locate(filepath.Join(root, entry.Name()))
		if err != nil {
			slog.Warn("skipping invalid module",
				"entry", entry.Name(),
				"error", err)
			continue
		}
		sources = append(sources, src)
	}

	sort.Slice(sources, func(i, j int) bool { return sources[i].Path < sources[j].Path })
	return sources, nil
}
