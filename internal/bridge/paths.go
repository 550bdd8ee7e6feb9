// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grindstone Contributors

package bridge

import (
	"fmt"
	"path/filepath"
	"strings"
)

// PathResolver turns the path a caller passes to Load into the absolute
// location of a module on disk.
type PathResolver interface {
	Resolve(path string) (string, error)
}

// AbsPathResolver resolves paths against the working directory.
type AbsPathResolver struct{}

// Resolve implements PathResolver.
func (AbsPathResolver) Resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty path")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	return filepath.Clean(abs), nil
}

// DirResolver resolves relative paths against Root and refuses paths that
// leave it.
type DirResolver struct {
	Root string
}

// Resolve implements PathResolver.
func (r DirResolver) Resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty path")
	}
	root, err := filepath.Abs(r.Root)
	if err != nil {
		return "", fmt.Errorf("resolve root %s: %w", r.Root, err)
	}
	p := path
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	p = filepath.Clean(p)
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside %s", path, root)
	}
	return p, nil
}
