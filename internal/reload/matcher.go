// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grindstone Contributors

package reload

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/gobwas/glob"
)

// DefaultPatterns select the files whose changes trigger a reload.
var DefaultPatterns = []string{"**.lua", "module.yaml"}

type compiledPattern struct {
	pattern string
	glob    glob.Glob
}

// Matcher tests module-relative paths against reload patterns.
//
// Patterns use gobwas/glob with '/' as the separator:
//   - '*' matches within one path segment
//   - '**' matches across segments
type Matcher struct {
	patterns []compiledPattern
}

// NewMatcher compiles patterns. An empty list uses DefaultPatterns.
func NewMatcher(patterns []string) (*Matcher, error) {
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	m := &Matcher{patterns: make([]compiledPattern, len(patterns))}
	for i, p := range patterns {
		if p == "" {
			return nil, errors.New("empty reload pattern")
		}
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("reload pattern %q: %w", p, err)
		}
		m.patterns[i] = compiledPattern{pattern: p, glob: g}
	}
	return m, nil
}

// Match reports whether rel, a path relative to a module directory, is
// covered by any pattern.
func (m *Matcher) Match(rel string) bool {
	rel = filepath.ToSlash(rel)
	for _, p := range m.patterns {
		if p.glob.Match(rel) {
			return true
		}
	}
	return false
}

// Patterns returns the source patterns.
func (m *Matcher) Patterns() []string {
	out := make([]string, len(m.patterns))
	for i, p := range m.patterns {
		out[i] = p.pattern
	}
	return out
}
