// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grindstone Contributors

package bridge

import (
	"fmt"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/grindstone/scripthost/internal/module"
)

// ModuleKey identifies a loaded module by its load path. Zero is never a
// valid key.
type ModuleKey uint64

// KeyOf derives the module key of a cleaned absolute path.
func KeyOf(path string) ModuleKey {
	k := ModuleKey(xxhash.Sum64String(path))
	if k == 0 {
		k = 1
	}
	return k
}

// String renders the key for logs.
func (k ModuleKey) String() string {
	return fmt.Sprintf("%016x", uint64(k))
}

// ModuleEntry is the module table record of one loaded module.
type ModuleEntry struct {
	Key        ModuleKey
	Path       string
	Name       string
	Generation uint32
	Manifest   *module.Manifest
	LoadedAt   time.Time

	ctx *ModuleContext
}

// TypeNames returns the names of the module's types in sorted order.
func (e *ModuleEntry) TypeNames() []string {
	return e.ctx.typeNames()
}

// lookupType returns a type of the module.
func (e *ModuleEntry) lookupType(name string) (*ScriptType, bool) {
	t, ok := e.ctx.types[name]
	return t, ok
}

// ModuleInfo is a read-only snapshot of a module table entry.
type ModuleInfo struct {
	Key        ModuleKey
	Path       string
	Name       string
	Generation uint32
	Types      []string
	Handles    int
	LoadedAt   time.Time
}

// Modules lists the loaded modules sorted by path.
func (s *Session) Modules() []ModuleInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ModuleInfo, 0, len(s.modules))
	for _, e := range s.modules {
		out = append(out, ModuleInfo{
			Key:        e.Key,
			Path:       e.Path,
			Name:       e.Name,
			Generation: e.Generation,
			Types:      e.TypeNames(),
			Handles:    s.handles.Pinned(e.Generation),
			LoadedAt:   e.LoadedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Module returns the snapshot of one loaded module.
func (s *Session) Module(key ModuleKey) (ModuleInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.modules[key]
	if !ok {
		return ModuleInfo{}, false
	}
	return ModuleInfo{
		Key:        e.Key,
		Path:       e.Path,
		Name:       e.Name,
		Generation: e.Generation,
		Types:      e.TypeNames(),
		Handles:    s.handles.Pinned(e.Generation),
		LoadedAt:   e.LoadedAt,
	}, true
}

// CountTypes returns the number of types a loaded module exports.
func (s *Session) CountTypes(key ModuleKey) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.modules[key]
	if !ok {
		return 0, errorf(CodeModuleNotFound).
			With("key", key.String()).
			Wrapf(ErrModuleNotFound, "module %s", key)
	}
	return len(e.ctx.types), nil
}

// KeyForPath returns the key a path loads under, without loading it.
func (s *Session) KeyForPath(path string) (ModuleKey, error) {
	abs, err := s.paths.Resolve(path)
	if err != nil {
		return 0, errorf(CodePathNotFound).
			With("path", path).
			Wrapf(ErrPathNotFound, "%v", err)
	}
	return KeyOf(abs), nil
}
