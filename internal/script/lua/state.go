// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grindstone Contributors

// Package lua provides the sandboxed Lua runtime that hosts script modules.
package lua

import (
	"context"
	"errors"
	"fmt"
	"slices"

	lua "github.com/yuin/gopher-lua"
)

// ErrUnknownLibrary is returned for a library name the sandbox cannot open.
var ErrUnknownLibrary = errors.New("unknown or unsafe script library")

// library is one library a module state may be given.
type library struct {
	open lua.LGFunction
	// name is what gopher-lua registers the library under.
	name string
}

// libraries is keyed by configuration name. os, io, debug, package and
// channel are never offered.
var libraries = map[string]library{
	"base":               {lua.OpenBase, lua.BaseLibName},
	lua.TabLibName:       {lua.OpenTable, lua.TabLibName},
	lua.StringLibName:    {lua.OpenString, lua.StringLibName},
	lua.MathLibName:      {lua.OpenMath, lua.MathLibName},
	lua.CoroutineLibName: {lua.OpenCoroutine, lua.CoroutineLibName},
}

// DefaultLibraries are opened when no library list is configured.
var DefaultLibraries = []string{"base", lua.TabLibName, lua.StringLibName, lua.MathLibName}

// AllowedLibraries returns the library names a factory accepts, sorted.
func AllowedLibraries() []string {
	names := make([]string, 0, len(libraries))
	for name := range libraries {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// sandboxGlobals are cleared in every state. They reach the filesystem,
// compile arbitrary chunks, or depend on the package library; require is
// reinstalled by the Resolver.
var sandboxGlobals = []string{"dofile", "loadfile", "loadstring", "load", "require", "module"}

// StateOption configures a StateFactory.
type StateOption func(*StateFactory)

// WithLibraries replaces the default library list. Names are "base",
// "table", "string", "math" and "coroutine".
func WithLibraries(names ...string) StateOption {
	return func(f *StateFactory) {
		if len(names) > 0 {
			f.libraries = append([]string(nil), names...)
		}
	}
}

// WithBlockedGlobals clears additional globals, such as print or
// collectgarbage, after the libraries are opened.
func WithBlockedGlobals(names ...string) StateOption {
	return func(f *StateFactory) {
		for _, name := range names {
			if !slices.Contains(f.blocked, name) {
				f.blocked = append(f.blocked, name)
			}
		}
	}
}

// StateFactory creates sandboxed module states.
type StateFactory struct {
	libraries []string
	blocked   []string
}

// NewStateFactory creates a factory opening DefaultLibraries unless
// configured otherwise.
func NewStateFactory(opts ...StateOption) *StateFactory {
	f := &StateFactory{
		libraries: append([]string(nil), DefaultLibraries...),
		blocked:   append([]string(nil), sandboxGlobals...),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Libraries returns the library names opened in each state.
func (f *StateFactory) Libraries() []string {
	return append([]string(nil), f.libraries...)
}

// Blocked returns the globals cleared in each state.
func (f *StateFactory) Blocked() []string {
	return append([]string(nil), f.blocked...)
}

// Validate reports the first library name the factory cannot open.
func (f *StateFactory) Validate() error {
	for _, name := range f.libraries {
		if _, ok := libraries[name]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownLibrary, name)
		}
	}
	return nil
}

// NewState creates a Lua state with the configured libraries opened and the
// blocked globals cleared.
//
// The ctx parameter is not attached to the state: a module state outlives
// the call that created it.
func (f *StateFactory) NewState(_ context.Context) (*lua.LState, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	L := lua.NewState(lua.Options{
		SkipOpenLibs: true,
	})
	for _, name := range f.libraries {
		lib := libraries[name]
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.open),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, fmt.Errorf("failed to open library %s: %w", name, err)
		}
	}

	for _, name := range f.blocked {
		L.SetGlobal(name, lua.LNil)
	}

	return L, nil
}
