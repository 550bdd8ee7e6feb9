// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grindstone Contributors

package lua

import (
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/grindstone/scripthost/internal/logging"
	"github.com/grindstone/scripthost/internal/script/core"
)

// requireNamePattern restricts require names to dotted identifiers so a
// module cannot walk out of its own directory.
var requireNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// Resolver decides what require() returns inside a module state.
//
// Names listed as core aliases always resolve to the engine's single core
// library, even when the module directory ships a file with the same name.
// Every other name resolves to a Lua file under the module directory.
type Resolver struct {
	lib     *core.Library
	aliases map[string]struct{}
	logger  *slog.Logger
}

// NewResolver creates a resolver redirecting aliases to lib. With no
// aliases, only core.ModuleName is redirected.
func NewResolver(lib *core.Library, aliases []string, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if len(aliases) == 0 {
		aliases = []string{core.ModuleName}
	}
	set := make(map[string]struct{}, len(aliases))
	for _, a := range aliases {
		set[a] = struct{}{}
	}
	return &Resolver{lib: lib, aliases: set, logger: logger}
}

// Binding is the require state of one module context.
type Binding struct {
	resolver      *Resolver
	dir           string
	loaded        map[string]lua.LValue
	loading       map[string]bool
	core          *lua.LTable
	coreRedirects int
}

// Install binds a require function into L that resolves relative to dir.
func (r *Resolver) Install(L *lua.LState, dir string) *Binding {
	b := &Binding{
		resolver: r,
		dir:      dir,
		loaded:   make(map[string]lua.LValue),
		loading:  make(map[string]bool),
	}
	L.SetGlobal("require", L.NewFunction(b.require))
	return b
}

// CoreRedirects returns how many require calls were served by the core
// library.
func (b *Binding) CoreRedirects() int {
	return b.coreRedirects
}

// Loaded returns the module-local names required so far.
func (b *Binding) Loaded() []string {
	names := make([]string, 0, len(b.loaded))
	for name := range b.loaded {
		names = append(names, name)
	}
	return names
}

func (b *Binding) require(L *lua.LState) int {
	name := L.CheckString(1)

	if _, ok := b.resolver.aliases[name]; ok {
		b.coreRedirects++
		if local, found := b.locate(name); found {
			b.resolver.logger.Log(L.Context(), logging.LevelTrace, "ignoring module-local copy of core library",
				"dir", b.dir,
				"name", name,
				"path", local)
		}
		if b.core == nil {
			b.core = b.resolver.lib.Open(L)
		}
		L.Push(b.core)
		return 1
	}

	if v, ok := b.loaded[name]; ok {
		L.Push(v)
		return 1
	}
	if b.loading[name] {
		L.RaiseError("circular require of %q", name)
		return 0
	}
	if !requireNamePattern.MatchString(name) {
		L.RaiseError("invalid module name %q", name)
		return 0
	}

	path, found := b.locate(name)
	if !found {
		L.RaiseError("module %q not found in %s", name, b.dir)
		return 0
	}

	fn, err := L.LoadFile(path)
	if err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}

	b.loading[name] = true
	L.Push(fn)
	err = L.PCall(0, 1, nil)
	delete(b.loading, name)
	if err != nil {
		L.RaiseError("require %q: %s", name, err.Error())
		return 0
	}

	ret := L.Get(-1)
	L.Pop(1)
	if ret == lua.LNil {
		ret = lua.LTrue
	}
	b.loaded[name] = ret
	L.Push(ret)
	return 1
}

// locate maps a dotted name to name.lua or name/init.lua under the module
// directory.
func (b *Binding) locate(name string) (string, bool) {
	if !requireNamePattern.MatchString(name) {
		return "", false
	}
	rel := strings.ReplaceAll(name, ".", string(filepath.Separator))
	for _, candidate := range []string{rel + ".lua", filepath.Join(rel, "init.lua")} {
		path := filepath.Join(b.dir, candidate)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, true
		}
	}
	return "", false
}
