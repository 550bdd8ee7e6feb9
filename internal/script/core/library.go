// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grindstone Contributors

// Package core implements the engine's core script library, the Lua module
// every script reaches with require("core").
//
// The library is built exactly once per engine process, inside a Lua state
// the engine owns for its whole lifetime. Its metatables are shared by
// every module context, so a Vector3 created by one module generation and a
// Vector3 created by the next carry the same *Type and the same metatable.
// Native code dispatches on that identity through Library.TypeOf.
package core

import (
	"log/slog"
	"reflect"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// Version is the semantic version of the core library API. Module
// manifests may constrain against it.
const Version = "1.2.0"

// ModuleName is the canonical require name of the core library.
const ModuleName = "core"

// registryModuleKey is the registry slot naming the module that owns a state.
const registryModuleKey = "scripthost.module"

// lockedMetatable is what getmetatable reports for shared metatables.
// Its presence also makes setmetatable refuse to replace them.
const lockedMetatable = lua.LString("locked")

// Type describes one core value type.
type Type struct {
	Name      string
	GoType    reflect.Type
	Metatable *lua.LTable
}

// Library is the engine's single copy of the core script library.
type Library struct {
	state       *lua.LState
	module      *lua.LTable
	moduleMeta  *lua.LTable
	classMarker *lua.LUserData
	types       map[string]*Type
	byMeta      map[*lua.LTable]*Type
	logger      *slog.Logger
	closeOnce   sync.Once
}

// NewLibrary builds the core library. A nil logger uses slog.Default().
func NewLibrary(logger *slog.Logger) *Library {
	if logger == nil {
		logger = slog.Default()
	}

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	lib := &Library{
		state:  L,
		types:  make(map[string]*Type),
		byMeta: make(map[*lua.LTable]*Type),
		logger: logger,
	}

	lib.classMarker = L.NewUserData()
	lib.classMarker.Value = classTag{}

	lib.register(EntityTypeName, reflect.TypeOf(EntityIdentity{}), entityMethods())
	lib.register(SceneTypeName, reflect.TypeOf(SceneRef{}), sceneMethods())
	lib.register(Vector3TypeName, reflect.TypeOf(Vector3{}), vector3Methods())

	mod := L.NewTable()
	L.SetField(mod, "version", lua.LString(Version))
	L.SetField(mod, "class", L.NewFunction(lib.classFn))
	L.SetField(mod, "is", L.NewFunction(lib.isFn))
	L.SetField(mod, "log", L.NewFunction(lib.logFn))
	L.SetField(mod, "new_id", L.NewFunction(newIDFn))
	L.SetField(mod, EntityTypeName, L.NewFunction(lib.newEntityFn))
	L.SetField(mod, SceneTypeName, L.NewFunction(lib.newSceneFn))
	L.SetField(mod, Vector3TypeName, L.NewFunction(lib.newVector3Fn))
	lib.module = mod

	meta := L.NewTable()
	meta.RawSetString("__index", mod)
	meta.RawSetString("__newindex", L.NewFunction(readOnlyFn))
	meta.RawSetString("__metatable", lockedMetatable)
	lib.moduleMeta = meta

	return lib
}

// register builds the shared metatable for a core type.
func (l *Library) register(name string, goType reflect.Type, methods map[string]lua.LGFunction) {
	mt := l.state.NewTable()
	for event, fn := range methods {
		l.state.SetField(mt, event, l.state.NewFunction(fn))
	}
	l.state.SetField(mt, "__name", lua.LString(name))
	l.state.SetField(mt, "__metatable", lockedMetatable)

	t := &Type{Name: name, GoType: goType, Metatable: mt}
	l.types[name] = t
	l.byMeta[mt] = t
}

// Open returns a read-only view of the core module owned by L. Reads go
// through to the shared module table; assignments raise. Each state gets
// its own view, so a rawset on it stays inside that state.
func (l *Library) Open(L *lua.LState) *lua.LTable {
	view := L.NewTable()
	view.Metatable = l.moduleMeta
	return view
}

func readOnlyFn(L *lua.LState) int {
	L.RaiseError("core library is read-only (assignment to %q)", L.Get(2).String())
	return 0
}

// Type returns the descriptor of a core type by name.
func (l *Library) Type(name string) (*Type, bool) {
	t, ok := l.types[name]
	return t, ok
}

// TypeOf returns the core type of a Lua value, matched by metatable
// identity. Values that are not core userdata report false.
func (l *Library) TypeOf(v lua.LValue) (*Type, bool) {
	ud, ok := v.(*lua.LUserData)
	if !ok {
		return nil, false
	}
	mt, ok := ud.Metatable.(*lua.LTable)
	if !ok {
		return nil, false
	}
	t, ok := l.byMeta[mt]
	return t, ok
}

// newValue wraps a Go value in userdata tagged with the core type's
// metatable. The userdata belongs to L; the metatable is shared.
func (l *Library) newValue(L *lua.LState, typeName string, value any) *lua.LUserData {
	ud := L.NewUserData()
	ud.Value = value
	ud.Metatable = l.types[typeName].Metatable
	return ud
}

// SetModuleName records which module a state belongs to, for log attribution.
func SetModuleName(L *lua.LState, name string) {
	L.G.Registry.RawSetString(registryModuleKey, lua.LString(name))
}

func moduleName(L *lua.LState) string {
	if v, ok := L.G.Registry.RawGetString(registryModuleKey).(lua.LString); ok {
		return string(v)
	}
	return ""
}

// Close releases the engine-owned state. Module contexts must not be used
// after the library is closed.
func (l *Library) Close() {
	l.closeOnce.Do(l.state.Close)
}

func (l *Library) isFn(L *lua.LState) int {
	v := L.CheckAny(1)
	name := L.CheckString(2)
	t, ok := l.TypeOf(v)
	L.Push(lua.LBool(ok && t.Name == name))
	return 1
}
