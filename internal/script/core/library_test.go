// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grindstone Contributors

package core_test

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"

	"github.com/grindstone/scripthost/internal/script/core"
)

// newScriptState returns a state with base libs and the core module bound
// to the global "core".
func newScriptState(t *testing.T, lib *core.Library) *lua.LState {
	t.Helper()
	L := lua.NewState()
	t.Cleanup(L.Close)
	L.SetGlobal("core", lib.Open(L))
	return L
}

func newLibrary(t *testing.T) *core.Library {
	t.Helper()
	lib := core.NewLibrary(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	t.Cleanup(lib.Close)
	return lib
}

func TestLibrary_TypesAreRegistered(t *testing.T) {
	lib := newLibrary(t)
	for _, name := range []string{core.EntityTypeName, core.SceneTypeName, core.Vector3TypeName} {
		typ, ok := lib.Type(name)
		require.True(t, ok, name)
		assert.Equal(t, name, typ.Name)
		assert.NotNil(t, typ.Metatable)
	}
}

func TestLibrary_TypeIdentitySharedAcrossStates(t *testing.T) {
	lib := newLibrary(t)

	first := newScriptState(t, lib)
	second := newScriptState(t, lib)

	require.NoError(t, first.DoString(`v = core.Vector3(1, 2, 3)`))
	require.NoError(t, second.DoString(`v = core.Vector3(4, 5, 6)`))

	t1, ok := lib.TypeOf(first.GetGlobal("v"))
	require.True(t, ok)
	t2, ok := lib.TypeOf(second.GetGlobal("v"))
	require.True(t, ok)

	assert.Same(t, t1, t2)
	assert.Same(t, t1.Metatable, t2.Metatable)
}

func TestLibrary_EntityRoundTrip(t *testing.T) {
	lib := newLibrary(t)
	L := newScriptState(t, lib)

	L.SetGlobal("e", lib.NewEntity(L, core.EntityIdentity{Entity: 42, Scene: core.SceneRef{ID: 7}}))
	require.NoError(t, L.DoString(`
		id = e.id
		scene = e.scene
		same = e == core.Entity(42, 7)
		text = tostring(e)
	`))

	assert.Equal(t, lua.LNumber(42), L.GetGlobal("id"))
	assert.Equal(t, lua.LNumber(7), L.GetGlobal("scene"))
	assert.Equal(t, lua.LTrue, L.GetGlobal("same"))
	assert.Equal(t, "Entity(42@7)", L.GetGlobal("text").String())

	id, ok := lib.ToEntity(L.GetGlobal("e"))
	require.True(t, ok)
	assert.Equal(t, uint32(42), id.Entity)
}

func TestLibrary_EntityWithSceneValue(t *testing.T) {
	lib := newLibrary(t)
	L := newScriptState(t, lib)

	require.NoError(t, L.DoString(`e = core.Entity(3, core.Scene(11))`))
	id, ok := lib.ToEntity(L.GetGlobal("e"))
	require.True(t, ok)
	assert.Equal(t, core.EntityIdentity{Entity: 3, Scene: core.SceneRef{ID: 11}}, id)
}

func TestLibrary_Vector3Arithmetic(t *testing.T) {
	lib := newLibrary(t)
	L := newScriptState(t, lib)

	require.NoError(t, L.DoString(`
		local a = core.Vector3(1, 2, 3)
		local b = core.Vector3(1, 1, 1)
		sum = a + b
		diff = a - b
		scaled = 2 * a
		a.x = 10
		moved = a
	`))

	sum, ok := lib.ToVector3(L.GetGlobal("sum"))
	require.True(t, ok)
	assert.Equal(t, core.Vector3{X: 2, Y: 3, Z: 4}, sum)

	diff, _ := lib.ToVector3(L.GetGlobal("diff"))
	assert.Equal(t, core.Vector3{X: 0, Y: 1, Z: 2}, diff)

	scaled, ok := lib.ToVector3(L.GetGlobal("scaled"))
	require.True(t, ok)
	assert.Equal(t, core.Vector3{X: 2, Y: 4, Z: 6}, scaled)

	moved, _ := lib.ToVector3(L.GetGlobal("moved"))
	assert.Equal(t, 10.0, moved.X)
}

func TestLibrary_SharedMetatablesAreLocked(t *testing.T) {
	lib := newLibrary(t)
	L := newScriptState(t, lib)
	typ, ok := lib.Type(core.Vector3TypeName)
	require.True(t, ok)
	before := typ.Metatable.RawGetString("__tostring")

	require.NoError(t, L.DoString(`hidden = getmetatable(core.Vector3(0, 0, 0))`))
	assert.Equal(t, "locked", L.GetGlobal("hidden").String())

	err := L.DoString(`getmetatable(core.Vector3(0, 0, 0)).__tostring = function() return "patched" end`)
	require.Error(t, err)

	err = L.DoString(`core.Vector3 = nil`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read-only")

	err = L.DoString(`setmetatable(core.Vector3(0, 0, 0), {})`)
	require.Error(t, err)
	assert.Same(t, before, typ.Metatable.RawGetString("__tostring"))

	other := newScriptState(t, lib)
	require.NoError(t, other.DoString(`v = core.Vector3(1, 2, 3)`))
	_, ok = lib.ToVector3(other.GetGlobal("v"))
	assert.True(t, ok)
}

func TestLibrary_TypeOfRejectsForeignValues(t *testing.T) {
	lib := newLibrary(t)
	L := newScriptState(t, lib)

	require.NoError(t, L.DoString(`
		fake = setmetatable({}, { __name = "Vector3" })
	`))
	_, ok := lib.TypeOf(L.GetGlobal("fake"))
	assert.False(t, ok)
	_, ok = lib.TypeOf(lua.LNumber(1))
	assert.False(t, ok)
	_, ok = lib.ToVector3(lib.NewEntity(L, core.EntityIdentity{Entity: 1}))
	assert.False(t, ok)
}

func TestLibrary_Is(t *testing.T) {
	lib := newLibrary(t)
	L := newScriptState(t, lib)

	require.NoError(t, L.DoString(`
		yes = core.is(core.Vector3(), "Vector3")
		no = core.is(core.Vector3(), "Entity")
	`))
	assert.Equal(t, lua.LTrue, L.GetGlobal("yes"))
	assert.Equal(t, lua.LFalse, L.GetGlobal("no"))
}

func TestLibrary_ClassDeclaration(t *testing.T) {
	lib := newLibrary(t)
	L := newScriptState(t, lib)

	require.NoError(t, L.DoString(`
		Base = core.class("Base", { {"entity", "Entity"} })
		Mover = core.class("Mover", {
			{"speed", "number", 2.5},
			{"label", "string"},
		}, Base)
		function Base:Describe() return "base" end
	`))

	decl, ok, err := lib.ParseClass(L.GetGlobal("Mover"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Mover", decl.Name)
	require.Len(t, decl.Fields, 2)
	assert.Equal(t, "speed", decl.Fields[0].Name)
	assert.Equal(t, "number", decl.Fields[0].Type)
	assert.Equal(t, lua.LNumber(2.5), decl.Fields[0].Default)
	assert.Equal(t, lua.LNil, decl.Fields[1].Default)
	assert.Same(t, L.GetGlobal("Base"), lua.LValue(decl.Base))

	// Lua-level inheritance resolves base methods.
	require.NoError(t, L.DoString(`inherited = Mover:Describe()`))
	assert.Equal(t, "base", L.GetGlobal("inherited").String())
}

func TestLibrary_ClassRejectsMalformedFields(t *testing.T) {
	lib := newLibrary(t)
	L := newScriptState(t, lib)

	err := L.DoString(`core.class("Bad", { {"speed"} })`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "type must be a non-empty string")
}

func TestLibrary_PlainTableIsNotClass(t *testing.T) {
	lib := newLibrary(t)
	L := newScriptState(t, lib)

	require.NoError(t, L.DoString(`Plain = { speed = 1 }`))
	_, ok, err := lib.ParseClass(L.GetGlobal("Plain"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLibrary_Log(t *testing.T) {
	var buf bytes.Buffer
	lib := core.NewLibrary(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.Level(-8)})))
	defer lib.Close()

	L := lua.NewState()
	defer L.Close()
	L.SetGlobal("core", lib.Open(L))
	core.SetModuleName(L, "movers")

	require.NoError(t, L.DoString(`core.log("info", "hello from script")`))
	out := buf.String()
	assert.Contains(t, out, "hello from script")
	assert.Contains(t, out, "module=movers")
}

func TestLibrary_LogInvalidLevel(t *testing.T) {
	tests := []string{"warning", "INFO", "debug", ""}
	for _, level := range tests {
		t.Run(level, func(t *testing.T) {
			lib := newLibrary(t)
			L := newScriptState(t, lib)
			err := L.DoString(`core.log("` + level + `", "message")`)
			assert.Error(t, err)
		})
	}
}

func TestLibrary_NewID(t *testing.T) {
	lib := newLibrary(t)
	L := newScriptState(t, lib)

	require.NoError(t, L.DoString(`id = core.new_id()`))
	id := L.GetGlobal("id").String()
	assert.Len(t, id, 26)
	assert.Equal(t, strings.ToUpper(id), id)
}
