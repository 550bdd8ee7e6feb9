// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grindstone Contributors

package lua_test

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"

	"github.com/grindstone/scripthost/internal/logging"
	"github.com/grindstone/scripthost/internal/script/core"
	scriptlua "github.com/grindstone/scripthost/internal/script/lua"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func newBoundState(t *testing.T, lib *core.Library, dir string, logger *slog.Logger) (*lua.LState, *scriptlua.Binding) {
	t.Helper()
	L, err := scriptlua.NewStateFactory().NewState(context.Background())
	require.NoError(t, err)
	t.Cleanup(L.Close)
	resolver := scriptlua.NewResolver(lib, nil, logger)
	return L, resolver.Install(L, dir)
}

func TestResolver_CoreAliasReturnsSharedLibrary(t *testing.T) {
	lib := core.NewLibrary(nil)
	defer lib.Close()

	L1, b1 := newBoundState(t, lib, t.TempDir(), nil)
	L2, b2 := newBoundState(t, lib, t.TempDir(), nil)

	require.NoError(t, L1.DoString(`c = require("core"); same = c == require("core"); v = c.Vector3(1, 2, 3)`))
	require.NoError(t, L2.DoString(`c = require("core"); v = c.Vector3(4, 5, 6)`))

	assert.Equal(t, lua.LTrue, L1.GetGlobal("same"), "one view per state")
	assert.NotSame(t, L1.GetGlobal("c"), L2.GetGlobal("c"))
	t1, ok := lib.TypeOf(L1.GetGlobal("v"))
	require.True(t, ok)
	t2, ok := lib.TypeOf(L2.GetGlobal("v"))
	require.True(t, ok)
	assert.Same(t, t1, t2)
	assert.Equal(t, 2, b1.CoreRedirects())
	assert.Equal(t, 1, b2.CoreRedirects())
}

func TestResolver_CoreLibraryIsReadOnly(t *testing.T) {
	lib := core.NewLibrary(nil)
	defer lib.Close()

	L1, _ := newBoundState(t, lib, t.TempDir(), nil)
	err := L1.DoString(`require("core").Vector3 = function() return "patched" end`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read-only")

	require.NoError(t, L1.DoString(`rawset(require("core"), "log", false)`))

	L2, _ := newBoundState(t, lib, t.TempDir(), nil)
	require.NoError(t, L2.DoString(`kind = type(require("core").log)`))
	assert.Equal(t, "function", L2.GetGlobal("kind").String(), "rawset stays in the writing state")
}

func TestResolver_ShadowedCoreIsIgnored(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.Setup(logging.Options{Format: "text", Level: logging.LevelTrace, Writer: &buf})

	lib := core.NewLibrary(nil)
	defer lib.Close()

	dir := t.TempDir()
	writeFile(t, dir, "core.lua", `return { version = "shadow" }`)

	L, b := newBoundState(t, lib, dir, logger)
	require.NoError(t, L.DoString(`v = require("core").version`))

	assert.Equal(t, core.Version, L.GetGlobal("v").String())
	assert.Equal(t, 1, b.CoreRedirects())
	assert.Contains(t, buf.String(), "ignoring module-local copy of core library")
}

func TestResolver_LocalModules(t *testing.T) {
	lib := core.NewLibrary(nil)
	defer lib.Close()

	dir := t.TempDir()
	writeFile(t, dir, "util.lua", `return { twice = function(x) return x * 2 end }`)
	writeFile(t, dir, "physics/init.lua", `return { g = 9 }`)
	writeFile(t, dir, "physics/drag.lua", `count = (count or 0) + 1; return { k = 3 }`)

	L, b := newBoundState(t, lib, dir, nil)
	require.NoError(t, L.DoString(`
		a = require("util").twice(4)
		g = require("physics").g
		k = require("physics.drag").k
		require("physics.drag")
	`))

	assert.Equal(t, "8", L.GetGlobal("a").String())
	assert.Equal(t, "9", L.GetGlobal("g").String())
	assert.Equal(t, "3", L.GetGlobal("k").String())
	assert.Equal(t, "1", L.GetGlobal("count").String(), "module bodies run once per context")
	assert.ElementsMatch(t, []string{"util", "physics", "physics.drag"}, b.Loaded())
	assert.Zero(t, b.CoreRedirects())
}

func TestResolver_NilReturnCachedAsTrue(t *testing.T) {
	lib := core.NewLibrary(nil)
	defer lib.Close()

	dir := t.TempDir()
	writeFile(t, dir, "side.lua", `touched = true`)

	L, _ := newBoundState(t, lib, dir, nil)
	require.NoError(t, L.DoString(`r = require("side")`))
	assert.Equal(t, lua.LTrue, L.GetGlobal("r"))
}

func TestResolver_Errors(t *testing.T) {
	lib := core.NewLibrary(nil)
	defer lib.Close()

	dir := t.TempDir()
	writeFile(t, dir, "a.lua", `return require("b")`)
	writeFile(t, dir, "b.lua", `return require("a")`)
	writeFile(t, dir, "broken.lua", `return {`)
	writeFile(t, dir, "raises.lua", `error("boom")`)

	tests := []struct {
		name    string
		code    string
		wantErr string
	}{
		{"missing module", `require("nope")`, `module "nope" not found`},
		{"path escape", `require("../etc")`, `invalid module name`},
		{"circular", `require("a")`, `circular require`},
		{"syntax error", `require("broken")`, `broken.lua`},
		{"runtime error", `require("raises")`, `boom`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			L, _ := newBoundState(t, lib, dir, nil)
			err := L.DoString(tt.code)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestResolver_FailedRequireCanBeRetried(t *testing.T) {
	lib := core.NewLibrary(nil)
	defer lib.Close()

	dir := t.TempDir()
	writeFile(t, dir, "flaky.lua", `if not ready then error("not ready") end; return 1`)

	L, _ := newBoundState(t, lib, dir, nil)
	require.Error(t, L.DoString(`require("flaky")`))
	require.NoError(t, L.DoString(`ready = true; v = require("flaky")`))
	assert.Equal(t, "1", L.GetGlobal("v").String())
}
