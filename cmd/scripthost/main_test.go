// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grindstone Contributors

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const spinnerModule = `
local Spinner = { entity = false, rate = 2 }

function Spinner:OnUpdate()
  self.angle = (self.angle or 0) + self.rate
end

local Note = { text = "" }

return { Spinner = Spinner, Note = Note }
`

const failingModule = `
local Faulty = {}

function Faulty:OnUpdate()
  error("tick failed")
end

return { Faulty = Faulty }
`

// execute runs the root command with args, isolated from the user's
// configuration.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	configFile = ""

	cmd := NewRootCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestRootCommand_HasExpectedSubcommands(t *testing.T) {
	out, err := execute(t, "--help")
	require.NoError(t, err)

	for _, sub := range []string{"run", "types", "fields", "list"} {
		assert.Contains(t, out, sub, "Help missing %q command", sub)
	}
	for _, flag := range []string{"--config", "--log-level", "--watch", "--metrics-addr"} {
		assert.Contains(t, out, flag)
	}
}

func TestRootCommand_MissingExplicitConfigFails(t *testing.T) {
	path := writeFile(t, t.TempDir(), "spinner.lua", spinnerModule)

	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "absent.yaml"), "types", path)
	require.Error(t, err)
}

func TestRunCommand_DrivesFrames(t *testing.T) {
	path := writeFile(t, t.TempDir(), "spinner.lua", spinnerModule)

	out, err := execute(t, "run", path, "--frames", "3", "--interval", "1ms")
	require.NoError(t, err)

	assert.Contains(t, out, "spinner\t")
	assert.Contains(t, out, "types=2")
	assert.Contains(t, out, "handles=2")
	assert.Contains(t, out, "frames=3 instances=2 failures=0")
}

func TestRunCommand_SelectedTypeWithOwner(t *testing.T) {
	path := writeFile(t, t.TempDir(), "spinner.lua", spinnerModule)

	out, err := execute(t, "run", path, "--type", "Spinner", "--entity", "7", "--editor")
	require.NoError(t, err)
	assert.Contains(t, out, "frames=1 instances=1 failures=0")
}

func TestRunCommand_UnknownTypeFails(t *testing.T) {
	path := writeFile(t, t.TempDir(), "spinner.lua", spinnerModule)

	_, err := execute(t, "run", path, "--type", "Missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Missing")
}

func TestRunCommand_ScriptErrorsAreCounted(t *testing.T) {
	path := writeFile(t, t.TempDir(), "faulty.lua", failingModule)

	out, err := execute(t, "run", path, "--frames", "2", "--interval", "1ms")
	require.NoError(t, err)
	assert.Contains(t, out, "frames=2 instances=1 failures=2")
}

func TestRunCommand_LoadFailure(t *testing.T) {
	path := writeFile(t, t.TempDir(), "broken.lua", `return 42`)

	_, err := execute(t, "run", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load")
}

func TestRunCommand_UnboundedRequiresWatch(t *testing.T) {
	path := writeFile(t, t.TempDir(), "spinner.lua", spinnerModule)

	_, err := execute(t, "run", path, "--frames", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--watch")
}

func TestTypesCommand(t *testing.T) {
	path := writeFile(t, t.TempDir(), "spinner.lua", spinnerModule)

	out, err := execute(t, "types", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Spinner\tentity:Entity rate:number")
	assert.Contains(t, out, "Note\ttext:string")
}

func TestFieldsCommand(t *testing.T) {
	path := writeFile(t, t.TempDir(), "spinner.lua", spinnerModule)

	out, err := execute(t, "fields", path, "Spinner")
	require.NoError(t, err)
	assert.Equal(t, "entity\tEntity\nrate\tnumber\n", out)

	out, err = execute(t, "fields", path, "Spinner", "--raw")
	require.NoError(t, err)
	assert.Equal(t, "entity,rate\n", out)

	out, err = execute(t, "fields", path, "Missing", "--raw")
	require.NoError(t, err)
	assert.Equal(t, "\n", out)
}

func TestListCommand(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "spinner.lua", spinnerModule)
	writeFile(t, root, "movers/module.yaml", "name: movers\nversion: 1.0.0\ncore: ^1.0.0\n")
	writeFile(t, root, "movers/main.lua", "return {}")
	writeFile(t, root, "README.md", "not a module")

	out, err := execute(t, "list", root)
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "movers")
	assert.Contains(t, out, "^1.0.0")
	assert.NotContains(t, out, "README")

	out, err = execute(t, "list", root, "--json")
	require.NoError(t, err)
	var listings []moduleListing
	require.NoError(t, json.Unmarshal([]byte(out), &listings))
	require.Len(t, listings, 2)
	assert.Equal(t, "movers", listings[0].Name)
	assert.Equal(t, "1.0.0", listings[0].Version)
	assert.Equal(t, "spinner", listings[1].Name)
}

func TestRunCommand_WithWatchAndMetrics(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "module.yaml", "name: spinners\nversion: 0.1.0\n")
	writeFile(t, dir, "main.lua", spinnerModule)

	out, err := execute(t, "run", dir,
		"--watch",
		"--metrics-addr", "127.0.0.1:0",
		"--frames", "3",
		"--interval", "1ms")
	require.NoError(t, err)
	assert.Contains(t, out, "spinners\t")
	assert.Contains(t, out, "frames=3 instances=2 failures=0")
}

func TestVersionString(t *testing.T) {
	info := func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{
			Main: debug.Module{Version: "v1.4.0"},
			Settings: []debug.BuildSetting{
				{Key: "vcs.revision", Value: "abc123"},
				{Key: "vcs.time", Value: "2026-10-01T00:00:00Z"},
			},
		}, true
	}
	none := func() (*debug.BuildInfo, bool) { return nil, false }

	assert.Equal(t, "v1.4.0 (commit: abc123, built: 2026-10-01T00:00:00Z)",
		versionString("dev", "unknown", "unknown", info))
	assert.Equal(t, "2.0.0 (commit: f00, built: today)",
		versionString("2.0.0", "f00", "today", info), "ldflags win")
	assert.Equal(t, "dev (commit: unknown, built: unknown)",
		versionString("dev", "unknown", "unknown", none))
}
