// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grindstone Contributors

// Command scripthost loads Lua script modules, drives their components and
// reloads them when their sources change.
package main

import (
	"fmt"
	"os"
	"runtime/debug"
)

// Set by the release build with -ldflags.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	cmd := NewRootCmd()
	cmd.Version = versionString(version, commit, date, readBuildInfo)
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func readBuildInfo() (*debug.BuildInfo, bool) {
	return debug.ReadBuildInfo()
}

// versionString describes the build. A dev build installed with go install
// reports the module version and VCS revision recorded by the toolchain.
func versionString(version, commit, date string, info func() (*debug.BuildInfo, bool)) string {
	if version == "dev" {
		if bi, ok := info(); ok {
			if v := bi.Main.Version; v != "" && v != "(devel)" {
				version = v
			}
			for _, s := range bi.Settings {
				switch s.Key {
				case "vcs.revision":
					if commit == "unknown" {
						commit = s.Value
					}
				case "vcs.time":
					if date == "unknown" {
						date = s.Value
					}
				}
			}
		}
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)
}
