// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grindstone Contributors

package core

import (
	"context"
	"log/slog"

	"github.com/oklog/ulid/v2"
	lua "github.com/yuin/gopher-lua"

	"github.com/grindstone/scripthost/internal/logging"
)

// scriptLogLevels maps the level names accepted by core.log.
var scriptLogLevels = map[string]slog.Level{
	"trace": logging.LevelTrace,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// logFn implements core.log(level, message). Unknown levels raise so that
// script authors notice typos.
func (l *Library) logFn(L *lua.LState) int {
	level := L.CheckString(1)
	message := L.CheckString(2)

	lvl, ok := scriptLogLevels[level]
	if !ok {
		L.ArgError(1, "level must be one of trace, info, warn, error")
		return 0
	}

	ctx := L.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	l.logger.Log(ctx, lvl, message, "module", moduleName(L), "source", "script")
	return 0
}

func newIDFn(L *lua.LState) int {
	L.Push(lua.LString(ulid.Make().String()))
	return 1
}
