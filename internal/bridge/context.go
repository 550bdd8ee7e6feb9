// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grindstone Contributors

package bridge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
	lua "github.com/yuin/gopher-lua"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/grindstone/scripthost/internal/module"
	"github.com/grindstone/scripthost/internal/script/core"
	scriptlua "github.com/grindstone/scripthost/internal/script/lua"
	"github.com/grindstone/scripthost/pkg/errutil"
)

// ModuleContext is the isolated Lua state hosting one module generation.
// It owns every object created from the module and is reclaimed by the
// garbage collector once the bridge and all pinned handles let go of it.
type ModuleContext struct {
	id         ulid.ULID
	generation uint32
	source     *module.Source
	lib        *core.Library
	state      *lua.LState
	binding    *scriptlua.Binding
	exports    *lua.LTable
	types      map[string]*ScriptType
}

// openContext creates the Lua state for src, runs its main chunk and builds
// the type cache. Generation 0 marks a throwaway inspection context.
func (s *Session) openContext(ctx context.Context, src *module.Source, generation uint32) (*ModuleContext, error) {
	fail := func(cause error, format string, args ...any) error {
		return errorf(CodeResolutionFailed).
			With("path", src.Path).
			Wrapf(ErrResolutionFailed, format+": %v", append(args, cause)...)
	}

	if src.Manifest != nil {
		if err := src.Manifest.CheckCore(core.Version); err != nil {
			return nil, fail(err, "incompatible core library")
		}
	}

	L, err := s.states.NewState(ctx)
	if err != nil {
		return nil, fail(err, "create script state")
	}

	mc := &ModuleContext{
		id:         ulid.Make(),
		generation: generation,
		source:     src,
		lib:        s.lib,
		state:      L,
		types:      make(map[string]*ScriptType),
	}
	mc.binding = s.resolver.Install(L, src.Dir)
	core.SetModuleName(L, src.Name())

	fn, err := L.LoadFile(src.Entry)
	if err != nil {
		L.Close()
		return nil, fail(err, "compile %s", src.Entry)
	}
	L.Push(fn)
	if err := L.PCall(0, 1, nil); err != nil {
		L.Close()
		return nil, fail(err, "run %s", src.Entry)
	}
	ret := L.Get(-1)
	L.Pop(1)

	exports, ok := ret.(*lua.LTable)
	if !ok {
		L.Close()
		return nil, fail(fmt.Errorf("got %s", ret.Type()), "main chunk must return a table of types")
	}
	mc.exports = exports

	var buildErr error
	exports.ForEach(func(k, v lua.LValue) {
		if buildErr != nil {
			return
		}
		name, isName := k.(lua.LString)
		class, isClass := v.(*lua.LTable)
		if !isName || !isClass {
			s.logger.Warn("skipping non-type export",
				"path", src.Path,
				"key", k.String(),
				"value_type", v.Type().String())
			return
		}
		t, err := newScriptType(L, s.lib, string(name), class, s.cfg.OwnerField)
		if err != nil {
			buildErr = fail(err, "type %s", name)
			return
		}
		mc.types[string(name)] = t
	})
	if buildErr != nil {
		L.Close()
		return nil, buildErr
	}

	return mc, nil
}

func (mc *ModuleContext) typeNames() []string {
	names := make([]string, 0, len(mc.types))
	for name := range mc.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// close releases the Lua state. Objects that still reference the context
// keep its memory alive but can no longer run script code safely.
func (mc *ModuleContext) close() {
	mc.state.Close()
	mc.binding = nil
}

// Load creates a module context for path and registers it in the module
// table.
func (s *Session) Load(ctx context.Context, path string) (ModuleKey, error) {
	ctx, span := s.tracer.Start(ctx, "bridge.Load",
		trace.WithAttributes(attribute.String("module.path", path)))
	defer span.End()

	key, err := s.load(ctx, path)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		RecordModuleLoad(errutil.CodeOr(err, StatusError))
		errutil.LogError(s.logger, "module load failed", err)
		return 0, err
	}
	span.SetAttributes(attribute.String("module.key", key.String()))
	RecordModuleLoad(StatusSuccess)
	return key, nil
}

func (s *Session) load(ctx context.Context, path string) (ModuleKey, error) {
	abs, err := s.paths.Resolve(path)
	if err != nil {
		return 0, errorf(CodePathNotFound).
			With("path", path).
			Wrapf(ErrPathNotFound, "%v", err)
	}
	key := KeyOf(abs)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.modules[key]; ok {
		return 0, errorf(CodeAlreadyLoaded).
			With("path", abs).
			With("key", key.String()).
			Wrapf(ErrAlreadyLoaded, "module %s is already loaded", abs)
	}
	if d, ok := s.draining[key]; ok {
		if _, reclaimed := s.collect(ctx, d.refs); !reclaimed {
			return 0, errorf(CodeAlreadyLoaded).
				With("path", abs).
				With("key", key.String()).
				With("generation", d.generation).
				Wrapf(ErrAlreadyLoaded, "previous generation of %s is still referenced", abs)
		}
		delete(s.draining, key)
		s.logger.Info("draining module reclaimed",
			"key", key.String(),
			"generation", d.generation)
	}

	src, err := locate(abs)
	if err != nil {
		return 0, err
	}

	generation := s.nextGeneration()
	mc, err := s.openContext(ctx, src, generation)
	if err != nil {
		return 0, err
	}

	entry := &ModuleEntry{
		Key:        key,
		Path:       abs,
		Name:       src.Name(),
		Generation: generation,
		Manifest:   src.Manifest,
		LoadedAt:   time.Now(),
		ctx:        mc,
	}
	s.handles.Open(generation)
	s.modules[key] = entry

	s.logger.Info("module loaded",
		"key", key.String(),
		"path", abs,
		"module", entry.Name,
		"generation", generation,
		"context_id", mc.id.String(),
		"types", len(mc.types),
		"core_redirects", mc.binding.CoreRedirects())
	return key, nil
}

// locate finds the module source at abs, mapping a missing source to
// PATH_NOT_FOUND and an unreadable manifest to RESOLUTION_FAILED.
func locate(abs string) (*module.Source, error) {
	src, err := module.Locate(abs)
	if err == nil {
		return src, nil
	}
	if errors.Is(err, module.ErrNotFound) {
		return nil, errorf(CodePathNotFound).
			With("path", abs).
			Wrapf(ErrPathNotFound, "%v", err)
	}
	return nil, errorf(CodeResolutionFailed).
		With("path", abs).
		Wrapf(ErrResolutionFailed, "read module: %v", err)
}
