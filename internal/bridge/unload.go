// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grindstone Contributors

package bridge

import (
	"context"
	"errors"
	"runtime"
	"time"
	"weak"

	"github.com/sethvargo/go-retry"
	lua "github.com/yuin/gopher-lua"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// UnloadOutcome is the result of Unload.
type UnloadOutcome int

// Unload outcomes.
const (
	UnloadSuccess UnloadOutcome = iota
	UnloadStillReferenced
	UnloadNotLoaded
)

// String returns the outcome's metric label.
func (o UnloadOutcome) String() string {
	switch o {
	case UnloadSuccess:
		return "success"
	case UnloadStillReferenced:
		return "still_referenced"
	case UnloadNotLoaded:
		return "not_loaded"
	default:
		return "unknown"
	}
}

var errStillReferenced = errors.New("context still referenced")

// contextRefs weakly tracks the memory roots of an unloaded context: the
// Go wrapper, its Lua state, globals and registry, the exports table, and every
// class and instance metatable. A native caller retaining any module value
// keeps at least one of them reachable.
type contextRefs struct {
	ctx    weak.Pointer[ModuleContext]
	state  weak.Pointer[lua.LState]
	tables []weak.Pointer[lua.LTable]
}

// watch takes weak references to mc's memory roots.
//
//go:noinline
func watch(mc *ModuleContext) contextRefs {
	refs := contextRefs{
		ctx:   weak.Make(mc),
		state: weak.Make(mc.state),
	}
	track := func(t *lua.LTable) {
		if t != nil {
			refs.tables = append(refs.tables, weak.Make(t))
		}
	}
	track(mc.state.G.Global)
	track(mc.state.G.Registry)
	track(mc.exports)
	for _, t := range mc.types {
		track(t.class)
		track(t.meta)
	}
	return refs
}

// live counts the roots that are still reachable.
func (r contextRefs) live() int {
	n := 0
	if r.ctx.Value() != nil {
		n++
	}
	if r.state.Value() != nil {
		n++
	}
	for _, t := range r.tables {
		if t.Value() != nil {
			n++
		}
	}
	return n
}

// drainingContext is an unloaded context that something outside the bridge
// still keeps alive. Only weak references are held.
type drainingContext struct {
	refs       contextRefs
	path       string
	generation uint32
	since      time.Time
}

// Unload tears down a module context and verifies it was reclaimed.
//
// The context's handles are revoked, its module table entry removed and its
// Lua state closed before collection is forced. If the context is still
// reachable afterwards the outcome is UnloadStillReferenced and the context
// is kept as draining: a later Unload of the same key probes it again, and
// Load refuses the key until it is gone.
func (s *Session) Unload(ctx context.Context, key ModuleKey) UnloadOutcome {
	ctx, span := s.tracer.Start(ctx, "bridge.Unload",
		trace.WithAttributes(attribute.String("module.key", key.String())))
	defer span.End()

	outcome := s.unload(ctx, key)
	span.SetAttributes(attribute.String("unload.outcome", outcome.String()))
	RecordModuleUnload(outcome)
	return outcome
}

func (s *Session) unload(ctx context.Context, key ModuleKey) UnloadOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.modules[key]
	if !ok {
		if d, draining := s.draining[key]; draining {
			return s.reprobe(ctx, key, d)
		}
		s.logger.Warn("unload of module that is not loaded", "key", key.String())
		return UnloadNotLoaded
	}
	path, generation := entry.Path, entry.Generation

	refs, pinned := s.teardown(key)
	s.recordHandles()

	passes, reclaimed := s.collect(ctx, refs)
	if reclaimed {
		s.logger.Info("module unloaded",
			"key", key.String(),
			"path", path,
			"generation", generation,
			"gc_passes", passes)
		return UnloadSuccess
	}

	s.draining[key] = &drainingContext{
		refs:       refs,
		path:       path,
		generation: generation,
		since:      time.Now(),
	}
	s.logger.Error("module context still referenced after unload",
		"key", key.String(),
		"path", path,
		"generation", generation,
		"orphaned_handles", pinned,
		"live_roots", refs.live(),
		"gc_passes", passes)
	return UnloadStillReferenced
}

// teardown removes every bridge-held strong reference to the module's
// context and returns weak references to its memory roots. Callers must
// hold the lock.
//
//go:noinline
func (s *Session) teardown(key ModuleKey) (contextRefs, int) {
	entry := s.modules[key]
	delete(s.modules, key)

	pinned := s.handles.Revoke(entry.Generation, s.cfg.ReleaseHandles)

	mc := entry.ctx
	entry.ctx = nil
	refs := watch(mc)
	mc.close()
	return refs, pinned
}

// collect forces collection passes until every root in refs is cleared or
// the pass budget is spent.
func (s *Session) collect(ctx context.Context, refs contextRefs) (int, bool) {
	if ctx == nil {
		ctx = context.Background()
	}
	passes := 0
	b := retry.WithMaxRetries(uint64(s.cfg.UnloadMaxPasses-1), retry.NewConstant(s.cfg.UnloadPassInterval)) //nolint:gosec // max passes is validated positive
	err := retry.Do(ctx, b, func(_ context.Context) error {
		passes++
		runtime.GC()
		if refs.live() > 0 {
			return retry.RetryableError(errStillReferenced)
		}
		return nil
	})
	UnloadGCPasses.Observe(float64(passes))
	return passes, err == nil
}

// reprobe checks whether a draining context has been reclaimed since its
// unload. Callers must hold the lock.
func (s *Session) reprobe(ctx context.Context, key ModuleKey, d *drainingContext) UnloadOutcome {
	passes, reclaimed := s.collect(ctx, d.refs)
	if reclaimed {
		delete(s.draining, key)
		s.logger.Info("draining module reclaimed",
			"key", key.String(),
			"path", d.path,
			"generation", d.generation,
			"gc_passes", passes)
		return UnloadSuccess
	}
	s.logger.Error("module context still referenced after unload",
		"key", key.String(),
		"path", d.path,
		"generation", d.generation,
		"orphaned_handles", s.handles.Pinned(d.generation),
		"live_roots", d.refs.live(),
		"draining_for", time.Since(d.since).String(),
		"gc_passes", passes)
	return UnloadStillReferenced
}

// Draining returns the keys of unloaded modules whose contexts are still
// referenced.
func (s *Session) Draining() []ModuleKey {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]ModuleKey, 0, len(s.draining))
	for k := range s.draining {
		keys = append(keys, k)
	}
	return keys
}
