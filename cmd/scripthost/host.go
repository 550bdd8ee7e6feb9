// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grindstone Contributors

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/grindstone/scripthost/internal/bridge"
	"github.com/grindstone/scripthost/internal/handle"
	"github.com/grindstone/scripthost/internal/script/core"
)

// host plays the engine side of the bridge: it owns the handles of the
// instances it spawns and drives their lifecycle.
type host struct {
	session *bridge.Session
	logger  *slog.Logger
	owner   *core.EntityIdentity
	types   []string
	paths   map[bridge.ModuleKey]string
	objects map[bridge.ModuleKey][]handle.Handle
	frames  int
	failed  int
}

func newHost(session *bridge.Session, logger *slog.Logger, owner *core.EntityIdentity, types []string) *host {
	return &host{
		session: session,
		logger:  logger,
		owner:   owner,
		types:   types,
		paths:   make(map[bridge.ModuleKey]string),
		objects: make(map[bridge.ModuleKey][]handle.Handle),
	}
}

// load loads the module at path and spawns its instances.
func (h *host) load(ctx context.Context, path string) (bridge.ModuleKey, error) {
	key, err := h.session.Load(ctx, path)
	if err != nil {
		return 0, err
	}
	h.paths[key] = path
	return key, h.spawn(key)
}

// spawn creates one instance per requested type, or per exported type when
// none were requested, and runs OnAttach then OnStart on each.
func (h *host) spawn(key bridge.ModuleKey) error {
	info, ok := h.session.Module(key)
	if !ok {
		return fmt.Errorf("module %s not loaded", key)
	}
	names := h.types
	if len(names) == 0 {
		names = info.Types
	}

	created := make([]handle.Handle, 0, len(names))
	for _, name := range names {
		hd, err := h.session.Create(key, name, h.owner)
		if err != nil {
			if len(h.types) > 0 {
				h.release(created)
				return fmt.Errorf("create %s in %s: %w", name, info.Path, err)
			}
			continue
		}
		created = append(created, hd)
	}
	for _, op := range []bridge.Op{bridge.OpAttach, bridge.OpStart} {
		for _, hd := range created {
			h.invoke(hd, op)
		}
	}
	h.objects[key] = created
	h.logger.Debug("instances spawned", "module", info.Name, "count", len(created))
	return nil
}

// despawn destroys and frees every instance of key.
func (h *host) despawn(key bridge.ModuleKey) {
	handles := h.objects[key]
	for _, hd := range handles {
		h.invoke(hd, bridge.OpDestroy)
	}
	h.release(handles)
	delete(h.objects, key)
}

func (h *host) release(handles []handle.Handle) {
	for _, hd := range handles {
		_ = h.session.Free(hd)
	}
}

// tick runs one frame. Editor frames call OnEditorUpdate instead of
// OnUpdate.
func (h *host) tick(editor bool) {
	op := bridge.OpUpdate
	if editor {
		op = bridge.OpEditorUpdate
	}
	for _, key := range h.keys() {
		for _, hd := range h.objects[key] {
			h.invoke(hd, op)
		}
	}
	h.frames++
}

func (h *host) invoke(hd handle.Handle, op bridge.Op) {
	if err := h.session.Invoke(hd, op); err != nil {
		h.failed++
	}
}

// shutdown despawns everything and unloads the modules.
func (h *host) shutdown(ctx context.Context) {
	for _, key := range h.keys() {
		h.despawn(key)
	}
	for key := range h.paths {
		h.session.Unload(ctx, key)
	}
}

func (h *host) keys() []bridge.ModuleKey {
	keys := make([]bridge.ModuleKey, 0, len(h.objects))
	for k := range h.objects {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func (h *host) instances() int {
	n := 0
	for _, handles := range h.objects {
		n += len(handles)
	}
	return n
}

// Reload implements reload.Reloader. A module whose previous reload failed
// is no longer loaded, so it is loaded again from its original path.
func (h *host) Reload(ctx context.Context, key bridge.ModuleKey) (bridge.ModuleKey, error) {
	newKey, err := h.session.Reload(ctx, key)
	if errors.Is(err, bridge.ErrModuleNotFound) {
		if path, ok := h.paths[key]; ok {
			newKey, err = h.session.Load(ctx, path)
		}
	}
	return newKey, err
}

// respawn respawns a module whose reload failed before it was unloaded.
func (h *host) respawn(key bridge.ModuleKey) {
	if _, ok := h.session.Module(key); !ok || len(h.objects[key]) > 0 {
		return
	}
	if err := h.spawn(key); err != nil {
		h.logger.Warn("respawn failed", "key", key.String(), "error", err)
	}
}
