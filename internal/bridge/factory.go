// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grindstone Contributors

package bridge

import (
	"context"

	"github.com/grindstone/scripthost/internal/handle"
	"github.com/grindstone/scripthost/internal/logging"
	"github.com/grindstone/scripthost/internal/script/core"
	"github.com/grindstone/scripthost/pkg/errutil"
)

// Create instantiates typeName from the module behind key and pins the
// instance. When owner is non-nil and the type declares the configured
// owner field, the owner is injected into it; a type without the field is
// created anyway as a plain object. No handle is allocated on failure.
func (s *Session) Create(key ModuleKey, typeName string, owner *core.EntityIdentity) (handle.Handle, error) {
	h, err := s.create(key, typeName, owner)
	if err != nil {
		errutil.LogError(s.logger, "create failed", err)
		return 0, err
	}
	return h, nil
}

func (s *Session) create(key ModuleKey, typeName string, owner *core.EntityIdentity) (handle.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.modules[key]
	if !ok {
		return 0, errorf(CodeModuleNotFound).
			With("key", key.String()).
			With("type", typeName).
			Wrapf(ErrModuleNotFound, "module %s", key)
	}
	t, ok := entry.lookupType(typeName)
	if !ok {
		return 0, errorf(CodeTypeNotFound).
			With("key", key.String()).
			With("module", entry.Name).
			With("type", typeName).
			Wrapf(ErrTypeNotFound, "type %s in module %s", typeName, entry.Name)
	}

	mc := entry.ctx
	inst, err := t.instantiate(mc.state)
	if err != nil {
		return 0, errorf(CodeInstantiationFailed).
			With("key", key.String()).
			With("module", entry.Name).
			With("type", typeName).
			Wrapf(ErrInstantiationFailed, "construct %s: %v", typeName, err)
	}

	if owner != nil && !t.setOwner(mc.state, s.lib, inst, *owner) {
		s.logger.Warn("type has no owner field, created as plain object",
			"module", entry.Name,
			"type", typeName,
			"field", s.cfg.OwnerField,
			"entity", owner.String())
	}

	h, err := s.handles.Allocate(entry.Generation, &Object{ctx: mc, typ: t, value: inst})
	if err != nil {
		return 0, errorf(CodeInstantiationFailed).
			With("key", key.String()).
			With("type", typeName).
			Wrapf(ErrInstantiationFailed, "pin %s: %v", typeName, err)
	}
	s.recordHandles()

	s.logger.Log(context.Background(), logging.LevelTrace, "object created",
		"module", entry.Name,
		"type", typeName,
		"handle", h.String())
	return h, nil
}
