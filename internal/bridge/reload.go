// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grindstone Contributors

package bridge

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Reload replaces a loaded module with a fresh generation from the same
// path. The key is unchanged because it derives from the path.
//
// A module whose handles are still pinned is left loaded and
// ErrStillReferenced is returned, unless the session releases handles on
// unload. If the unload itself reports UnloadStillReferenced the old
// generation is draining and the new one is not loaded.
func (s *Session) Reload(ctx context.Context, key ModuleKey) (ModuleKey, error) {
	ctx, span := s.tracer.Start(ctx, "bridge.Reload",
		trace.WithAttributes(attribute.String("module.key", key.String())))
	defer span.End()

	s.mu.Lock()
	entry, ok := s.modules[key]
	var (
		path       string
		generation uint32
		pinned     int
	)
	if ok {
		path, generation = entry.Path, entry.Generation
		pinned = s.handles.Pinned(generation)
	}
	s.mu.Unlock()

	if !ok {
		err := errorf(CodeModuleNotFound).
			With("key", key.String()).
			Wrapf(ErrModuleNotFound, "module %s", key)
		span.RecordError(err)
		span.SetStatus(codes.Error, "reload failed")
		return 0, err
	}

	if pinned > 0 && !s.cfg.ReleaseHandles {
		err := errorf(CodeStillReferenced).
			With("key", key.String()).
			With("path", path).
			With("handles", pinned).
			Wrapf(ErrStillReferenced, "module %s has %d live handles", path, pinned)
		s.logger.Warn("reload deferred, module has live handles",
			"key", key.String(),
			"path", path,
			"generation", generation,
			"handles", pinned)
		span.RecordError(err)
		span.SetStatus(codes.Error, "reload refused")
		return 0, err
	}

	if outcome := s.Unload(ctx, key); outcome != UnloadSuccess {
		err := errorf(CodeStillReferenced).
			With("key", key.String()).
			With("path", path).
			With("outcome", outcome.String()).
			Wrapf(ErrStillReferenced, "unload %s: %s", path, outcome)
		span.RecordError(err)
		span.SetStatus(codes.Error, "reload failed")
		return 0, err
	}

	newKey, err := s.Load(ctx, path)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reload failed")
		return 0, err
	}
	s.logger.Info("module reloaded",
		"key", newKey.String(),
		"path", path,
		"previous_generation", generation)
	return newKey, nil
}

// Path returns the load path of a loaded module.
func (s *Session) Path(key ModuleKey) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.modules[key]
	if !ok {
		return "", false
	}
	return e.Path, true
}
