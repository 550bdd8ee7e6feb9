// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grindstone Contributors

package bridge

import (
	"context"
	"errors"
)

// ListFields returns the public instance fields of a type in a loaded
// module. No instance is created.
func (s *Session) ListFields(key ModuleKey, typeName string) ([]FieldDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.modules[key]
	if !ok {
		return nil, errorf(CodeModuleNotFound).
			With("key", key.String()).
			Wrapf(ErrModuleNotFound, "module %s", key)
	}
	t, ok := entry.lookupType(typeName)
	if !ok {
		return nil, errorf(CodeTypeNotFound).
			With("module", entry.Name).
			With("type", typeName).
			Wrapf(ErrTypeNotFound, "type %s in module %s", typeName, entry.Name)
	}
	return t.Fields(), nil
}

// InspectFields lists the fields of a type by module path. A loaded module
// answers from its type cache; otherwise the module is loaded into a
// throwaway context that is never registered and is closed before
// returning.
func (s *Session) InspectFields(ctx context.Context, path, typeName string) ([]FieldDescriptor, error) {
	key, err := s.KeyForPath(path)
	if err != nil {
		return nil, err
	}
	fields, err := s.ListFields(key, typeName)
	if !errors.Is(err, ErrModuleNotFound) {
		return fields, err
	}

	abs, err := s.paths.Resolve(path)
	if err != nil {
		return nil, errorf(CodePathNotFound).
			With("path", path).
			Wrapf(ErrPathNotFound, "%v", err)
	}
	src, err := locate(abs)
	if err != nil {
		return nil, err
	}

	mc, err := s.openContext(ctx, src, 0)
	if err != nil {
		return nil, err
	}
	defer mc.close()

	t, ok := mc.types[typeName]
	if !ok {
		return nil, errorf(CodeTypeNotFound).
			With("path", abs).
			With("type", typeName).
			Wrapf(ErrTypeNotFound, "type %s in %s", typeName, abs)
	}
	return t.Fields(), nil
}
