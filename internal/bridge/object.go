// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grindstone Contributors

package bridge

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/grindstone/scripthost/internal/handle"
	"github.com/grindstone/scripthost/internal/script/core"
)

// Object is a script instance pinned by a handle. It keeps its module
// context reachable for as long as it is pinned.
type Object struct {
	ctx   *ModuleContext
	typ   *ScriptType
	value *lua.LTable
}

// TypeName returns the script type the object was created from.
func (o *Object) TypeName() string {
	return o.typ.Name
}

// Generation returns the generation of the owning module context.
func (o *Object) Generation() uint32 {
	return o.ctx.generation
}

// Value returns the underlying Lua table.
func (o *Object) Value() *lua.LTable {
	return o.value
}

// Get reads a field, following the type's inheritance chain.
func (o *Object) Get(field string) lua.LValue {
	return o.ctx.state.GetField(o.value, field)
}

// Owner returns the entity injected into the object's owner field.
func (o *Object) Owner() (core.EntityIdentity, bool) {
	if o.typ.ownerField == "" {
		return core.EntityIdentity{}, false
	}
	return o.ctx.lib.ToEntity(o.value.RawGetString(o.typ.ownerField))
}

// Resolve returns the object pinned by h.
func (s *Session) Resolve(h handle.Handle) (*Object, error) {
	obj, err := s.handles.Resolve(h)
	if err != nil {
		return nil, handleError(h, err)
	}
	return obj, nil
}

// Free releases h. Freeing a handle whose module was already unloaded is a
// no-op.
func (s *Session) Free(h handle.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.handles.Free(h); err != nil {
		err = handleError(h, err)
		s.logger.Warn("free of unknown handle", "handle", h.String(), "error", err)
		return err
	}
	s.recordHandles()
	return nil
}
