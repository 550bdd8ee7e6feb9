// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grindstone Contributors

package bridge

import (
	"context"
	"strings"

	"github.com/grindstone/scripthost/internal/handle"
	"github.com/grindstone/scripthost/internal/script/core"
)

// FieldSeparator joins field names in Boundary.ListFields.
const FieldSeparator = ","

// Boundary is the flat entry-point surface the native engine calls. It
// never returns an error or panics: every failure is logged by the session
// and reported as a zero key, zero handle, zero count or empty string.
type Boundary struct {
	s   *Session
	ctx context.Context
}

// NewBoundary wraps a session. ctx is used for load and unload spans.
func NewBoundary(ctx context.Context, s *Session) *Boundary {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Boundary{s: s, ctx: ctx}
}

// Session returns the wrapped session.
func (b *Boundary) Session() *Session {
	return b.s
}

// CreateContext loads the module at path and returns its key, or 0.
func (b *Boundary) CreateContext(path string) (key ModuleKey) {
	defer b.guard("CreateContext", func() { key = 0 })
	k, err := b.s.Load(b.ctx, path)
	if err != nil {
		return 0
	}
	return k
}

// DestroyContext unloads the module behind key.
func (b *Boundary) DestroyContext(key ModuleKey) (outcome UnloadOutcome) {
	defer b.guard("DestroyContext", func() { outcome = UnloadStillReferenced })
	return b.s.Unload(b.ctx, key)
}

// CountTypes returns the number of types the module exports, or 0.
func (b *Boundary) CountTypes(key ModuleKey) (n int) {
	defer b.guard("CountTypes", func() { n = 0 })
	n, err := b.s.CountTypes(key)
	if err != nil {
		b.s.logger.Warn("count types of unknown module", "key", key.String())
		return 0
	}
	return n
}

// CreateComponent creates an entity-bound object, or returns 0.
func (b *Boundary) CreateComponent(key ModuleKey, typeName string, entity core.EntityIdentity) (h handle.Handle) {
	defer b.guard("CreateComponent", func() { h = 0 })
	h, err := b.s.Create(key, typeName, &entity)
	if err != nil {
		return 0
	}
	return h
}

// CreateObject creates a free-standing object, or returns 0.
func (b *Boundary) CreateObject(key ModuleKey, typeName string) (h handle.Handle) {
	defer b.guard("CreateObject", func() { h = 0 })
	h, err := b.s.Create(key, typeName, nil)
	if err != nil {
		return 0
	}
	return h
}

// InvokeAttach runs the attach hook of the object behind h.
func (b *Boundary) InvokeAttach(h handle.Handle) { b.invoke(h, OpAttach) }

// InvokeStart runs the start hook of the object behind h.
func (b *Boundary) InvokeStart(h handle.Handle) { b.invoke(h, OpStart) }

// InvokeUpdate runs the update hook of the object behind h.
func (b *Boundary) InvokeUpdate(h handle.Handle) { b.invoke(h, OpUpdate) }

// InvokeEditorUpdate runs the editor-update hook of the object behind h.
func (b *Boundary) InvokeEditorUpdate(h handle.Handle) { b.invoke(h, OpEditorUpdate) }

// InvokeDestroy runs the destroy hook of the object behind h.
func (b *Boundary) InvokeDestroy(h handle.Handle) { b.invoke(h, OpDestroy) }

func (b *Boundary) invoke(h handle.Handle, op Op) {
	defer b.guard(op.Method(), nil)
	_ = b.s.Invoke(h, op) //nolint:errcheck // failures are logged by the session
}

// FreeHandle releases h.
func (b *Boundary) FreeHandle(h handle.Handle) {
	defer b.guard("FreeHandle", nil)
	_ = b.s.Free(h) //nolint:errcheck // failures are logged by the session
}

// ListFields returns the field names of a type joined by FieldSeparator,
// or "" when the module or type cannot be found.
func (b *Boundary) ListFields(path, typeName string) (out string) {
	defer b.guard("ListFields", func() { out = "" })
	fields, err := b.s.InspectFields(b.ctx, path, typeName)
	if err != nil {
		b.s.logger.Warn("list fields failed",
			"path", path,
			"type", typeName,
			"error", err)
		return ""
	}
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return strings.Join(names, FieldSeparator)
}

// guard converts a panic into the entry point's sentinel.
func (b *Boundary) guard(entry string, sentinel func()) {
	r := recover()
	if r == nil {
		return
	}
	b.s.logger.Error("bridge entry point panicked",
		"entry", entry,
		"panic", r)
	if sentinel != nil {
		sentinel()
	}
}
