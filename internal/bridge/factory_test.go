// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grindstone Contributors

package bridge_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"

	"github.com/grindstone/scripthost/internal/bridge"
	"github.com/grindstone/scripthost/internal/script/core"
	"github.com/grindstone/scripthost/pkg/errutil"
)

func TestCreate_InjectsOwner(t *testing.T) {
	s := newSession(t)
	key := mustLoad(t, s, moversDir)

	owner := core.EntityIdentity{Entity: 42, Scene: core.SceneRef{ID: 7}}
	h, err := s.Create(key, "Mover", &owner)
	require.NoError(t, err)
	require.NotZero(t, h)

	obj, err := s.Resolve(h)
	require.NoError(t, err)
	assert.Equal(t, "Mover", obj.TypeName())

	got, ok := obj.Owner()
	require.True(t, ok)
	assert.Equal(t, owner, got)
}

func TestCreate_DefaultsAndConstructor(t *testing.T) {
	s := newSession(t)
	key := mustLoad(t, s, moversDir)

	h1 := createMover(t, s, key, 1)
	h2 := createMover(t, s, key, 2)
	a, err := s.Resolve(h1)
	require.NoError(t, err)
	b, err := s.Resolve(h2)
	require.NoError(t, err)

	assert.Equal(t, lua.LNumber(2), a.Get("speed"), "derived default overrides base")
	assert.Equal(t, lua.LString(core.Version), a.Get("core_version"), "init sees the engine core library")

	tagsA, ok := a.Get("tags").(*lua.LTable)
	require.True(t, ok)
	tagsB, ok := b.Get("tags").(*lua.LTable)
	require.True(t, ok)
	assert.NotSame(t, tagsA, tagsB, "table defaults are copied per instance")
	assert.NotSame(t, a.Get("velocity"), b.Get("velocity"), "value defaults are copied per instance")
}

func TestCreate_PlainObjectWithoutOwnerField(t *testing.T) {
	f := newFixture(t, bridge.Config{})
	key := mustLoad(t, f.session, spinnerFile)

	h, err := f.session.Create(key, "Note", &core.EntityIdentity{Entity: 3})
	require.NoError(t, err)
	require.NotZero(t, h)
	assert.Contains(t, f.logs.String(), "type has no owner field")

	obj, err := f.session.Resolve(h)
	require.NoError(t, err)
	_, ok := obj.Owner()
	assert.False(t, ok)
}

func TestCreate_PlainTableOwnerField(t *testing.T) {
	s := newSession(t)
	key := mustLoad(t, s, spinnerFile)

	h, err := s.Create(key, "Spinner", &core.EntityIdentity{Entity: 9})
	require.NoError(t, err)
	obj, err := s.Resolve(h)
	require.NoError(t, err)

	owner, ok := obj.Owner()
	require.True(t, ok)
	assert.Equal(t, uint32(9), owner.Entity)
}

func TestCreate_CustomOwnerField(t *testing.T) {
	s := newFixture(t, bridge.Config{OwnerField: "rate"}).session
	key := mustLoad(t, s, spinnerFile)

	h, err := s.Create(key, "Spinner", &core.EntityIdentity{Entity: 4})
	require.NoError(t, err)
	obj, err := s.Resolve(h)
	require.NoError(t, err)

	_, isEntity := s.Library().ToEntity(obj.Get("rate"))
	assert.True(t, isEntity)
}

func TestCreate_ObjectWithoutOwner(t *testing.T) {
	s := newSession(t)
	key := mustLoad(t, s, moversDir)

	h, err := s.Create(key, "Mover", nil)
	require.NoError(t, err)
	obj, err := s.Resolve(h)
	require.NoError(t, err)

	_, ok := obj.Owner()
	assert.False(t, ok)
}

func TestCreate_MissingTypeAllocatesNothing(t *testing.T) {
	s := newSession(t)
	key := mustLoad(t, s, moversDir)
	createMover(t, s, key, 1)
	before := s.LiveHandles()

	h, err := s.Create(key, "MissingType", nil)
	require.ErrorIs(t, err, bridge.ErrTypeNotFound)
	errutil.AssertErrorCode(t, err, bridge.CodeTypeNotFound)
	assert.Zero(t, h)
	assert.Equal(t, before, s.LiveHandles())
}

func TestCreate_ConstructorFailureAllocatesNothing(t *testing.T) {
	s := newSession(t)
	key := mustLoad(t, s, moversDir)
	before := s.LiveHandles()

	h, err := s.Create(key, "Exploding", nil)
	require.ErrorIs(t, err, bridge.ErrInstantiationFailed)
	errutil.AssertErrorCode(t, err, bridge.CodeInstantiationFailed)
	assert.Contains(t, err.Error(), "constructor failed")
	assert.Zero(t, h)
	assert.Equal(t, before, s.LiveHandles())
}

func TestCreate_UnknownModule(t *testing.T) {
	s := newSession(t)

	h, err := s.Create(bridge.ModuleKey(77), "Mover", nil)
	require.ErrorIs(t, err, bridge.ErrModuleNotFound)
	errutil.AssertErrorCode(t, err, bridge.CodeModuleNotFound)
	assert.Zero(t, h)
}
