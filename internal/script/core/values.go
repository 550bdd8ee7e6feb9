// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grindstone Contributors

package core

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// Core type names as seen by scripts.
const (
	EntityTypeName  = "Entity"
	SceneTypeName   = "Scene"
	Vector3TypeName = "Vector3"
)

// SceneRef is the opaque scene reference supplied by the ECS.
type SceneRef struct {
	ID uintptr
}

// EntityIdentity identifies an ECS entity. It is copied into script
// components, never owned by them.
type EntityIdentity struct {
	Entity uint32
	Scene  SceneRef
}

// String renders the identity for logs.
func (e EntityIdentity) String() string {
	return fmt.Sprintf("Entity(%d@%d)", e.Entity, e.Scene.ID)
}

// Vector3 is a by-value 3D vector shared between native code and scripts.
type Vector3 struct {
	X, Y, Z float64
}

// NewEntity wraps id as an Entity value owned by L.
func (l *Library) NewEntity(L *lua.LState, id EntityIdentity) *lua.LUserData {
	return l.newValue(L, EntityTypeName, id)
}

// ToEntity extracts an EntityIdentity from an Entity value.
func (l *Library) ToEntity(v lua.LValue) (EntityIdentity, bool) {
	if t, ok := l.TypeOf(v); !ok || t.Name != EntityTypeName {
		return EntityIdentity{}, false
	}
	id, ok := v.(*lua.LUserData).Value.(EntityIdentity)
	return id, ok
}

// NewVector3 wraps v as a Vector3 value owned by L.
func (l *Library) NewVector3(L *lua.LState, v Vector3) *lua.LUserData {
	return l.newValue(L, Vector3TypeName, v)
}

// ToVector3 extracts a Vector3 from a Vector3 value.
func (l *Library) ToVector3(v lua.LValue) (Vector3, bool) {
	if t, ok := l.TypeOf(v); !ok || t.Name != Vector3TypeName {
		return Vector3{}, false
	}
	vec, ok := v.(*lua.LUserData).Value.(Vector3)
	return vec, ok
}

func (l *Library) newEntityFn(L *lua.LState) int {
	id := EntityIdentity{Entity: uint32(L.CheckInt64(1))} //nolint:gosec // entity ids are 32-bit in the ECS
	switch scene := L.Get(2).(type) {
	case *lua.LUserData:
		ref, ok := scene.Value.(SceneRef)
		if !ok {
			L.ArgError(2, "Scene expected")
			return 0
		}
		id.Scene = ref
	case lua.LNumber:
		id.Scene = SceneRef{ID: uintptr(scene)}
	case *lua.LNilType:
	default:
		L.ArgError(2, "Scene or number expected")
		return 0
	}
	L.Push(l.NewEntity(L, id))
	return 1
}

func (l *Library) newSceneFn(L *lua.LState) int {
	ref := SceneRef{ID: uintptr(L.CheckInt64(1))} //nolint:gosec // opaque pointer-sized id
	L.Push(l.newValue(L, SceneTypeName, ref))
	return 1
}

func (l *Library) newVector3Fn(L *lua.LState) int {
	v := Vector3{
		X: float64(L.OptNumber(1, 0)),
		Y: float64(L.OptNumber(2, 0)),
		Z: float64(L.OptNumber(3, 0)),
	}
	L.Push(l.NewVector3(L, v))
	return 1
}

func checkEntity(L *lua.LState, n int) EntityIdentity {
	ud := L.CheckUserData(n)
	id, ok := ud.Value.(EntityIdentity)
	if !ok {
		L.ArgError(n, "Entity expected")
	}
	return id
}

func entityMethods() map[string]lua.LGFunction {
	return map[string]lua.LGFunction{
		"__index": func(L *lua.LState) int {
			id := checkEntity(L, 1)
			switch L.CheckString(2) {
			case "id":
				L.Push(lua.LNumber(id.Entity))
			case "scene":
				L.Push(lua.LNumber(id.Scene.ID))
			default:
				L.Push(lua.LNil)
			}
			return 1
		},
		"__eq": func(L *lua.LState) int {
			a, b := checkEntity(L, 1), checkEntity(L, 2)
			L.Push(lua.LBool(a == b))
			return 1
		},
		"__tostring": func(L *lua.LState) int {
			L.Push(lua.LString(checkEntity(L, 1).String()))
			return 1
		},
	}
}

func sceneMethods() map[string]lua.LGFunction {
	check := func(L *lua.LState) SceneRef {
		ref, ok := L.CheckUserData(1).Value.(SceneRef)
		if !ok {
			L.ArgError(1, "Scene expected")
		}
		return ref
	}
	return map[string]lua.LGFunction{
		"__index": func(L *lua.LState) int {
			ref := check(L)
			if L.CheckString(2) == "id" {
				L.Push(lua.LNumber(ref.ID))
				return 1
			}
			L.Push(lua.LNil)
			return 1
		},
		"__tostring": func(L *lua.LState) int {
			L.Push(lua.LString(fmt.Sprintf("Scene(%d)", check(L).ID)))
			return 1
		},
	}
}

func checkVector3(L *lua.LState, n int) Vector3 {
	ud := L.CheckUserData(n)
	v, ok := ud.Value.(Vector3)
	if !ok {
		L.ArgError(n, "Vector3 expected")
	}
	return v
}

// vectorOperand accepts a Vector3 or a number at stack position n.
func vectorOperand(L *lua.LState, n int) (Vector3, float64, bool) {
	if num, ok := L.Get(n).(lua.LNumber); ok {
		return Vector3{}, float64(num), false
	}
	return checkVector3(L, n), 0, true
}

func vector3Methods() map[string]lua.LGFunction {
	push := func(L *lua.LState, v Vector3) int {
		ud := L.NewUserData()
		ud.Value = v
		for n := 1; n <= 2; n++ {
			if src, ok := L.Get(n).(*lua.LUserData); ok && src.Metatable != lua.LNil && src.Metatable != nil {
				ud.Metatable = src.Metatable
				break
			}
		}
		L.Push(ud)
		return 1
	}
	return map[string]lua.LGFunction{
		"__index": func(L *lua.LState) int {
			v := checkVector3(L, 1)
			switch L.CheckString(2) {
			case "x":
				L.Push(lua.LNumber(v.X))
			case "y":
				L.Push(lua.LNumber(v.Y))
			case "z":
				L.Push(lua.LNumber(v.Z))
			default:
				L.Push(lua.LNil)
			}
			return 1
		},
		"__newindex": func(L *lua.LState) int {
			ud := L.CheckUserData(1)
			v := checkVector3(L, 1)
			n := float64(L.CheckNumber(3))
			switch L.CheckString(2) {
			case "x":
				v.X = n
			case "y":
				v.Y = n
			case "z":
				v.Z = n
			default:
				L.ArgError(2, "x, y or z expected")
			}
			ud.Value = v
			return 0
		},
		"__add": func(L *lua.LState) int {
			a, b := checkVector3(L, 1), checkVector3(L, 2)
			return push(L, Vector3{a.X + b.X, a.Y + b.Y, a.Z + b.Z})
		},
		"__sub": func(L *lua.LState) int {
			a, b := checkVector3(L, 1), checkVector3(L, 2)
			return push(L, Vector3{a.X - b.X, a.Y - b.Y, a.Z - b.Z})
		},
		"__mul": func(L *lua.LState) int {
			a, sa, aIsVec := vectorOperand(L, 1)
			b, sb, bIsVec := vectorOperand(L, 2)
			switch {
			case aIsVec && !bIsVec:
				return push(L, Vector3{a.X * sb, a.Y * sb, a.Z * sb})
			case !aIsVec && bIsVec:
				return push(L, Vector3{b.X * sa, b.Y * sa, b.Z * sa})
			default:
				L.RaiseError("Vector3 can only be scaled by a number")
				return 0
			}
		},
		"__eq": func(L *lua.LState) int {
			L.Push(lua.LBool(checkVector3(L, 1) == checkVector3(L, 2)))
			return 1
		},
		"__tostring": func(L *lua.LState) int {
			v := checkVector3(L, 1)
			L.Push(lua.LString(fmt.Sprintf("Vector3(%g, %g, %g)", v.X, v.Y, v.Z)))
			return 1
		},
	}
}
