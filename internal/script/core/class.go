// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grindstone Contributors

package core

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// Reserved keys of a class table built by core.class.
const (
	classKeyMarker = "__class"
	classKeyName   = "__name"
	classKeyFields = "__fields"
	classKeyBase   = "__base"
)

// classTag is the Go value behind the shared class marker.
type classTag struct{}

// FieldDecl is one field declared through core.class.
type FieldDecl struct {
	Name    string
	Type    string
	Default lua.LValue
}

// ClassDecl is the parsed declaration of a class table.
type ClassDecl struct {
	Name   string
	Fields []FieldDecl
	Base   *lua.LTable
}

// IsClass reports whether v is a class table built by core.class.
func (l *Library) IsClass(v lua.LValue) bool {
	t, ok := v.(*lua.LTable)
	return ok && t.RawGetString(classKeyMarker) == l.classMarker
}

// ParseClass reads the declaration stored in a class table built by
// core.class. Plain tables report ok == false.
func (l *Library) ParseClass(v lua.LValue) (decl *ClassDecl, ok bool, err error) {
	if !l.IsClass(v) {
		return nil, false, nil
	}
	cls := v.(*lua.LTable)

	decl = &ClassDecl{Name: lua.LVAsString(cls.RawGetString(classKeyName))}
	if base, isTable := cls.RawGetString(classKeyBase).(*lua.LTable); isTable {
		decl.Base = base
	}

	fields, isTable := cls.RawGetString(classKeyFields).(*lua.LTable)
	if !isTable {
		return decl, true, nil
	}
	for i := 1; i <= fields.Len(); i++ {
		f, err := parseFieldDecl(fields.RawGetInt(i))
		if err != nil {
			return nil, true, fmt.Errorf("class %s field %d: %w", decl.Name, i, err)
		}
		decl.Fields = append(decl.Fields, f)
	}
	return decl, true, nil
}

func parseFieldDecl(v lua.LValue) (FieldDecl, error) {
	entry, ok := v.(*lua.LTable)
	if !ok {
		return FieldDecl{}, fmt.Errorf("expected {name, type[, default]}, got %s", v.Type())
	}
	name, ok := entry.RawGetInt(1).(lua.LString)
	if !ok || name == "" {
		return FieldDecl{}, fmt.Errorf("field name must be a non-empty string")
	}
	typ, ok := entry.RawGetInt(2).(lua.LString)
	if !ok || typ == "" {
		return FieldDecl{}, fmt.Errorf("field %q: type must be a non-empty string", string(name))
	}
	return FieldDecl{Name: string(name), Type: string(typ), Default: entry.RawGetInt(3)}, nil
}

// classFn implements core.class(name, fields[, base]).
func (l *Library) classFn(L *lua.LState) int {
	name := L.CheckString(1)
	fields := L.OptTable(2, nil)
	var base *lua.LTable
	if L.GetTop() >= 3 {
		base = L.CheckTable(3)
		if !l.IsClass(base) {
			L.ArgError(3, "base must be a class created by core.class")
			return 0
		}
	}

	cls := L.NewTable()
	cls.RawSetString(classKeyMarker, l.classMarker)
	cls.RawSetString(classKeyName, lua.LString(name))
	if fields != nil {
		for i := 1; i <= fields.Len(); i++ {
			if _, err := parseFieldDecl(fields.RawGetInt(i)); err != nil {
				L.ArgError(2, err.Error())
				return 0
			}
		}
		cls.RawSetString(classKeyFields, fields)
	}
	if base != nil {
		cls.RawSetString(classKeyBase, base)
		mt := L.NewTable()
		mt.RawSetString("__index", base)
		L.SetMetatable(cls, mt)
	}

	L.Push(cls)
	return 1
}
