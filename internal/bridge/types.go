// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grindstone Contributors

package bridge

import (
	"fmt"
	"sort"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/grindstone/scripthost/internal/script/core"
)

// FieldDescriptor describes one public instance field of a script type.
type FieldDescriptor struct {
	Name string
	Type string
}

type fieldDefault struct {
	name  string
	value lua.LValue
}

// ScriptType is the bridge's cached view of one type exported by a module.
// Everything the factory and dispatcher need is resolved once at load.
type ScriptType struct {
	Name string

	class      *lua.LTable
	meta       *lua.LTable
	fields     []FieldDescriptor
	defaults   []fieldDefault
	hooks      [numOps]*lua.LFunction
	init       *lua.LFunction
	ownerField string
}

// Fields returns the type's public instance fields.
func (t *ScriptType) Fields() []FieldDescriptor {
	out := make([]FieldDescriptor, len(t.fields))
	copy(out, t.fields)
	return out
}

// Responds reports whether the type implements a lifecycle operation.
func (t *ScriptType) Responds(op Op) bool {
	return op.valid() && t.hooks[op] != nil
}

// initMethod is the optional no-argument constructor of a type.
const initMethod = "init"

// newScriptType builds the type cache for one exported class table.
func newScriptType(L *lua.LState, lib *core.Library, name string, class *lua.LTable, ownerField string) (*ScriptType, error) {
	t := &ScriptType{Name: name, class: class}

	decl, declared, err := lib.ParseClass(class)
	if err != nil {
		return nil, err
	}
	if declared {
		if err := t.collectDeclared(lib, decl); err != nil {
			return nil, err
		}
	} else {
		t.collectPlain(lib, class)
	}

	for op := Op(0); op < numOps; op++ {
		if fn, ok := L.GetField(class, op.Method()).(*lua.LFunction); ok {
			t.hooks[op] = fn
		}
	}
	if fn, ok := L.GetField(class, initMethod).(*lua.LFunction); ok {
		t.init = fn
	}

	for i, f := range t.fields {
		if f.Name != ownerField {
			continue
		}
		t.ownerField = ownerField
		if !declared {
			t.fields[i].Type = core.EntityTypeName
		}
		break
	}

	t.meta = L.NewTable()
	t.meta.RawSetString("__index", class)
	t.meta.RawSetString("__name", lua.LString(name))

	return t, nil
}

// collectDeclared gathers fields declared through core.class, base class
// fields first. A derived declaration of an inherited name replaces its
// type and default in place.
func (t *ScriptType) collectDeclared(lib *core.Library, decl *core.ClassDecl) error {
	chain := []*core.ClassDecl{decl}
	seen := map[*lua.LTable]bool{}
	for base := decl.Base; base != nil; {
		if seen[base] {
			return fmt.Errorf("class %s has a cyclic base chain", decl.Name)
		}
		seen[base] = true
		bd, ok, err := lib.ParseClass(base)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		chain = append(chain, bd)
		base = bd.Base
	}

	index := map[string]int{}
	for i := len(chain) - 1; i >= 0; i-- {
		for _, f := range chain[i].Fields {
			if pos, dup := index[f.Name]; dup {
				t.fields[pos].Type = f.Type
				t.defaults[pos].value = f.Default
				continue
			}
			index[f.Name] = len(t.fields)
			t.fields = append(t.fields, FieldDescriptor{Name: f.Name, Type: f.Type})
			t.defaults = append(t.defaults, fieldDefault{name: f.Name, value: f.Default})
		}
	}
	return nil
}

// collectPlain treats every non-function value under a string key that does
// not start with an underscore as a public field.
func (t *ScriptType) collectPlain(lib *core.Library, class *lua.LTable) {
	class.ForEach(func(k, v lua.LValue) {
		key, ok := k.(lua.LString)
		if !ok || strings.HasPrefix(string(key), "_") || v.Type() == lua.LTFunction {
			return
		}
		t.fields = append(t.fields, FieldDescriptor{Name: string(key), Type: valueTypeName(lib, v)})
		t.defaults = append(t.defaults, fieldDefault{name: string(key), value: v})
	})
	sort.Slice(t.fields, func(i, j int) bool { return t.fields[i].Name < t.fields[j].Name })
	sort.Slice(t.defaults, func(i, j int) bool { return t.defaults[i].name < t.defaults[j].name })
}

// valueTypeName names the type of a plain field from its default value.
func valueTypeName(lib *core.Library, v lua.LValue) string {
	if ct, ok := lib.TypeOf(v); ok {
		return ct.Name
	}
	return v.Type().String()
}

// instantiate creates a new instance table: field defaults copied in,
// the type's instance metatable set, then init called if present.
func (t *ScriptType) instantiate(L *lua.LState) (*lua.LTable, error) {
	inst := L.NewTable()
	for _, d := range t.defaults {
		if d.value == lua.LNil || d.value == nil {
			continue
		}
		inst.RawSetString(d.name, copyDefault(L, d.value))
	}
	L.SetMetatable(inst, t.meta)

	if t.init != nil {
		if err := L.CallByParam(lua.P{Fn: t.init, NRet: 0, Protect: true}, inst); err != nil {
			return nil, err
		}
	}
	return inst, nil
}

// copyDefault shallow-copies table and userdata defaults so instances
// never share them.
func copyDefault(L *lua.LState, v lua.LValue) lua.LValue {
	if ud, ok := v.(*lua.LUserData); ok {
		dup := L.NewUserData()
		dup.Value = ud.Value
		dup.Metatable = ud.Metatable
		return dup
	}
	src, ok := v.(*lua.LTable)
	if !ok {
		return v
	}
	dst := L.NewTable()
	src.ForEach(func(k, item lua.LValue) {
		dst.RawSet(k, item)
	})
	if mt, ok := src.Metatable.(*lua.LTable); ok {
		dst.Metatable = mt
	}
	return dst
}

// setOwner injects the owning entity. Types without an owner field ignore
// the call and report false.
func (t *ScriptType) setOwner(L *lua.LState, lib *core.Library, inst *lua.LTable, owner core.EntityIdentity) bool {
	if t.ownerField == "" {
		return false
	}
	inst.RawSetString(t.ownerField, lib.NewEntity(L, owner))
	return true
}
