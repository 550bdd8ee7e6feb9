// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grindstone Contributors

package bridge

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/grindstone/scripthost/internal/handle"
)

// Op is a lifecycle operation the engine invokes on script objects.
type Op int

// Lifecycle operations.
const (
	OpAttach Op = iota
	OpStart
	OpUpdate
	OpEditorUpdate
	OpDestroy
	numOps
)

var opNames = [numOps]string{"attach", "start", "update", "editor-update", "destroy"}

var opMethods = [numOps]string{"OnAttach", "OnStart", "OnUpdate", "OnEditorUpdate", "OnDestroy"}

// Ops returns every lifecycle operation in engine order.
func Ops() []Op {
	return []Op{OpAttach, OpStart, OpUpdate, OpEditorUpdate, OpDestroy}
}

func (o Op) valid() bool {
	return o >= 0 && o < numOps
}

// String returns the operation's wire name.
func (o Op) String() string {
	if !o.valid() {
		return fmt.Sprintf("op(%d)", int(o))
	}
	return opNames[o]
}

// Method returns the script method implementing the operation.
func (o Op) Method() string {
	if !o.valid() {
		return ""
	}
	return opMethods[o]
}

// ParseOp parses a wire name such as "editor-update".
func ParseOp(name string) (Op, error) {
	for i, n := range opNames {
		if n == name {
			return Op(i), nil
		}
	}
	return 0, fmt.Errorf("unknown lifecycle operation %q", name)
}

// Invoke runs a lifecycle operation on the object behind h. A type that
// does not implement the operation makes the call a no-op. Errors raised by
// the script are returned with code SCRIPT_ERROR and logged.
func (s *Session) Invoke(h handle.Handle, op Op) error {
	if !op.valid() {
		return fmt.Errorf("unknown lifecycle operation %d", int(op))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	obj, err := s.handles.Resolve(h)
	if err != nil {
		err = handleError(h, err)
		s.logger.Warn("lifecycle invocation on unusable handle",
			"handle", h.String(),
			"op", op.String(),
			"error", err)
		RecordInvocation(op, StatusError)
		return err
	}
	return s.invoke(h, obj, op)
}

// invoke calls the cached hook. Callers must hold the lock.
func (s *Session) invoke(h handle.Handle, obj *Object, op Op) (err error) {
	fn := obj.typ.hooks[op]
	if fn == nil {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			err = errorf(CodeScriptError).
				With("module", obj.ctx.source.Name()).
				With("type", obj.typ.Name).
				With("handle", h.String()).
				With("op", op.String()).
				Wrapf(ErrScriptError, "%s.%s: %v", obj.typ.Name, op.Method(), err)
			s.logger.Error("lifecycle hook failed",
				"module", obj.ctx.source.Name(),
				"type", obj.typ.Name,
				"handle", h.String(),
				"op", op.String(),
				"error", err)
			RecordInvocation(op, StatusError)
			return
		}
		RecordInvocation(op, StatusSuccess)
	}()

	return obj.ctx.state.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, obj.value)
}

// InvokeAll runs op on every live object of a module in slot order. A
// failing object does not stop the others; the number of failures is
// returned alongside the first error.
func (s *Session) InvokeAll(key ModuleKey, op Op) (int, error) {
	if !op.valid() {
		return 0, fmt.Errorf("unknown lifecycle operation %d", int(op))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.modules[key]
	if !ok {
		return 0, errorf(CodeModuleNotFound).
			With("key", key.String()).
			Wrapf(ErrModuleNotFound, "module %s", key)
	}

	var first error
	failed := 0
	for _, h := range s.handles.Handles(entry.Generation) {
		obj, err := s.handles.Resolve(h)
		if err != nil {
			continue
		}
		if err := s.invoke(h, obj, op); err != nil {
			failed++
			if first == nil {
				first = err
			}
		}
	}
	return failed, first
}
