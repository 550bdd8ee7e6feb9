// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grindstone Contributors

package bridge

import (
	"errors"

	"github.com/samber/oops"

	"github.com/grindstone/scripthost/internal/handle"
)

// Error codes attached to bridge errors.
const (
	CodePathNotFound        = "PATH_NOT_FOUND"
	CodeAlreadyLoaded       = "ALREADY_LOADED"
	CodeResolutionFailed    = "RESOLUTION_FAILED"
	CodeModuleNotFound      = "MODULE_NOT_FOUND"
	CodeTypeNotFound        = "TYPE_NOT_FOUND"
	CodeInstantiationFailed = "INSTANTIATION_FAILED"
	CodeHandleInvalid       = "HANDLE_INVALID"
	CodeHandleStale         = "HANDLE_STALE"
	CodeScriptError         = "SCRIPT_ERROR"
	CodeStillReferenced     = "STILL_REFERENCED"
)

// Load errors.
var (
	ErrPathNotFound     = errors.New("module path not found")
	ErrAlreadyLoaded    = errors.New("module already loaded")
	ErrResolutionFailed = errors.New("module resolution failed")
)

// Create errors.
var (
	ErrModuleNotFound      = errors.New("module not loaded")
	ErrTypeNotFound        = errors.New("type not found")
	ErrInstantiationFailed = errors.New("instantiation failed")
)

// Handle errors are the handle table's own sentinels.
var (
	ErrHandleInvalid = handle.ErrInvalid
	ErrHandleStale   = handle.ErrStale
)

// ErrScriptError reports an error raised inside a lifecycle hook.
var ErrScriptError = errors.New("script error")

// ErrStillReferenced is returned by Reload when the current generation
// cannot be unloaded.
var ErrStillReferenced = errors.New("module context still referenced")

func errorf(code string) oops.OopsErrorBuilder {
	return oops.In("bridge").Code(code)
}

// handleError converts a handle table failure into a coded bridge error.
func handleError(h handle.Handle, err error) error {
	code := CodeHandleInvalid
	if errors.Is(err, handle.ErrStale) {
		code = CodeHandleStale
	}
	return errorf(code).
		With("handle", h.String()).
		Wrapf(err, "resolve handle %s", h)
}
