// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grindstone Contributors

package errutil

import (
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireOops(t *testing.T, err error) oops.OopsError {
	t.Helper()
	require.Error(t, err)
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok, "expected oops error, got %T: %v", err, err)
	return oopsErr
}

// AssertErrorCode asserts that err carries the given status code.
func AssertErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	oopsErr := requireOops(t, err)
	assert.Equal(t, code, oopsErr.Code(), "context: %v", oopsErr.Context())
}

// AssertErrorContext asserts that err carries key with value in its context.
func AssertErrorContext(t *testing.T, err error, key string, value any) {
	t.Helper()
	ctx := requireOops(t, err).Context()
	if assert.Contains(t, ctx, key) {
		assert.Equal(t, value, ctx[key])
	}
}

// AssertStatus asserts the full classification of a failed operation: it
// wraps sentinel, carries code and was raised in domain.
func AssertStatus(t *testing.T, err error, sentinel error, domain, code string) {
	t.Helper()
	oopsErr := requireOops(t, err)
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, domain, oopsErr.Domain())
	assert.Equal(t, code, oopsErr.Code(), "context: %v", oopsErr.Context())
}
