// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tollgate Contributors

package errutil

import (
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// requireOops fails the test unless err carries an oops error
// somewhere in its chain.
func requireOops(t testing.TB, err error) oops.OopsError {
	t.Helper()
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok, "expected oops error, got %T: %v", err, err)
	return oopsErr
}

// AssertErrorCode asserts that err carries the given oops code and
// returns the error for further inspection.
func AssertErrorCode(t testing.TB, err error, code string) oops.OopsError {
	t.Helper()
	oopsErr := requireOops(t, err)
	assert.Equal(t, code, oopsErr.Code())
	return oopsErr
}

// AssertErrorContext asserts that err carries the given context
// key/value pair.
func AssertErrorContext(t testing.TB, err error, key string, value any) {
	t.Helper()
	ctx := requireOops(t, err).Context()
	require.Contains(t, ctx, key)
	assert.Equal(t, value, ctx[key])
}
