// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tollgate Contributors

package auth

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateEmail is returned when creating a user whose email is taken.
// Repositories map the database uniqueness violation to this sentinel so
// callers can distinguish it from other persistence failures.
var ErrDuplicateEmail = errors.New("email already exists")

// ErrDuplicateAPIKey is returned when the generated API key collides with
// an existing one. The store's uniqueness constraint is the backstop for
// the (negligible) collision probability; callers retry with a fresh key.
var ErrDuplicateAPIKey = errors.New("api key already exists")
