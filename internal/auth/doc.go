// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tollgate Contributors

// Package auth provides the credential and session core for Tollgate.
//
// # Domain Types
//
// Domain types (User, Session) should be created using their respective
// constructors:
//   - NewUser - creates a User with validated email and password hash
//   - NewSession - creates a Session with a fresh CSRF token and expiry
//
// Direct struct initialization bypasses validation and may create invalid
// state. Repository implementations receive pre-validated types from these
// constructors.
//
// # Services
//
// Service types coordinate domain operations:
//   - Service - signup, login, logout, session validation
//   - PasswordResetService - password reset token lifecycle
//
// Services are created with New*Service constructors that validate
// dependencies. Neither service sends email; callers own delivery of
// welcome and reset notifications.
package auth
