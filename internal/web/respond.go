// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tollgate Contributors

package web

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/samber/oops"
)

// maxBodyBytes bounds request bodies so a hostile client cannot make
// the decoder buffer arbitrary input.
const maxBodyBytes = 1 << 20

// writeJSON serializes v with the given status. Encoding failures are
// logged rather than surfaced: headers are already written by then.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// writeMessage writes the uniform {"error": ...} failure shape.
func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(r *http.Request, v any) error {
	body := http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	defer body.Close()
	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil {
		return oops.Code("WEB_BAD_REQUEST").Wrap(err)
	}
	// Trailing garbage after the JSON value is a malformed request too.
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return oops.Code("WEB_BAD_REQUEST").New("unexpected data after JSON body")
	}
	return nil
}

// statusByCode maps service error codes to HTTP statuses. Codes not
// listed here are internal failures and must not leak detail.
var statusByCode = map[string]int{
	"WEB_BAD_REQUEST":          http.StatusBadRequest,
	"AUTH_INVALID_EMAIL":       http.StatusBadRequest,
	"AUTH_PASSWORD_TOO_SHORT":  http.StatusBadRequest,
	"AUTH_DUPLICATE_EMAIL":     http.StatusConflict,
	"AUTH_INVALID_CREDENTIALS": http.StatusUnauthorized,
	"RESET_TOKEN_INVALID":      http.StatusBadRequest,
	"BILLING_DISABLED":         http.StatusServiceUnavailable,
}

// writeError maps a service error onto the wire. Known codes keep
// their message; anything else becomes an opaque 500.
func writeError(w http.ResponseWriter, err error) {
	var oopsErr oops.OopsError
	if errors.As(err, &oopsErr) {
		code, _ := oopsErr.Code().(string)
		if status, ok := statusByCode[code]; ok {
			writeMessage(w, status, publicMessage(oopsErr))
			return
		}
	}
	slog.Error("request failed", "error", err)
	writeMessage(w, http.StatusInternalServerError, "internal server error")
}

// publicMessage returns the client-safe text for a mapped error.
// Wrapped causes stay server-side.
func publicMessage(err oops.OopsError) string {
	switch err.Code() {
	case "AUTH_DUPLICATE_EMAIL":
		return "Email already exists"
	case "AUTH_INVALID_CREDENTIALS":
		return "Invalid credentials"
	case "RESET_TOKEN_INVALID":
		return "Invalid or expired reset token"
	case "AUTH_INVALID_EMAIL":
		return "Invalid email address"
	case "AUTH_PASSWORD_TOO_SHORT":
		return "Password must be at least 8 characters"
	case "BILLING_DISABLED":
		return "Billing is not configured"
	case "WEB_BAD_REQUEST":
		return "Invalid request body"
	default:
		return "internal server error"
	}
}
