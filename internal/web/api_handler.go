// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tollgate Contributors

package web

import (
	"net/http"
	"time"

	"github.com/tollgate/tollgate/internal/billing"
	"github.com/tollgate/tollgate/internal/usage"
)

// dashboardWindow is how far back the usage summary counts calls.
const dashboardWindow = 30 * 24 * time.Hour

// handleDashboard returns the caller's account overview and a usage
// summary. The API key is deliberately absent: it is shown exactly
// once, at signup.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	user, err := s.users.GetByID(r.Context(), id.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	summary, err := s.usage.Summarize(r.Context(), id.UserID, time.Now().Add(-dashboardWindow))
	if err != nil {
		writeError(w, err)
		return
	}

	recent := make([]map[string]any, 0, len(summary.Recent))
	for _, rec := range summary.Recent {
		recent = append(recent, map[string]any{
			"endpoint":  rec.Endpoint,
			"timestamp": rec.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"email":     user.Email,
		"name":      user.Name,
		"plan":      user.Plan,
		"createdAt": user.CreatedAt.UTC().Format(time.RFC3339),
		"usage": map[string]any{
			"total":  summary.Total,
			"recent": recent,
		},
	})
}

type trackRequest struct {
	Endpoint string `json:"endpoint"`
}

// handleTrack records one metered API call for the caller.
func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req trackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Endpoint == "" {
		req.Endpoint = r.URL.Path
	}

	if err := s.usage.Insert(r.Context(), usage.NewRecord(id.UserID, req.Endpoint)); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type checkoutRequest struct {
	PriceID string `json:"priceId"`
}

// handleCheckout starts a hosted checkout session for an upgrade.
func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req checkoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.PriceID == "" {
		writeMessage(w, http.StatusBadRequest, "priceId is required")
		return
	}

	user, err := s.users.GetByID(r.Context(), id.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	url, err := s.billing.CreateCheckoutSession(r.Context(), billing.CheckoutParams{
		UserID:  user.ID.String(),
		Email:   user.Email,
		PriceID: req.PriceID,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// handleBillingPortal opens the provider's self-service portal for an
// existing paying customer.
func (s *Server) handleBillingPortal(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	user, err := s.users.GetByID(r.Context(), id.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	if user.StripeCustomerID == "" {
		writeMessage(w, http.StatusBadRequest, "No billing account found")
		return
	}

	url, err := s.billing.CreatePortalSession(r.Context(), user.StripeCustomerID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}
