// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tollgate Contributors

package web

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/oklog/ulid/v2"

	"github.com/tollgate/tollgate/internal/auth"
	"github.com/tollgate/tollgate/internal/billing"
)

// handleStripeWebhook ingests billing events. The raw body must be
// read verbatim: the signature covers the exact bytes on the wire.
// Apply failures return 5xx so the provider retries; unknown event
// types are acknowledged and skipped.
func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Unable to read payload")
		return
	}

	event, err := s.billing.VerifyWebhook(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		s.logger.Warn("rejected webhook", "error", err)
		writeMessage(w, http.StatusBadRequest, "Invalid signature")
		return
	}

	if err := s.applyBillingEvent(r, event); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (s *Server) applyBillingEvent(r *http.Request, event *billing.Event) error {
	ctx := r.Context()
	switch event.Type {
	case billing.EventCheckoutCompleted:
		cs, err := event.CheckoutSession()
		if err != nil {
			return err
		}
		userID, err := ulid.Parse(cs.Metadata.UserID)
		if err != nil {
			// Checkout not started by us; nothing to link.
			s.logger.Warn("checkout completed without a usable user id",
				slog.String("event_id", event.ID))
			return nil
		}
		return s.users.UpdateStripeCustomerID(ctx, userID, cs.Customer)

	case billing.EventSubscriptionCreated, billing.EventSubscriptionUpdated:
		sub, err := event.Subscription()
		if err != nil {
			return err
		}
		return s.users.UpdatePlanByCustomer(ctx, sub.Customer, sub.PlanTag())

	case billing.EventSubscriptionDeleted:
		sub, err := event.Subscription()
		if err != nil {
			return err
		}
		return s.users.UpdatePlanByCustomer(ctx, sub.Customer, auth.PlanFree)

	default:
		s.logger.Debug("ignoring webhook event",
			slog.String("event_id", event.ID),
			slog.String("event_type", event.Type))
		return nil
	}
}
