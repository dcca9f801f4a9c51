// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tollgate Contributors

// Package billing integrates the external payment provider. The provider
// is a collaborator: this package owns only the interface, the wire
// client, and webhook verification. Plan state lives on the user record.
package billing

import (
	"context"
	"encoding/json"

	"github.com/samber/oops"
)

// Webhook event types that drive plan state.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
)

// ErrDisabled is returned when no provider credentials are configured.
var ErrDisabled = oops.Code("BILLING_DISABLED").Errorf("billing is not configured")

// CheckoutParams identifies who is buying what.
type CheckoutParams struct {
	UserID  string
	Email   string
	PriceID string
}

// Provider is the payment-provider collaborator interface.
type Provider interface {
	// CreateCheckoutSession starts a hosted checkout and returns its URL.
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (string, error)

	// CreatePortalSession starts a hosted billing portal session for an
	// existing customer and returns its URL.
	CreatePortalSession(ctx context.Context, customerID string) (string, error)

	// VerifyWebhook authenticates a raw webhook payload against its
	// signature header and returns the parsed event.
	VerifyWebhook(payload []byte, sigHeader string) (*Event, error)
}

// Event is a verified webhook event.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// CheckoutSession is the object payload of checkout.session.completed.
type CheckoutSession struct {
	Customer string `json:"customer"`
	Metadata struct {
		UserID string `json:"userId"`
	} `json:"metadata"`
}

// Subscription is the object payload of customer.subscription.* events.
type Subscription struct {
	Customer string `json:"customer"`
	Items    struct {
		Data []struct {
			Price struct {
				Nickname string `json:"nickname"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

// PlanTag returns the plan tag carried by the subscription's first price
// nickname, defaulting to "pro" when the nickname is unset.
func (s *Subscription) PlanTag() string {
	if len(s.Items.Data) > 0 && s.Items.Data[0].Price.Nickname != "" {
		return s.Items.Data[0].Price.Nickname
	}
	return "pro"
}

// CheckoutSession decodes the event payload as a checkout session.
func (e *Event) CheckoutSession() (*CheckoutSession, error) {
	var cs CheckoutSession
	if err := json.Unmarshal(e.Data.Object, &cs); err != nil {
		return nil, oops.Code("BILLING_EVENT_DECODE_FAILED").
			With("event_type", e.Type).
			Wrap(err)
	}
	return &cs, nil
}

// Subscription decodes the event payload as a subscription.
func (e *Event) Subscription() (*Subscription, error) {
	var sub Subscription
	if err := json.Unmarshal(e.Data.Object, &sub); err != nil {
		return nil, oops.Code("BILLING_EVENT_DECODE_FAILED").
			With("event_type", e.Type).
			Wrap(err)
	}
	return &sub, nil
}

// DisabledProvider rejects every operation with ErrDisabled. Used when no
// secret key is configured so the rest of the service still runs.
type DisabledProvider struct{}

// CreateCheckoutSession always fails with ErrDisabled.
func (DisabledProvider) CreateCheckoutSession(context.Context, CheckoutParams) (string, error) {
	return "", ErrDisabled
}

// CreatePortalSession always fails with ErrDisabled.
func (DisabledProvider) CreatePortalSession(context.Context, string) (string, error) {
	return "", ErrDisabled
}

// VerifyWebhook always fails with ErrDisabled.
func (DisabledProvider) VerifyWebhook([]byte, string) (*Event, error) {
	return nil, ErrDisabled
}
