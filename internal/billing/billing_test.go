// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tollgate Contributors

package billing_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tollgate/tollgate/internal/billing"
)

func TestEvent_CheckoutSession(t *testing.T) {
	payload := []byte(`{
		"id": "evt_1",
		"type": "checkout.session.completed",
		"data": {"object": {"customer": "cus_123", "metadata": {"userId": "01HUSERID"}}}
	}`)

	var event billing.Event
	require.NoError(t, json.Unmarshal(payload, &event))

	cs, err := event.CheckoutSession()
	require.NoError(t, err)
	assert.Equal(t, "cus_123", cs.Customer)
	assert.Equal(t, "01HUSERID", cs.Metadata.UserID)
}

func TestEvent_Subscription(t *testing.T) {
	payload := []byte(`{
		"id": "evt_2",
		"type": "customer.subscription.updated",
		"data": {"object": {"customer": "cus_123", "items": {"data": [{"price": {"nickname": "pro"}}]}}}
	}`)

	var event billing.Event
	require.NoError(t, json.Unmarshal(payload, &event))

	sub, err := event.Subscription()
	require.NoError(t, err)
	assert.Equal(t, "cus_123", sub.Customer)
	assert.Equal(t, "pro", sub.PlanTag())
}

func TestSubscription_PlanTag(t *testing.T) {
	t.Run("uses the price nickname", func(t *testing.T) {
		var sub billing.Subscription
		require.NoError(t, json.Unmarshal([]byte(`{"items":{"data":[{"price":{"nickname":"team"}}]}}`), &sub))
		assert.Equal(t, "team", sub.PlanTag())
	})

	t.Run("defaults to pro when the nickname is unset", func(t *testing.T) {
		var sub billing.Subscription
		require.NoError(t, json.Unmarshal([]byte(`{"items":{"data":[{"price":{}}]}}`), &sub))
		assert.Equal(t, "pro", sub.PlanTag())
	})

	t.Run("defaults to pro when there are no items", func(t *testing.T) {
		var sub billing.Subscription
		assert.Equal(t, "pro", sub.PlanTag())
	})
}

func TestDisabledProvider(t *testing.T) {
	ctx := context.Background()
	var p billing.DisabledProvider

	_, err := p.CreateCheckoutSession(ctx, billing.CheckoutParams{})
	assert.ErrorIs(t, err, billing.ErrDisabled)

	_, err = p.CreatePortalSession(ctx, "cus_123")
	assert.ErrorIs(t, err, billing.ErrDisabled)

	_, err = p.VerifyWebhook(nil, "")
	assert.ErrorIs(t, err, billing.ErrDisabled)
}
