// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tollgate Contributors

package web_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tollgate/tollgate/internal/billing"
)

// passVerification wires the fake provider to trust any signature and
// decode the payload as the event.
func passVerification(env *testEnv) {
	env.billing.verify = func(payload []byte, _ string) (*billing.Event, error) {
		var event billing.Event
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, err
		}
		return &event, nil
	}
}

func postWebhook(t *testing.T, env *testEnv, payload string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook/stripe", strings.NewReader(payload))
	req.Header.Set("Stripe-Signature", "t=123,v1=abc")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	return rec
}

func TestStripeWebhook(t *testing.T) {
	t.Run("bad signature returns 400", func(t *testing.T) {
		env := newTestEnv(t)
		env.billing.verify = func([]byte, string) (*billing.Event, error) {
			return nil, errors.New("signature mismatch")
		}

		rec := postWebhook(t, env, `{"id":"evt_1","type":"checkout.session.completed"}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "Invalid signature")
	})

	t.Run("checkout completion links the customer", func(t *testing.T) {
		env := newTestEnv(t)
		passVerification(env)
		apiKey := newBrowser(t, env).signup("ada@example.com", "correct horse", "Ada")
		user, err := env.users.GetByAPIKey(t.Context(), apiKey)
		require.NoError(t, err)

		rec := postWebhook(t, env, `{
			"id": "evt_1",
			"type": "checkout.session.completed",
			"data": {"object": {
				"customer": "cus_123",
				"metadata": {"userId": "`+user.ID.String()+`"}
			}}
		}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"received":true`)

		updated, err := env.users.GetByID(t.Context(), user.ID)
		require.NoError(t, err)
		assert.Equal(t, "cus_123", updated.StripeCustomerID)
	})

	t.Run("checkout without a usable user id is acknowledged", func(t *testing.T) {
		env := newTestEnv(t)
		passVerification(env)

		rec := postWebhook(t, env, `{
			"id": "evt_1",
			"type": "checkout.session.completed",
			"data": {"object": {"customer": "cus_123", "metadata": {}}}
		}`)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("subscription update sets the plan", func(t *testing.T) {
		env := newTestEnv(t)
		passVerification(env)
		apiKey := newBrowser(t, env).signup("ada@example.com", "correct horse", "Ada")
		user, err := env.users.GetByAPIKey(t.Context(), apiKey)
		require.NoError(t, err)
		require.NoError(t, env.users.UpdateStripeCustomerID(t.Context(), user.ID, "cus_123"))

		rec := postWebhook(t, env, `{
			"id": "evt_2",
			"type": "customer.subscription.updated",
			"data": {"object": {
				"customer": "cus_123",
				"items": {"data": [{"price": {"nickname": "pro"}}]}
			}}
		}`)
		require.Equal(t, http.StatusOK, rec.Code)

		updated, err := env.users.GetByID(t.Context(), user.ID)
		require.NoError(t, err)
		assert.Equal(t, "pro", updated.Plan)
	})

	t.Run("subscription deletion downgrades to free", func(t *testing.T) {
		env := newTestEnv(t)
		passVerification(env)
		apiKey := newBrowser(t, env).signup("ada@example.com", "correct horse", "Ada")
		user, err := env.users.GetByAPIKey(t.Context(), apiKey)
		require.NoError(t, err)
		require.NoError(t, env.users.UpdateStripeCustomerID(t.Context(), user.ID, "cus_123"))
		require.NoError(t, env.users.UpdatePlanByCustomer(t.Context(), "cus_123", "pro"))

		rec := postWebhook(t, env, `{
			"id": "evt_3",
			"type": "customer.subscription.deleted",
			"data": {"object": {"customer": "cus_123"}}
		}`)
		require.Equal(t, http.StatusOK, rec.Code)

		updated, err := env.users.GetByID(t.Context(), user.ID)
		require.NoError(t, err)
		assert.Equal(t, "free", updated.Plan)
	})

	t.Run("unknown event types are acknowledged", func(t *testing.T) {
		env := newTestEnv(t)
		passVerification(env)

		rec := postWebhook(t, env, `{"id":"evt_4","type":"invoice.paid","data":{"object":{}}}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"received":true`)
	})
}
