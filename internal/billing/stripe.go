// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tollgate Contributors

package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/samber/oops"
)

const (
	defaultAPIBase = "https://api.stripe.com"

	// signatureTolerance rejects replayed webhook payloads whose
	// timestamp is too far from now.
	signatureTolerance = 5 * time.Minute
)

// StripeProvider implements Provider against the Stripe HTTP API.
type StripeProvider struct {
	secretKey     string
	webhookSecret string
	successURL    string
	cancelURL     string
	returnURL     string
	apiBase       string
	httpClient    *http.Client
	now           func() time.Time
}

// StripeConfig configures a StripeProvider.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string

	// SuccessURL and CancelURL terminate the hosted checkout flow.
	SuccessURL string
	CancelURL  string

	// ReturnURL terminates the billing portal flow.
	ReturnURL string

	// APIBase overrides the Stripe endpoint, for tests.
	APIBase string
}

// NewStripeProvider creates a StripeProvider.
// Returns an error if the secret key is missing.
func NewStripeProvider(cfg StripeConfig) (*StripeProvider, error) {
	if cfg.SecretKey == "" {
		return nil, oops.Code("BILLING_CONFIG_INVALID").Errorf("stripe secret key is required")
	}
	apiBase := cfg.APIBase
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	return &StripeProvider{
		secretKey:     cfg.SecretKey,
		webhookSecret: cfg.WebhookSecret,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
		returnURL:     cfg.ReturnURL,
		apiBase:       apiBase,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		now:           time.Now,
	}, nil
}

// CreateCheckoutSession starts a subscription checkout and returns the
// hosted page URL. The user id rides in session metadata so the
// completion webhook can attach the customer to the right account.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (string, error) {
	form := url.Values{}
	form.Set("mode", "subscription")
	form.Set("customer_email", params.Email)
	form.Set("line_items[0][price]", params.PriceID)
	form.Set("line_items[0][quantity]", "1")
	form.Set("metadata[userId]", params.UserID)
	form.Set("success_url", p.successURL)
	form.Set("cancel_url", p.cancelURL)

	var resp struct {
		URL string `json:"url"`
	}
	if err := p.post(ctx, "/v1/checkout/sessions", form, &resp); err != nil {
		return "", err
	}
	return resp.URL, nil
}

// CreatePortalSession starts a billing portal session for a customer.
func (p *StripeProvider) CreatePortalSession(ctx context.Context, customerID string) (string, error) {
	form := url.Values{}
	form.Set("customer", customerID)
	form.Set("return_url", p.returnURL)

	var resp struct {
		URL string `json:"url"`
	}
	if err := p.post(ctx, "/v1/billing_portal/sessions", form, &resp); err != nil {
		return "", err
	}
	return resp.URL, nil
}

// VerifyWebhook authenticates the payload against the Stripe-Signature
// header scheme: "t=<unix>,v1=<hmac-sha256 of `<t>.<payload>`>".
func (p *StripeProvider) VerifyWebhook(payload []byte, sigHeader string) (*Event, error) {
	if p.webhookSecret == "" {
		return nil, oops.Code("BILLING_CONFIG_INVALID").Errorf("webhook secret is not configured")
	}

	timestamp, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return nil, err
	}

	if d := p.now().Sub(time.Unix(timestamp, 0)); d > signatureTolerance || d < -signatureTolerance {
		return nil, oops.Code("BILLING_SIGNATURE_INVALID").Errorf("webhook timestamp outside tolerance")
	}

	mac := hmac.New(sha256.New, []byte(p.webhookSecret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(payload)
	expected := mac.Sum(nil)

	matched := false
	for _, sig := range signatures {
		decoded, decErr := hex.DecodeString(sig)
		if decErr != nil {
			continue
		}
		if hmac.Equal(decoded, expected) {
			matched = true
			break
		}
	}
	if !matched {
		return nil, oops.Code("BILLING_SIGNATURE_INVALID").Errorf("no matching webhook signature")
	}

	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, oops.Code("BILLING_EVENT_DECODE_FAILED").Wrap(err)
	}
	return &event, nil
}

func parseSignatureHeader(header string) (int64, []string, error) {
	if header == "" {
		return 0, nil, oops.Code("BILLING_SIGNATURE_INVALID").Errorf("missing signature header")
	}

	var timestamp int64
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return 0, nil, oops.Code("BILLING_SIGNATURE_INVALID").Errorf("malformed timestamp")
			}
			timestamp = ts
		case "v1":
			signatures = append(signatures, v)
		}
	}
	if timestamp == 0 || len(signatures) == 0 {
		return 0, nil, oops.Code("BILLING_SIGNATURE_INVALID").Errorf("incomplete signature header")
	}
	return timestamp, signatures, nil
}

func (p *StripeProvider) post(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+path, strings.NewReader(form.Encode()))
	if err != nil {
		return oops.Code("BILLING_REQUEST_FAILED").With("path", path).Wrap(err)
	}
	req.Header.Set("Authorization", "Bearer "+p.secretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return oops.Code("BILLING_REQUEST_FAILED").With("path", path).Wrap(err)
	}
	defer resp.Body.Close() //nolint:errcheck // Read-side close error is not actionable

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return oops.Code("BILLING_REQUEST_FAILED").With("path", path).Wrap(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return oops.Code("BILLING_REQUEST_FAILED").
			With("path", path).
			With("status", resp.StatusCode).
			Errorf("provider returned %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return oops.Code("BILLING_RESPONSE_DECODE_FAILED").With("path", path).Wrap(err)
	}
	return nil
}
