// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tollgate Contributors

package email

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/samber/oops"
)

const defaultResendAPIBase = "https://api.resend.com"

// ResendSender delivers mail through the Resend HTTP API.
type ResendSender struct {
	apiKey     string
	from       string
	apiBase    string
	httpClient *http.Client
}

// ResendConfig configures a ResendSender.
type ResendConfig struct {
	APIKey string
	From   string

	// APIBase overrides the Resend endpoint, for tests.
	APIBase string
}

// NewResendSender creates a ResendSender.
// Returns an error if the API key or sender address is missing.
func NewResendSender(cfg ResendConfig) (*ResendSender, error) {
	if cfg.APIKey == "" {
		return nil, oops.Code("EMAIL_CONFIG_INVALID").Errorf("resend api key is required")
	}
	if cfg.From == "" {
		return nil, oops.Code("EMAIL_CONFIG_INVALID").Errorf("sender address is required")
	}
	apiBase := cfg.APIBase
	if apiBase == "" {
		apiBase = defaultResendAPIBase
	}
	return &ResendSender{
		apiKey:     cfg.APIKey,
		from:       cfg.From,
		apiBase:    apiBase,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Send posts one message to the delivery API.
func (s *ResendSender) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(map[string]any{
		"from":    s.from,
		"to":      []string{msg.To},
		"subject": msg.Subject,
		"html":    msg.HTML,
	})
	if err != nil {
		return oops.Code("EMAIL_SEND_FAILED").Wrap(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiBase+"/emails", bytes.NewReader(payload))
	if err != nil {
		return oops.Code("EMAIL_SEND_FAILED").Wrap(err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return oops.Code("EMAIL_SEND_FAILED").With("to", msg.To).Wrap(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return oops.Code("EMAIL_SEND_FAILED").
			With("to", msg.To).
			With("status", resp.StatusCode).
			Errorf("delivery api rejected message: %s", body)
	}
	return nil
}
