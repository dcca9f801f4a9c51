// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tollgate Contributors

package web_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"

	"github.com/tollgate/tollgate/internal/auth"
	"github.com/tollgate/tollgate/internal/billing"
	"github.com/tollgate/tollgate/internal/email"
	"github.com/tollgate/tollgate/internal/ratelimit"
	"github.com/tollgate/tollgate/internal/usage"
	"github.com/tollgate/tollgate/internal/web"
)

// memUserRepo is an in-memory auth.UserRepository.
type memUserRepo struct {
	mu    sync.Mutex
	users map[ulid.ULID]*auth.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[ulid.ULID]*auth.User)}
}

func (r *memUserRepo) Create(_ context.Context, user *auth.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == user.Email {
			return auth.ErrDuplicateEmail
		}
		if user.APIKey != "" && u.APIKey == user.APIKey {
			return auth.ErrDuplicateAPIKey
		}
	}
	clone := *user
	r.users[user.ID] = &clone
	return nil
}

func (r *memUserRepo) GetByID(_ context.Context, id ulid.ULID) (*auth.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	clone := *u
	return &clone, nil
}

func (r *memUserRepo) GetByEmail(_ context.Context, email string) (*auth.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			clone := *u
			return &clone, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (r *memUserRepo) GetByAPIKey(_ context.Context, key string) (*auth.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.APIKey == key && key != "" {
			clone := *u
			return &clone, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (r *memUserRepo) SetResetToken(_ context.Context, id ulid.ULID, tokenHash string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return auth.ErrNotFound
	}
	u.ResetTokenHash = &tokenHash
	u.ResetTokenExpiresAt = &expiresAt
	return nil
}

func (r *memUserRepo) GetByValidResetToken(_ context.Context, tokenHash string, now time.Time) (*auth.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.ResetTokenHash != nil && *u.ResetTokenHash == tokenHash &&
			u.ResetTokenExpiresAt != nil && u.ResetTokenExpiresAt.After(now) {
			clone := *u
			return &clone, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (r *memUserRepo) ConsumeResetToken(_ context.Context, id ulid.ULID, tokenHash, newPasswordHash string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok || u.ResetTokenHash == nil || *u.ResetTokenHash != tokenHash ||
		u.ResetTokenExpiresAt == nil || !u.ResetTokenExpiresAt.After(now) {
		return auth.ErrNotFound
	}
	u.PasswordHash = newPasswordHash
	u.ResetTokenHash = nil
	u.ResetTokenExpiresAt = nil
	return nil
}

// backdateResetToken rewinds the stored reset token expiry for email,
// so tests can exercise the expiry predicate with a real token.
func (r *memUserRepo) backdateResetToken(email string, expiresAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email && u.ResetTokenExpiresAt != nil {
			t := expiresAt
			u.ResetTokenExpiresAt = &t
		}
	}
}

func (r *memUserRepo) UpdateStripeCustomerID(_ context.Context, id ulid.ULID, customerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return auth.ErrNotFound
	}
	u.StripeCustomerID = customerID
	return nil
}

func (r *memUserRepo) UpdatePlanByCustomer(_ context.Context, customerID, plan string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.StripeCustomerID == customerID {
			u.Plan = plan
		}
	}
	return nil
}

// memSessionRepo is an in-memory auth.SessionRepository.
type memSessionRepo struct {
	mu       sync.Mutex
	sessions map[ulid.ULID]*auth.Session
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{sessions: make(map[ulid.ULID]*auth.Session)}
}

func (r *memSessionRepo) Create(_ context.Context, session *auth.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *session
	r.sessions[session.ID] = &clone
	return nil
}

func (r *memSessionRepo) GetByTokenHash(_ context.Context, tokenHash string) (*auth.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.TokenHash == tokenHash {
			clone := *s
			return &clone, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (r *memSessionRepo) UpdateLastSeen(_ context.Context, id ulid.ULID, lastSeen time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return auth.ErrNotFound
	}
	s.LastSeenAt = lastSeen
	return nil
}

func (r *memSessionRepo) Delete(_ context.Context, id ulid.ULID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return auth.ErrNotFound
	}
	delete(r.sessions, id)
	return nil
}

func (r *memSessionRepo) DeleteExpired(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var deleted int64
	now := time.Now()
	for id, s := range r.sessions {
		if s.IsExpiredAt(now) {
			delete(r.sessions, id)
			deleted++
		}
	}
	return deleted, nil
}

// memUsageRepo is an in-memory usage.Repository.
type memUsageRepo struct {
	mu      sync.Mutex
	records []*usage.Record
}

func (r *memUsageRepo) Insert(_ context.Context, record *usage.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
	return nil
}

func (r *memUsageRepo) Summarize(_ context.Context, userID ulid.ULID, since time.Time) (*usage.Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	summary := &usage.Summary{Recent: []*usage.Record{}}
	for _, rec := range r.records {
		if rec.UserID == userID && rec.CreatedAt.After(since) {
			summary.Total++
			summary.Recent = append(summary.Recent, rec)
		}
	}
	return summary, nil
}

// fakeHasher keeps handler tests fast; the real argon2id path is covered
// in its own package.
type fakeHasher struct{}

func (fakeHasher) Hash(password string) (string, error) { return "h:" + password, nil }

func (fakeHasher) Verify(password, hash string) (bool, error) {
	return hash == "h:"+password, nil
}

// fakeBilling is a billing.Provider with programmable behavior.
type fakeBilling struct {
	checkoutURL string
	portalURL   string
	verify      func(payload []byte, sigHeader string) (*billing.Event, error)
}

func (f *fakeBilling) CreateCheckoutSession(context.Context, billing.CheckoutParams) (string, error) {
	if f.checkoutURL == "" {
		return "", billing.ErrDisabled
	}
	return f.checkoutURL, nil
}

func (f *fakeBilling) CreatePortalSession(context.Context, string) (string, error) {
	if f.portalURL == "" {
		return "", billing.ErrDisabled
	}
	return f.portalURL, nil
}

func (f *fakeBilling) VerifyWebhook(payload []byte, sigHeader string) (*billing.Event, error) {
	if f.verify == nil {
		return nil, errors.New("verify not configured")
	}
	return f.verify(payload, sigHeader)
}

// fakeMailQueue records enqueued messages.
type fakeMailQueue struct {
	mu       sync.Mutex
	messages []email.Message
}

func (q *fakeMailQueue) Enqueue(msg email.Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages = append(q.messages, msg)
}

func (q *fakeMailQueue) sent() []email.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]email.Message(nil), q.messages...)
}

// testEnv bundles a Server with its fakes.
type testEnv struct {
	handler http.Handler
	users   *memUserRepo
	usage   *memUsageRepo
	billing *fakeBilling
	mail    *fakeMailQueue
	limiter *ratelimit.SlidingWindow
	reset   *auth.PasswordResetService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	users := newMemUserRepo()
	sessions := newMemSessionRepo()
	hasher := fakeHasher{}

	authSvc, err := auth.NewService(users, sessions, hasher)
	require.NoError(t, err)
	resetSvc, err := auth.NewPasswordResetService(users, hasher)
	require.NoError(t, err)

	usageRepo := &memUsageRepo{}
	provider := &fakeBilling{}
	mail := &fakeMailQueue{}
	limiter := ratelimit.NewSlidingWindow(time.Minute, 5)

	server, err := web.NewServer(web.Options{
		Auth:           authSvc,
		Reset:          resetSvc,
		Users:          users,
		Usage:          usageRepo,
		Billing:        provider,
		Mailer:         mail,
		Limiter:        limiter,
		BaseURL:        "http://localhost:8080",
		AllowedOrigins: []string{"http://localhost:3000"},
		Logger:         slog.New(slog.DiscardHandler),
	})
	require.NoError(t, err)

	return &testEnv{
		handler: server.Handler(),
		users:   users,
		usage:   usageRepo,
		billing: provider,
		mail:    mail,
		limiter: limiter,
		reset:   resetSvc,
	}
}

// browser drives the handler the way a cookie-carrying client would.
type browser struct {
	t       *testing.T
	env     *testEnv
	cookies map[string]*http.Cookie
}

func newBrowser(t *testing.T, env *testEnv) *browser {
	return &browser{t: t, env: env, cookies: make(map[string]*http.Cookie)}
}

func (b *browser) do(req *http.Request) *httptest.ResponseRecorder {
	b.t.Helper()
	for _, c := range b.cookies {
		if c.MaxAge >= 0 {
			req.AddCookie(c)
		}
	}
	rec := httptest.NewRecorder()
	b.env.handler.ServeHTTP(rec, req)
	for _, c := range rec.Result().Cookies() {
		b.cookies[c.Name] = c
	}
	return rec
}

func (b *browser) get(path string) *httptest.ResponseRecorder {
	return b.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func (b *browser) postJSON(path, body string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return b.do(req)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst))
}

// postWithCSRF posts a JSON body with the current session's
// anti-forgery token attached.
func (b *browser) postWithCSRF(path, body string) *httptest.ResponseRecorder {
	b.t.Helper()
	token := b.csrfToken()
	return b.postJSON(path, body, http.Header{"X-CSRF-Token": []string{token}})
}

// csrfToken bootstraps a session and returns its anti-forgery token.
func (b *browser) csrfToken() string {
	b.t.Helper()
	rec := b.get("/csrf-token")
	require.Equal(b.t, http.StatusOK, rec.Code)
	var body struct {
		CSRFToken string `json:"csrfToken"`
	}
	decodeBody(b.t, rec, &body)
	require.NotEmpty(b.t, body.CSRFToken)
	return body.CSRFToken
}

// signup runs the full browser signup flow and returns the API key.
func (b *browser) signup(email, password, name string) string {
	b.t.Helper()
	token := b.csrfToken()
	rec := b.postJSON("/auth/signup",
		`{"email":"`+email+`","password":"`+password+`","name":"`+name+`"}`,
		http.Header{"X-CSRF-Token": []string{token}})
	require.Equal(b.t, http.StatusCreated, rec.Code, "signup failed: %s", rec.Body.String())
	var body struct {
		APIKey string `json:"apiKey"`
	}
	decodeBody(b.t, rec, &body)
	return body.APIKey
}
