package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/dmitrijs2005/gatekeeper/internal/server/auth"
	"github.com/dmitrijs2005/gatekeeper/internal/server/mail"
	"github.com/dmitrijs2005/gatekeeper/internal/server/models"
	"github.com/dmitrijs2005/gatekeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gatekeeper/internal/server/repositories/users"
	"github.com/dmitrijs2005/gatekeeper/internal/server/services"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []mail.Message
	err  error
}

func (m *fakeMailer) Send(ctx context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

var resetLinkRe = regexp.MustCompile(`(https?://[^ ]+)/api/v1/users/resetPassword/([0-9a-f]{64})`)

type fixture struct {
	srv      *Server
	handler  http.Handler
	repos    *repomanager.MemoryRepositoryManager
	mailer   *fakeMailer
	clock    *fakeClock
	tokens   *auth.TokenIssuer
	registry *prometheus.Registry
}

type fixtureOption func(*Options, *Deps)

func withLimiter(l Limiter) fixtureOption {
	return func(_ *Options, d *Deps) { d.Limiter = l }
}

func withReady(c ReadinessCheck) fixtureOption {
	return func(_ *Options, d *Deps) { d.Ready = append(d.Ready, c) }
}

func withOptions(fn func(*Options)) fixtureOption {
	return func(o *Options, _ *Deps) { fn(o) }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	clock := &fakeClock{t: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	repos := repomanager.NewMemoryRepositoryManager()
	tokens := auth.NewTokenIssuer([]byte("test-secret"), 90*24*time.Hour, clock.Now)
	mailer := &fakeMailer{}
	registry := prometheus.NewRegistry()

	authSvc := services.NewAuthService(services.AuthDeps{
		Repos:             repos,
		Hasher:            auth.NewBcryptHasher(bcrypt.MinCost),
		Tokens:            tokens,
		Resets:            auth.NewResetTokenGenerator(10*time.Minute, clock.Now),
		Mailer:            mailer,
		MinPasswordLength: 8,
		Now:               clock.Now,
	})

	o := Options{
		Address:      "127.0.0.1:0",
		CookieMaxAge: 90 * 24 * time.Hour,
		MaxBodyBytes: 10 * 1024,
		Now:          clock.Now,
	}
	d := Deps{
		Auth:     authSvc,
		Users:    services.NewUserService(repos),
		Tokens:   tokens,
		Repos:    repos,
		Registry: registry,
	}
	for _, opt := range opts {
		opt(&o, &d)
	}

	srv := NewServer(o, d)
	return &fixture{
		srv:      srv,
		handler:  srv.Handler(),
		repos:    repos,
		mailer:   mailer,
		clock:    clock,
		tokens:   tokens,
		registry: registry,
	}
}

type requestOption func(*http.Request)

func bearer(token string) requestOption {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func cookie(value string) requestOption {
	return func(r *http.Request) { r.AddCookie(&http.Cookie{Name: tokenCookieName, Value: value}) }
}

func header(k, v string) requestOption {
	return func(r *http.Request) { r.Header.Set(k, v) }
}

func remoteAddr(addr string) requestOption {
	return func(r *http.Request) { r.RemoteAddr = addr }
}

func (f *fixture) do(t *testing.T, method, path string, body any, opts ...requestOption) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, opt := range opts {
		opt(req)
	}

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

type authResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Token   string `json:"token"`
	Data    struct {
		User map[string]any `json:"user"`
	} `json:"data"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) authResponse {
	t.Helper()
	var out authResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

// signup registers an identity over HTTP and returns its id and token.
func (f *fixture) signup(t *testing.T, email, password string) (string, string) {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/v1/users/signup", map[string]string{
		"name": "Test User", "email": email, "password": password, "passwordConfirm": password,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decode(t, rec)
	return res.Data.User["id"].(string), res.Token
}

// promote sets a role directly in the store.
func (f *fixture) promote(t *testing.T, id string, role models.Role) {
	t.Helper()
	ctx := context.Background()
	u, err := f.repos.Users().FindByID(ctx, id)
	require.NoError(t, err)
	u.Role = role
	require.NoError(t, f.repos.Users().Save(ctx, u, users.SaveOptions{}))
}

func (f *fixture) tokensWithSecret(secret string) *auth.TokenIssuer {
	return auth.NewTokenIssuer([]byte(secret), 90*24*time.Hour, f.clock.Now)
}
