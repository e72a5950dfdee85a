package services

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/dmitrijs2005/gatekeeper/internal/server/auth"
	"github.com/dmitrijs2005/gatekeeper/internal/server/mail"
	"github.com/dmitrijs2005/gatekeeper/internal/server/models"
	"github.com/dmitrijs2005/gatekeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gatekeeper/internal/server/repositories/users"
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

func (m *fakeMailer) last(t *testing.T) mail.Message {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent, "no mail sent")
	return m.sent[len(m.sent)-1]
}

var resetLinkRe = regexp.MustCompile(`resetPassword/([0-9a-f]{64})`)

func rawTokenFrom(t *testing.T, msg mail.Message) string {
	t.Helper()
	m := resetLinkRe.FindStringSubmatch(msg.Body)
	require.Len(t, m, 2, "reset link not found in %q", msg.Body)
	return m[1]
}

// stubRepos is a RepositoryManager over an arbitrary users.Repository.
type stubRepos struct {
	users users.Repository
}

func (m *stubRepos) RunMigrations(ctx context.Context) error { return nil }
func (m *stubRepos) Users() users.Repository                 { return m.users }
func (m *stubRepos) Ping(ctx context.Context) error          { return nil }
func (m *stubRepos) Close() error                            { return nil }
func (m *stubRepos) InTx(ctx context.Context, fn func(ctx context.Context, users users.Repository) error) error {
	return fn(ctx, m.users)
}

// failingUsers fails every call with err and counts calls.
type failingUsers struct {
	err   error
	calls int
}

func (f *failingUsers) FindByEmail(context.Context, string, ...users.ReadOption) (*models.User, error) {
	f.calls++
	return nil, f.err
}
func (f *failingUsers) FindByID(context.Context, string, ...users.ReadOption) (*models.User, error) {
	f.calls++
	return nil, f.err
}
func (f *failingUsers) FindByResetTokenHash(context.Context, string, time.Time) (*models.User, error) {
	f.calls++
	return nil, f.err
}
func (f *failingUsers) Create(context.Context, *models.User) (*models.User, error) {
	f.calls++
	return nil, f.err
}
func (f *failingUsers) Save(context.Context, *models.User, users.SaveOptions) error {
	f.calls++
	return f.err
}
func (f *failingUsers) List(context.Context) ([]*models.User, error) {
	f.calls++
	return nil, f.err
}

// hookedUsers runs afterFindByID once, right after the next FindByID.
type hookedUsers struct {
	users.Repository
	afterFindByID func()
}

func (h *hookedUsers) FindByID(ctx context.Context, id string, opts ...users.ReadOption) (*models.User, error) {
	u, err := h.Repository.FindByID(ctx, id, opts...)
	if hook := h.afterFindByID; hook != nil {
		h.afterFindByID = nil
		hook()
	}
	return u, err
}

// countingHasher counts calls to Hash.
type countingHasher struct {
	auth.PasswordHasher
	hashes int
}

func (c *countingHasher) Hash(password string) (string, error) {
	c.hashes++
	return c.PasswordHasher.Hash(password)
}

type authFixture struct {
	svc    *AuthService
	users  *UserService
	repos  repomanager.RepositoryManager
	mailer *fakeMailer
	clock  *fakeClock
	tokens *auth.TokenIssuer
}

func newAuthFixtureWith(t *testing.T, repos repomanager.RepositoryManager) *authFixture {
	t.Helper()
	clock := &fakeClock{t: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	tokens := auth.NewTokenIssuer([]byte("test-secret"), 90*24*time.Hour, clock.Now)
	mailer := &fakeMailer{}

	svc := NewAuthService(AuthDeps{
		Repos:             repos,
		Hasher:            auth.NewBcryptHasher(bcrypt.MinCost),
		Tokens:            tokens,
		Resets:            auth.NewResetTokenGenerator(10*time.Minute, clock.Now),
		Mailer:            mailer,
		MinPasswordLength: 8,
		Now:               clock.Now,
	})

	return &authFixture{
		svc:    svc,
		users:  NewUserService(repos),
		repos:  repos,
		mailer: mailer,
		clock:  clock,
		tokens: tokens,
	}
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	return newAuthFixtureWith(t, repomanager.NewMemoryRepositoryManager())
}

func (f *authFixture) signup(t *testing.T, email, password string) *AuthResult {
	t.Helper()
	res, err := f.svc.Signup(context.Background(), SignupInput{
		Name: "Test User", Email: email, Password: password, PasswordConfirm: password,
	})
	require.NoError(t, err)
	return res
}

func (f *authFixture) stored(t *testing.T, id string) *models.User {
	t.Helper()
	u, err := f.repos.Users().FindByID(context.Background(), id, users.WithPasswordHash())
	require.NoError(t, err)
	return u
}
