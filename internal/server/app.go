// Package server wires the gatekeeper server: storage, credential
// primitives, mail dispatch, rate limiting and the HTTP API. It runs the
// API until a termination signal arrives and then shuts down gracefully.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dmitrijs2005/gatekeeper/internal/logging"
	"github.com/dmitrijs2005/gatekeeper/internal/server/auth"
	"github.com/dmitrijs2005/gatekeeper/internal/server/config"
	"github.com/dmitrijs2005/gatekeeper/internal/server/mail"
	"github.com/dmitrijs2005/gatekeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gatekeeper/internal/server/rest"
	"github.com/dmitrijs2005/gatekeeper/internal/server/services"
)

type App struct {
	config      *config.Config
	logger      logging.Logger
	repos       repomanager.RepositoryManager
	authService *services.AuthService
	userService *services.UserService
	tokens      *auth.TokenIssuer
	limiter     rest.Limiter
	proxies     []netip.Prefix
	ready       []rest.ReadinessCheck
	closers     []func() error
}

// seams for tests
var (
	openPostgres = repomanager.OpenPostgres
	newS3Client  = mail.NewS3Client
)

// NewApp builds the application with logs going to stdout.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	return NewAppWithLogger(ctx, c, logging.New(os.Stdout, c.Production))
}

func NewAppWithLogger(ctx context.Context, c *config.Config, l logging.Logger) (*App, error) {
	app := &App{
		config: c,
		logger: l,
	}

	if err := app.initStorage(ctx); err != nil {
		_ = app.Close()
		return nil, err
	}

	mailer, err := app.newMailer(ctx)
	if err != nil {
		_ = app.Close()
		return nil, err
	}

	if err := app.initLimiter(); err != nil {
		_ = app.Close()
		return nil, err
	}

	hasher, err := auth.NewPasswordHasher(c.PasswordHasher, c.PasswordHashCost)
	if err != nil {
		_ = app.Close()
		return nil, err
	}

	app.tokens = auth.NewTokenIssuer([]byte(c.SecretKey), c.TokenValidityDuration, nil)
	app.authService = services.NewAuthService(services.AuthDeps{
		Repos:             app.repos,
		Hasher:            hasher,
		Tokens:            app.tokens,
		Resets:            auth.NewResetTokenGenerator(c.ResetTokenValidity, nil),
		Mailer:            mailer,
		Logger:            app.logger.With("module", "auth"),
		MinPasswordLength: c.MinPasswordLength,
	})
	app.userService = services.NewUserService(app.repos)

	return app, nil
}

// initStorage selects PostgreSQL when a DSN is configured and applies the
// migrations; without a DSN identities live in process memory.
func (app *App) initStorage(ctx context.Context) error {
	if app.config.DatabaseDSN == "" {
		app.logger.Warn(ctx, "no database configured, identities are kept in memory")
		app.repos = repomanager.NewMemoryRepositoryManager()
		return nil
	}

	db, err := openPostgres(ctx, app.config.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("db init error: %w", err)
	}
	app.repos = repomanager.NewPostgresRepositoryManager(db)
	app.closers = append(app.closers, app.repos.Close)

	if err := app.repos.RunMigrations(ctx); err != nil {
		return fmt.Errorf("db migration error: %w", err)
	}
	return nil
}

func (app *App) newMailer(ctx context.Context) (mail.Sender, error) {
	c := app.config
	if c.MailOutboxBucket == "" {
		return mail.NewConsoleSender(c.MailFrom, os.Stdout), nil
	}

	client, err := newS3Client(ctx, mail.S3Settings{
		Region:       c.S3Region,
		AccessKey:    c.S3RootUser,
		SecretKey:    c.S3RootPassword,
		BaseEndpoint: c.S3BaseEndpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("mail init error: %w", err)
	}
	return mail.NewS3Outbox(client, c.MailOutboxBucket, c.MailFrom), nil
}

func (app *App) initLimiter() error {
	c := app.config
	if c.RateLimitRequests == 0 {
		return nil
	}

	proxies, err := c.TrustedProxyPrefixes()
	if err != nil {
		return err
	}
	app.proxies = proxies

	if c.RedisURL == "" {
		app.limiter = rest.NewMemoryLimiter(c.RateLimitRequests, c.RateLimitWindow, nil)
		return nil
	}

	opts, err := redis.ParseURL(c.RedisURL)
	if err != nil {
		return fmt.Errorf("redis url: %w", err)
	}
	client := redis.NewClient(opts)
	app.closers = append(app.closers, client.Close)

	rl := rest.NewRedisLimiter(client, c.RateLimitRequests, c.RateLimitWindow)
	app.limiter = rl
	app.ready = append(app.ready, rest.ReadinessCheck{Name: "redis", Check: rl.Ping})
	return nil
}

// Auth exposes the authentication pipeline for operational tooling.
func (app *App) Auth() *services.AuthService {
	return app.authService
}

// Close releases the database pool and the Redis client.
func (app *App) Close() error {
	var errs []error
	for i := len(app.closers) - 1; i >= 0; i-- {
		errs = append(errs, app.closers[i]())
	}
	app.closers = nil
	return errors.Join(errs...)
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) newHTTPServer() *rest.Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return rest.NewServer(rest.Options{
		Address:        app.config.EndpointAddrHTTP,
		Production:     app.config.Production,
		CookieMaxAge:   app.config.CookieMaxAge(),
		PublicBaseURL:  app.config.PublicBaseURL,
		MaxBodyBytes:   app.config.MaxBodyBytes,
		TrustedProxies: app.proxies,
	}, rest.Deps{
		Auth:     app.authService,
		Users:    app.userService,
		Tokens:   app.tokens,
		Repos:    app.repos,
		Limiter:  app.limiter,
		Registry: registry,
		Ready:    app.ready,
		Logger:   app.logger,
	})
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.newHTTPServer().Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run serves the API until ctx is canceled or a termination signal arrives.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Wait()

	if err := app.Close(); err != nil {
		app.logger.Error(ctx, "close resources", "error", err)
	}
	app.logger.Info(ctx, "App stopped")
}
