// Package rest exposes the authentication pipeline and the account
// operations over HTTP. Protected routes pass through a fixed middleware
// chain that authenticates the bearer of a token and checks the roles the
// route declares.
package rest

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/netip"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dmitrijs2005/gatekeeper/internal/logging"
	"github.com/dmitrijs2005/gatekeeper/internal/server/auth"
	"github.com/dmitrijs2005/gatekeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gatekeeper/internal/server/services"
)

const shutdownTimeout = 5 * time.Second

// Options are the transport settings of the HTTP server.
type Options struct {
	Address       string
	Production    bool
	CookieMaxAge  time.Duration
	PublicBaseURL string
	MaxBodyBytes  int64
	// TrustedProxies may set the client address through forwarding headers.
	TrustedProxies []netip.Prefix
	Now            func() time.Time
}

// ReadinessCheck is probed by /health/ready.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Deps struct {
	Auth     *services.AuthService
	Users    *services.UserService
	Tokens   *auth.TokenIssuer
	Repos    repomanager.RepositoryManager
	Limiter  Limiter
	Registry *prometheus.Registry
	Ready    []ReadinessCheck
	Logger   logging.Logger
}

type Server struct {
	opts        Options
	auth        *services.AuthService
	users       *services.UserService
	tokens      *auth.TokenIssuer
	repos       repomanager.RepositoryManager
	limiter     Limiter
	registry    *prometheus.Registry
	metrics     *Metrics
	readyChecks []ReadinessCheck
	logger      logging.Logger
	handler     http.Handler
}

func NewServer(opts Options, d Deps) *Server {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 10 * 1024
	}
	l := d.Logger
	if l == nil {
		l = logging.Nop()
	}
	reg := d.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	s := &Server{
		opts:        opts,
		auth:        d.Auth,
		users:       d.Users,
		tokens:      d.Tokens,
		repos:       d.Repos,
		limiter:     d.Limiter,
		registry:    reg,
		metrics:     NewMetrics(reg),
		readyChecks: d.Ready,
		logger:      l.With("module", "http_server"),
	}
	s.handler = s.recoverer(s.requestContext(s.securityHeaders(s.buildRouter())))
	return s
}

// Handler returns the complete HTTP handler, middleware included.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.opts.Address)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(ctx, "HTTP server shutdown", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", listen.Addr().String())

	if err := srv.Serve(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
