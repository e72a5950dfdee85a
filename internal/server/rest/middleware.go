package rest

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/logging"
	"github.com/dmitrijs2005/gatekeeper/internal/server/models"
)

var (
	ErrNotLoggedIn      = common.Authentication("You are not logged in! Please log in to get access.")
	ErrTokenInvalid     = common.Authentication("Invalid token. Please log in again!")
	ErrTokenExpired     = common.Authentication("Your token has expired! Please log in again.")
	ErrIdentityGone     = common.Authentication("The user belonging to this token does no longer exist.")
	ErrPasswordChanged  = common.Authentication("User recently changed password! Please log in again.")
	ErrPermissionDenied = common.Authorization("You do not have permission to perform this action")
)

type identityKey struct{}

// IdentityFromContext returns the identity admitted by the access chain.
func IdentityFromContext(ctx context.Context) (*models.User, bool) {
	u, ok := ctx.Value(identityKey{}).(*models.User)
	return u, ok && u != nil
}

// extractToken takes the bearer token from the Authorization header, or
// the token cookie when there is no header. The logout placeholder counts
// as no token.
func extractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	c, err := r.Cookie(tokenCookieName)
	if err != nil || c.Value == loggedOutValue {
		return ""
	}
	return c.Value
}

// authenticate runs the identity stages of the chain and returns the
// token's current owner.
func (s *Server) authenticate(r *http.Request) (*models.User, error) {
	raw := extractToken(r)
	if raw == "" {
		return nil, ErrNotLoggedIn
	}

	claims, err := s.tokens.Verify(raw)
	if err != nil {
		if errors.Is(err, common.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	u, err := s.repos.Users().FindByID(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, ErrIdentityGone
		}
		return nil, common.Dependency(msgSomethingWentWrong, err)
	}

	if u.ChangedPasswordAfter(claims.IssuedAtTime()) {
		return nil, ErrPasswordChanged
	}

	return u, nil
}

func checkRole(u *models.User, roles []models.Role) error {
	if len(roles) == 0 || slices.Contains(roles, u.Role) {
		return nil
	}
	return ErrPermissionDenied
}

// protect admits a request only for a current identity holding one of
// roles. No roles means any authenticated identity.
func (s *Server) protect(roles []models.Role, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, err := s.authenticate(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := checkRole(u, roles); err != nil {
			s.writeError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), identityKey{}, u)
		ctx = logging.WithContext(ctx, logging.FromContext(ctx, s.logger).With("user_id", u.ID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) code() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

// requestContext tags the request with an id, stores a request-scoped
// logger and writes an access log line.
func (s *Server) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get("X-Request-ID")
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		l := s.logger.With("request_id", id)
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r.WithContext(logging.WithContext(r.Context(), l)))

		l.Info(r.Context(), "request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.code(),
			"duration", time.Since(start),
		)
	})
}

func (s *Server) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				s.logger.Error(r.Context(), "panic while serving request", "panic", v, "path", r.URL.Path)
				writeJSON(w, http.StatusInternalServerError, errorBody{Status: "error", Message: msgSomethingWentWrong})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// instrument records request metrics under the route template.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		s.metrics.ObserveRequest(r.Method, routeLabel(r), rec.code(), time.Since(start))
	})
}
