package rest

import (
	"net/http"
	"time"
)

const (
	tokenCookieName = "jwt"
	loggedOutValue  = "loggedout"
	logoutCookieTTL = 10 * time.Second
)

func (s *Server) setTokenCookie(w http.ResponseWriter, token string) {
	s.writeTokenCookie(w, token, s.opts.CookieMaxAge)
}

// clearTokenCookie overwrites the token cookie with a placeholder that
// expires shortly.
func (s *Server) clearTokenCookie(w http.ResponseWriter) {
	s.writeTokenCookie(w, loggedOutValue, logoutCookieTTL)
}

func (s *Server) writeTokenCookie(w http.ResponseWriter, value string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     tokenCookieName,
		Value:    value,
		Path:     "/",
		Expires:  s.opts.Now().Add(ttl),
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   s.opts.Production,
		SameSite: http.SameSiteLaxMode,
	})
}
