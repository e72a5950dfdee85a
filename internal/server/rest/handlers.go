package rest

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/dmitrijs2005/gatekeeper/internal/server/services"
)

// sendAuth sets the token cookie and writes the token with the identity.
func (s *Server) sendAuth(w http.ResponseWriter, status int, res *services.AuthResult) {
	s.setTokenCookie(w, res.Token)
	writeJSON(w, status, envelope{
		"status": "success",
		"token":  res.Token,
		"data":   envelope{"user": res.User},
	})
}

func (s *Server) signup(w http.ResponseWriter, r *http.Request) {
	var in services.SignupInput
	if err := s.decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.auth.Signup(r.Context(), in)
	s.metrics.ObserveAuth("signup", err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.sendAuth(w, http.StatusCreated, res)
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var in services.LoginInput
	if err := s.decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.auth.Login(r.Context(), in)
	s.metrics.ObserveAuth("login", err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.sendAuth(w, http.StatusOK, res)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	s.clearTokenCookie(w)
	writeJSON(w, http.StatusOK, envelope{"status": "success"})
}

func (s *Server) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var in services.ForgotPasswordInput
	if err := s.decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}

	err := s.auth.ForgotPassword(r.Context(), in, s.baseURL(r))
	s.metrics.ObserveAuth("forgot_password", err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{"status": "success", "message": "Token sent to email!"})
}

func (s *Server) resetPassword(w http.ResponseWriter, r *http.Request) {
	var in services.ResetPasswordInput
	if err := s.decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	in.Token = mux.Vars(r)["token"]

	res, err := s.auth.ResetPassword(r.Context(), in)
	s.metrics.ObserveAuth("reset_password", err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.sendAuth(w, http.StatusOK, res)
}

func (s *Server) updatePassword(w http.ResponseWriter, r *http.Request) {
	me, _ := IdentityFromContext(r.Context())

	var in services.UpdatePasswordInput
	if err := s.decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.auth.UpdatePassword(r.Context(), me.ID, in)
	s.metrics.ObserveAuth("update_password", err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.sendAuth(w, http.StatusOK, res)
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	me, _ := IdentityFromContext(r.Context())

	u, err := s.users.Me(r.Context(), me.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, success(envelope{"user": u}))
}

func (s *Server) updateMe(w http.ResponseWriter, r *http.Request) {
	me, _ := IdentityFromContext(r.Context())

	var in services.UpdateMeInput
	if err := s.decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}

	u, err := s.users.UpdateMe(r.Context(), me.ID, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, success(envelope{"user": u}))
}

func (s *Server) deleteMe(w http.ResponseWriter, r *http.Request) {
	me, _ := IdentityFromContext(r.Context())

	if err := s.users.Deactivate(r.Context(), me.ID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	list, err := s.users.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{
		"status":  "success",
		"results": len(list),
		"data":    envelope{"users": list},
	})
}

func (s *Server) setRole(w http.ResponseWriter, r *http.Request) {
	var in services.SetRoleInput
	if err := s.decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}

	u, err := s.users.SetRole(r.Context(), mux.Vars(r)["id"], in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, success(envelope{"user": u}))
}

// baseURL is the origin reset links point to: the configured public URL,
// or the origin the request came in on.
func (s *Server) baseURL(r *http.Request) string {
	if s.opts.PublicBaseURL != "" {
		return strings.TrimRight(s.opts.PublicBaseURL, "/")
	}
	scheme := "http"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}
