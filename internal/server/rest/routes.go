package rest

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/dmitrijs2005/gatekeeper/internal/server/models"
)

// Route is one entry of the /api route table. Every route is rate limited.
// Protected routes run the access chain; Roles narrows them to the listed
// roles.
type Route struct {
	Method    string
	Path      string
	Handler   http.HandlerFunc
	Protected bool
	Roles     []models.Role
}

func (s *Server) routes() []Route {
	return []Route{
		{Method: http.MethodPost, Path: "/api/v1/users/signup", Handler: s.signup},
		{Method: http.MethodPost, Path: "/api/v1/users/login", Handler: s.login},
		{Method: http.MethodGet, Path: "/api/v1/users/logout", Handler: s.logout},
		{Method: http.MethodPost, Path: "/api/v1/users/forgotPassword", Handler: s.forgotPassword},
		{Method: http.MethodPatch, Path: "/api/v1/users/resetPassword/{token}", Handler: s.resetPassword},

		{Method: http.MethodPatch, Path: "/api/v1/users/updatePassword", Handler: s.updatePassword, Protected: true},
		{Method: http.MethodGet, Path: "/api/v1/users/me", Handler: s.me, Protected: true},
		{Method: http.MethodPatch, Path: "/api/v1/users/updateMe", Handler: s.updateMe, Protected: true},
		{Method: http.MethodDelete, Path: "/api/v1/users/deleteMe", Handler: s.deleteMe, Protected: true},

		{Method: http.MethodGet, Path: "/api/v1/users", Handler: s.listUsers, Protected: true, Roles: []models.Role{models.RoleAdmin}},
		{Method: http.MethodPatch, Path: "/api/v1/users/{id}/role", Handler: s.setRole, Protected: true, Roles: []models.Role{models.RoleAdmin}},
	}
}

func (s *Server) buildRouter() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.instrument)

	r.HandleFunc("/health/live", s.live).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", s.ready).Methods(http.MethodGet)
	r.Handle("/metrics", s.metricsHandler()).Methods(http.MethodGet)

	for _, rt := range s.routes() {
		var h http.Handler = rt.Handler
		if rt.Protected {
			h = s.protect(rt.Roles, h)
		}
		r.Handle(rt.Path, s.rateLimit(h)).Methods(rt.Method)
	}

	notFound := s.instrument(http.HandlerFunc(s.notFound))
	r.NotFoundHandler = notFound
	r.MethodNotAllowedHandler = notFound

	return r
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, errorBody{
		Status:  "fail",
		Message: "Can't find " + r.URL.Path + " on this server!",
	})
}
