package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/logging"
)

const readinessTimeout = 2 * time.Second

func (s *Server) live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, envelope{"status": "ok"})
}

// ready probes the store and every registered dependency.
func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	checks := append([]ReadinessCheck{{Name: "database", Check: s.repos.Ping}}, s.readyChecks...)
	results := make(map[string]string, len(checks))
	code := http.StatusOK
	status := "ok"

	for _, c := range checks {
		if err := c.Check(ctx); err != nil {
			logging.FromContext(r.Context(), s.logger).Warn(r.Context(), "readiness check failed", "check", c.Name, "error", err)
			results[c.Name] = "down"
			code = http.StatusServiceUnavailable
			status = "unavailable"
			continue
		}
		results[c.Name] = "up"
	}

	writeJSON(w, code, envelope{"status": status, "checks": results})
}
