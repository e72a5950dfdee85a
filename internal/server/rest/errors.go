package rest

import (
	"context"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/logging"
)

const msgSomethingWentWrong = "Something went wrong"

type errorBody struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// StatusFor maps an error kind to its HTTP status code.
func StatusFor(kind common.Kind) int {
	switch kind {
	case common.KindValidation:
		return http.StatusBadRequest
	case common.KindAuthentication:
		return http.StatusUnauthorized
	case common.KindAuthorization:
		return http.StatusForbidden
	case common.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// WriteError renders err as {"status","message"}. Client errors use the
// "fail" status and their own message. Server errors use "error" and are
// logged with their cause; unclassified errors never reach the client.
func WriteError(ctx context.Context, w http.ResponseWriter, logger logging.Logger, err error) {
	var ce *common.Error
	if !errors.As(err, &ce) {
		logger.Error(ctx, "unhandled error", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Status: "error", Message: msgSomethingWentWrong})
		return
	}

	code := StatusFor(ce.Kind)
	if code >= http.StatusInternalServerError {
		logger.Error(ctx, "request failed", "kind", ce.Kind.String(), "error", ce.Cause())
		writeJSON(w, code, errorBody{Status: "error", Message: ce.Message})
		return
	}

	writeJSON(w, code, errorBody{Status: "fail", Message: ce.Message})
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	WriteError(r.Context(), w, logging.FromContext(r.Context(), s.logger), err)
}
