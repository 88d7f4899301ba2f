// Package transport contains the HTTP router, middleware chain, and request
// handlers for webhook ingress and the management API.
package transport

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/opsdeck/flowengine/internal/observability"
	"github.com/opsdeck/flowengine/model"
)

// statusForCode maps ErrorEnvelope codes to HTTP status codes.
var statusForCode = map[string]int{
	model.ErrBadRequest:        http.StatusBadRequest,
	model.ErrBadPayload:        http.StatusBadRequest,
	model.ErrValidationError:   http.StatusBadRequest,
	model.ErrUnauthorized:      http.StatusUnauthorized,
	model.ErrInvalidSignature:  http.StatusUnauthorized,
	model.ErrForbidden:         http.StatusForbidden,
	model.ErrNotFound:          http.StatusNotFound,
	model.ErrWorkflowNotFound:  http.StatusNotFound,
	model.ErrConflict:          http.StatusConflict,
	model.ErrWorkflowNotActive: http.StatusConflict,
	model.ErrRateLimited:       http.StatusTooManyRequests,
	model.ErrInternalError:     http.StatusInternalServerError,
	model.ErrUnavailable:       http.StatusServiceUnavailable,
}

// StatusFor returns the HTTP status for an error code.
func StatusFor(code string) int {
	if status, ok := statusForCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// WriteError writes an ErrorEnvelope as a JSON response with the correct
// HTTP status code. Errors without an envelope in their chain become a
// generic 500 so infrastructure details never reach the caller.
func WriteError(w http.ResponseWriter, err error) {
	ee, ok := model.AsEnvelope(err)
	if !ok {
		ee = model.NewInternalError()
	}

	type errorResponse struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	WriteJSON(w, StatusFor(ee.Code), errorResponse{Error: ee})
}

// writeServiceError writes err for an authenticated request. Errors that are
// not envelopes are infrastructure failures; they are logged with the
// caller's identity before the generic 500 goes out.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if _, ok := model.AsEnvelope(err); !ok {
		observability.RequestLogger(r.Context(), zap.NewNop()).Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	WriteError(w, err)
}

