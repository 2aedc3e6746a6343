// Package http provides HTTP API handlers for the Strata system.
package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	serrors "github.com/stratadb/strata/internal/errors"
	"github.com/stratadb/strata/pkg/types"
)

// Context keys for request metadata.
type contextKey string

const (
	// requestIDKey is the context key for the request ID.
	requestIDKey contextKey = "request_id"
)

// roleHeader carries the caller's role, resolved upstream by the gateway.
// Role never travels through the request context: handlers read it once at
// the boundary and pass it explicitly into every masking-sensitive call.
const roleHeader = "X-Strata-Role"

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// RequestIDMiddleware adds a unique request_id to each request.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Check if request_id is provided in header, otherwise generate one
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		// Add request_id to response header
		w.Header().Set("X-Request-ID", requestID)

		// Add request_id to context
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RecoveryMiddleware recovers from panics and returns a 500 error.
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				requestID, _ := r.Context().Value(requestIDKey).(string)
				writeError(w, http.StatusInternalServerError, "internal server error", requestID)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// ContentTypeMiddleware ensures JSON content type for API responses.
func ContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// ChainMiddleware chains multiple middleware functions together.
func ChainMiddleware(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

// DefaultMiddleware returns the default middleware chain for API handlers.
func DefaultMiddleware() func(http.Handler) http.Handler {
	return ChainMiddleware(
		RecoveryMiddleware,
		RequestIDMiddleware,
		ContentTypeMiddleware,
	)
}

// roleFromRequest resolves the caller's role from the role header.
// An absent header defaults to viewer, the least privileged role.
func roleFromRequest(r *http.Request) (string, bool) {
	role := r.Header.Get(roleHeader)
	if role == "" {
		return types.RoleViewer, true
	}
	switch role {
	case types.RoleAdmin, types.RoleContributor, types.RoleViewer:
		return role, true
	}
	return "", false
}

// writeError writes an error response with the given status code.
func writeError(w http.ResponseWriter, statusCode int, message string, requestID ...string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	resp := ErrorResponse{
		Error: message,
	}
	if len(requestID) > 0 && requestID[0] != "" {
		resp.RequestID = requestID[0]
	}

	json.NewEncoder(w).Encode(resp)
}

// writeStrataError maps a structured error to an HTTP status and writes it.
func writeStrataError(w http.ResponseWriter, err error, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusForError(err))

	json.NewEncoder(w).Encode(ErrorResponse{
		Error:     err.Error(),
		Code:      serrors.GetCode(err),
		RequestID: requestID,
	})
}

// statusForError maps structured error codes to HTTP status codes.
func statusForError(err error) int {
	switch serrors.GetCode(err) {
	case serrors.CodeDatasetNotFound, serrors.CodeBatchNotFound,
		serrors.CodeColumnNotFound, serrors.CodeObjectNotFound:
		return http.StatusNotFound
	case serrors.CodeInvalidRequest, serrors.CodeInvalidMaskRule, serrors.CodeEmptySchema:
		return http.StatusBadRequest
	case serrors.CodeBatchTerminal, serrors.CodeSchemaConflict:
		return http.StatusConflict
	case serrors.CodeCacheUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}
