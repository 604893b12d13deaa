package utils

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// GetRequestID extracts the request ID from the context.
// Returns empty string if no request ID is found.
func GetRequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if requestID, ok := ctx.Value(requestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithRequestID returns a copy of ctx carrying requestID. The outbound
// transport reuses it as X-Request-ID so a dashboard request and the API
// calls it triggers share one id in the logs.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// FieldError is a single field-level problem in an error response.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ErrorResponse is the JSON body of every dashboard error.
//
// JSON example:
//
//	{
//	  "error": "Bad Request",
//	  "message": "validation failed",
//	  "fields": [{"field": "password", "message": "must be at least 6 characters"}],
//	  "request_id": "550e8400-e29b-41d4-a716-446655440000"
//	}
type ErrorResponse struct {
	Error     string       `json:"error"`
	Message   string       `json:"message,omitempty"`
	Fields    []FieldError `json:"fields,omitempty"`
	RequestID string       `json:"request_id,omitempty"`
}

// RespondWithError writes an ErrorResponse with the given status.
//
// Example:
//
//	utils.RespondWithError(w, r, http.StatusConflict, "a login is already in progress")
func RespondWithError(w http.ResponseWriter, r *http.Request, statusCode int, message string) {
	RespondWithFieldErrors(w, r, statusCode, message, nil)
}

// RespondWithFieldErrors writes an ErrorResponse that lists field errors.
func RespondWithFieldErrors(w http.ResponseWriter, r *http.Request, statusCode int, message string, fields []FieldError) {
	requestID := GetRequestID(r.Context())
	response := ErrorResponse{
		Error:     http.StatusText(statusCode),
		Message:   message,
		Fields:    fields,
		RequestID: requestID,
	}
	writeJSON(w, statusCode, response, requestID)
}

// RespondWithJSON writes data as JSON with the given status.
func RespondWithJSON(w http.ResponseWriter, r *http.Request, statusCode int, data interface{}) {
	writeJSON(w, statusCode, data, GetRequestID(r.Context()))
}

// RespondWithMessage writes {"message": ...}.
func RespondWithMessage(w http.ResponseWriter, r *http.Request, statusCode int, message string) {
	requestID := GetRequestID(r.Context())
	response := map[string]string{
		"message": message,
	}
	if requestID != "" {
		response["request_id"] = requestID
	}
	writeJSON(w, statusCode, response, requestID)
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().
			Err(err).
			Str("request_id", requestID).
			Msg("Failed to encode JSON response")
	}
}
