package services

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ieraasyl/PulseClient/internal/gateway"
	"github.com/ieraasyl/PulseClient/pkg/utils"
)

var (
	// ErrBusy is returned when login or registration is attempted while
	// another one is in flight.
	ErrBusy = errors.New("an authentication attempt is already in progress")

	// ErrStaleResponse is returned when a network result arrives after the
	// session has moved on; the result is discarded.
	ErrStaleResponse = errors.New("session changed while the request was in flight")

	// ErrInvalidTransition is returned when a mutator is called from a state
	// that does not allow it, e.g. login while already authenticated.
	ErrInvalidTransition = errors.New("operation not allowed in the current session state")
)

// ValidationError reports malformed input, either caught locally before any
// network call or returned by the API as a 422.
type ValidationError struct {
	Fields []utils.FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, format string, args ...interface{}) {
	e.Fields = append(e.Fields, utils.FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// AuthenticationError is a 401 or 403 from the API.
type AuthenticationError struct {
	StatusCode int
	Message    string
}

func (e *AuthenticationError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("authentication failed (%d)", e.StatusCode)
	}
	return fmt.Sprintf("authentication failed (%d): %s", e.StatusCode, e.Message)
}

// IsAuthentication reports whether err is an AuthenticationError.
func IsAuthentication(err error) bool {
	var authErr *AuthenticationError
	return errors.As(err, &authErr)
}

// classify turns gateway errors into the service taxonomy. Errors that fit
// no category are wrapped with op and returned.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var apiErr *gateway.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %w", op, err)
	}

	switch apiErr.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &AuthenticationError{StatusCode: apiErr.StatusCode, Message: apiErr.Detail}
	case http.StatusUnprocessableEntity:
		v := &ValidationError{}
		for _, f := range apiErr.Fields {
			v.add(f.Field, "%s", f.Message)
		}
		if len(v.Fields) == 0 {
			v.add("request", "%s", apiErr.Detail)
		}
		return v
	case http.StatusBadRequest:
		// e.g. "Username already registered"
		v := &ValidationError{}
		v.add("request", "%s", apiErr.Detail)
		return v
	}

	return fmt.Errorf("%s: %w", op, err)
}
