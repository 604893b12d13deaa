package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// FieldError is one field-level validation failure reported by the API.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// APIError is a non-2xx response from the API.
//
// The API answers errors FastAPI-style, either
//
//	{"detail": "Incorrect username or password"}
//
// or, for request validation failures,
//
//	{"detail": [{"loc": ["body", "email"], "msg": "value is not a valid email address"}]}
//
// The second form is decoded into Fields.
type APIError struct {
	StatusCode int
	Method     string
	Endpoint   string
	Detail     string
	Fields     []FieldError
}

func (e *APIError) Error() string {
	detail := e.Detail
	if detail == "" {
		detail = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Endpoint, e.StatusCode, detail)
}

// Temporary reports whether retrying the same request may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// StatusCode returns the HTTP status of err if it wraps an APIError, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}

// parseError builds an APIError from a response body.
func parseError(status int, method, endpoint string, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Method: method, Endpoint: endpoint}

	if !gjson.ValidBytes(body) {
		apiErr.Detail = truncate(strings.TrimSpace(string(body)), 200)
		return apiErr
	}

	root := gjson.ParseBytes(body)
	detail := root.Get("detail")
	switch {
	case detail.IsArray():
		var messages []string
		detail.ForEach(func(_, item gjson.Result) bool {
			field := fieldFromLoc(item.Get("loc"))
			msg := item.Get("msg").String()
			apiErr.Fields = append(apiErr.Fields, FieldError{Field: field, Message: msg})
			messages = append(messages, field+": "+msg)
			return true
		})
		apiErr.Detail = strings.Join(messages, "; ")
	case detail.Exists():
		apiErr.Detail = detail.String()
	case root.Get("message").Exists():
		apiErr.Detail = root.Get("message").String()
	}

	return apiErr
}

// fieldFromLoc turns ["body", "email"] into "email". Locations with nested
// parts are joined with dots.
func fieldFromLoc(loc gjson.Result) string {
	var parts []string
	for i, p := range loc.Array() {
		if i == 0 && (p.String() == "body" || p.String() == "query" || p.String() == "path") {
			continue
		}
		parts = append(parts, p.String())
	}
	if len(parts) == 0 {
		return loc.String()
	}
	return strings.Join(parts, ".")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
