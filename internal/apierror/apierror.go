// Package apierror defines the canonical error taxonomy returned to clients
// and normalizes backend failures onto it.
package apierror

import (
	"fmt"
	"net/http"
)

// Type enumerates the error kinds exposed on the wire.
type Type string

const (
	TypeInvalidRequest Type = "invalid_request_error"
	TypeAuthentication Type = "authentication_error"
	TypePermission     Type = "permission_error"
	TypeNotFound       Type = "not_found_error"
	TypeRateLimit      Type = "rate_limit_error"
	TypeAPI            Type = "api_error"
	TypeInternal       Type = "internal_error"
)

// Error is the canonical error. It is built once and not modified afterwards.
type Error struct {
	Message  string
	Type     Type
	Code     string
	Provider string
	// Details holds the raw backend payload; only rendered in debug mode.
	Details string
	// Status is the HTTP status observed from the backend, or implied by the failure.
	Status int

	cause error
}

func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Provider, e.Message, e.Type)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Type)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// HTTPStatus is the status code the gateway answers with.
func (e *Error) HTTPStatus() int {
	switch e.Type {
	case TypeInvalidRequest:
		return http.StatusBadRequest
	case TypeAuthentication:
		return http.StatusUnauthorized
	case TypePermission:
		return http.StatusForbidden
	case TypeNotFound:
		return http.StatusNotFound
	case TypeRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Body is the JSON envelope written to clients.
type Body struct {
	Error Detail `json:"error"`
}

// Detail is the inner error object.
type Detail struct {
	Message  string `json:"message"`
	Type     Type   `json:"type"`
	Code     string `json:"code,omitempty"`
	Provider string `json:"provider,omitempty"`
	Details  string `json:"details,omitempty"`
}

// Body renders the client-facing envelope. Backend details are included only when debug is set.
func (e *Error) Body(debug bool) Body {
	detail := Detail{
		Message:  e.Message,
		Type:     e.Type,
		Code:     e.Code,
		Provider: e.Provider,
	}
	if debug {
		detail.Details = e.Details
	}
	return Body{Error: detail}
}

// New constructs an error of the given type.
func New(t Type, message string) *Error {
	return &Error{Message: message, Type: t, Status: statusForType(t)}
}

// InvalidRequest builds the error used for inbound validation failures.
func InvalidRequest(message string) *Error {
	return New(TypeInvalidRequest, message)
}

// TypeForStatus maps an HTTP status onto the taxonomy.
func TypeForStatus(status int) Type {
	switch {
	case status == http.StatusBadRequest:
		return TypeInvalidRequest
	case status == http.StatusUnauthorized:
		return TypeAuthentication
	case status == http.StatusForbidden:
		return TypePermission
	case status == http.StatusNotFound:
		return TypeNotFound
	case status == http.StatusTooManyRequests:
		return TypeRateLimit
	case status >= http.StatusInternalServerError:
		return TypeAPI
	default:
		return TypeInternal
	}
}

func statusForType(t Type) int {
	e := Error{Type: t}
	return e.HTTPStatus()
}
