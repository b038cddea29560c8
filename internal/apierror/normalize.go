package apierror

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// StatusError is raised by adapters when a backend answers with a non-success status.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%d %s", e.StatusCode, strings.TrimSpace(string(e.Body)))
}

var statusPrefix = regexp.MustCompile(`^(\d{3})\s`)

// backend error bodies put their human-readable message in one of these places
var messagePaths = []string{"error.message", "message", "error", "detail", "details.0.message"}

// Normalize maps any adapter failure onto the canonical taxonomy.
// The provider name is always attached.
func Normalize(err error, provider string) *Error {
	if err == nil {
		return nil
	}

	var existing *Error
	if errors.As(err, &existing) {
		if existing.Provider != "" || provider == "" {
			return existing
		}
		clone := *existing
		clone.Provider = provider
		return &clone
	}

	status, body := extractStatus(err)
	errType := TypeForStatus(status)

	out := &Error{
		Type:     errType,
		Provider: provider,
		Status:   status,
		cause:    err,
	}

	if body != nil {
		out.Details = strings.TrimSpace(string(body))
		out.Message = backendMessage(body)
		out.Code = backendCode(body)
	}
	if out.Message == "" {
		out.Message = fallbackMessage(err, status, body != nil)
	}
	if errType == TypeAuthentication {
		out.Message = fmt.Sprintf("Authentication failed for %s. Check that the API key is configured correctly.", displayName(provider))
	}

	return out
}

func extractStatus(err error) (int, []byte) {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode, statusErr.Body
	}

	if m := statusPrefix.FindStringSubmatch(err.Error()); m != nil {
		code, convErr := strconv.Atoi(m[1])
		if convErr == nil && code >= 100 && code <= 599 {
			rest := strings.TrimSpace(strings.TrimPrefix(err.Error(), m[0]))
			return code, []byte(rest)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return http.StatusGatewayTimeout, nil
	}

	return http.StatusInternalServerError, nil
}

func backendMessage(body []byte) string {
	if !gjson.ValidBytes(body) {
		return ""
	}
	for _, path := range messagePaths {
		if res := gjson.GetBytes(body, path); res.Type == gjson.String && res.String() != "" {
			return res.String()
		}
	}
	return ""
}

func backendCode(body []byte) string {
	if !gjson.ValidBytes(body) {
		return ""
	}
	for _, path := range []string{"error.code", "code"} {
		res := gjson.GetBytes(body, path)
		switch res.Type {
		case gjson.String, gjson.Number:
			if res.String() != "" {
				return res.String()
			}
		}
	}
	return ""
}

func fallbackMessage(err error, status int, fromBackend bool) string {
	if fromBackend {
		return fmt.Sprintf("backend request failed with status %d", status)
	}
	if status == http.StatusGatewayTimeout {
		return "backend request timed out"
	}
	return err.Error()
}

func displayName(provider string) string {
	if provider == "" {
		return "the backend"
	}
	return provider
}
