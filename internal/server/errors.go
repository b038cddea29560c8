package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"llmgate/internal/apierror"
)

// errorHandler renders every handler error in the canonical envelope.
func errorHandler(debug bool) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		apiErr, status := toAPIError(err)
		if status >= http.StatusInternalServerError {
			slog.Error("request failed", "uri", c.Request().RequestURI, "status", status, "error", err.Error())
		}

		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(status)
		} else {
			writeErr = c.JSON(status, apiErr.Body(debug))
		}
		if writeErr != nil {
			slog.Warn("failed to write error response", "error", writeErr.Error())
		}
	}
}

func toAPIError(err error) (*apierror.Error, int) {
	var apiErr *apierror.Error
	if errors.As(err, &apiErr) {
		return apiErr, apiErr.HTTPStatus()
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		message := http.StatusText(he.Code)
		if m, ok := he.Message.(string); ok && m != "" {
			message = m
		} else if he.Message != nil {
			message = fmt.Sprint(he.Message)
		}

		t := apierror.TypeForStatus(he.Code)
		if t == apierror.TypeInternal && he.Code < http.StatusInternalServerError {
			t = apierror.TypeInvalidRequest
		}
		return apierror.New(t, message), he.Code
	}

	return apierror.New(apierror.TypeInternal, "internal server error"), http.StatusInternalServerError
}

func rateLimiterConfig(store middleware.RateLimiterStore) middleware.RateLimiterConfig {
	return middleware.RateLimiterConfig{
		Skipper: func(c echo.Context) bool {
			switch c.Path() {
			case "/health", "/metrics":
				return true
			}
			return false
		},
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return apierror.New(apierror.TypeInvalidRequest, "unable to identify client")
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return apierror.New(apierror.TypeRateLimit, "Too many requests, please try again later.")
		},
	}
}
