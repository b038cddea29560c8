// Package upstream performs the HTTP exchange shared by every backend adapter.
package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"llmgate/internal/apierror"
)

const (
	contentTypeJSON = "application/json"
	userAgent       = "llmgate/0.1"
	maxErrorBody    = 64 * 1024
)

// Accept values for Post.
const (
	AcceptJSON        = contentTypeJSON
	AcceptEventStream = "text/event-stream"
)

// Client posts JSON bodies to one backend.
type Client struct {
	http    *http.Client
	baseURL string
	headers map[string]string
}

// New constructs a Client. headers are sent with every request, after the defaults.
func New(httpClient *http.Client, baseURL string, headers map[string]string) (*Client, error) {
	if httpClient == nil {
		return nil, errors.New("http client must not be nil")
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		return nil, errors.New("base url must not be empty")
	}

	copied := make(map[string]string, len(headers))
	for k, v := range headers {
		copied[k] = v
	}
	return &Client{http: httpClient, baseURL: baseURL, headers: copied}, nil
}

// BaseURL returns the configured base URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Post sends body to baseURL+path. A non-2xx answer is returned as
// *apierror.StatusError with the body already drained and closed; a body
// that fails mid-read keeps whatever arrived.
// On success the caller owns the response body.
func (c *Client) Post(ctx context.Context, path string, body []byte, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}

	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", userAgent)
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		data, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if readErr != nil {
			slog.Warn("failed to read backend error body", "status", resp.StatusCode, "error", readErr.Error())
		}
		return nil, &apierror.StatusError{StatusCode: resp.StatusCode, Body: data}
	}

	return resp, nil
}

// ReadBody reads a successful response body in full and closes it.
func ReadBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read provider response: %w", err)
	}
	return data, nil
}
