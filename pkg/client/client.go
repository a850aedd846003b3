// Package client is the HTTP client for the vlog coordinator API. It is
// shared by the worker agent and the CLI: the worker data plane authenticates
// with an API key, the admin surface with the admin secret.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Default client tuning.
const (
	DefaultTimeout = 30 * time.Second

	workerKeyHeader   = "X-Worker-API-Key"
	adminSecretHeader = "X-Admin-Secret"
	userAgent         = "vlog-client/1.0"
)

// ErrNoWork is returned by Claim when the queue holds nothing compatible.
var ErrNoWork = errors.New("no work available")

// APIError is a non-2xx response decoded from the coordinator's error body.
type APIError struct {
	StatusCode int
	Code       string
	Detail     string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("coordinator returned %d: %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("coordinator returned %d", e.StatusCode)
}

// IsClaimLost reports whether err is a 409 from the coordinator, meaning the
// claim lapsed or moved to another worker. Retrying is pointless.
func IsClaimLost(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict
}

// IsNotFound reports whether err is a 404 from the coordinator.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsUnauthorized reports whether err is a 401 or 403 from the coordinator.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden
}

// Config holds client configuration.
type Config struct {
	// BaseURL is the coordinator root, e.g. http://localhost:8080.
	BaseURL string
	// APIKey authenticates worker data-plane calls.
	APIKey string
	// AdminSecret authenticates admin calls.
	AdminSecret string
	// Timeout bounds a single request. Streaming transfers (source download,
	// segment upload) get a per-call context instead.
	Timeout time.Duration
	// HTTPClient overrides the underlying client when set.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to the coordinator.
type Client struct {
	baseURL     string
	apiKey      string
	adminSecret string
	http        *http.Client
	logger      *slog.Logger
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		return nil, fmt.Errorf("client base URL is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:     base,
		apiKey:      cfg.APIKey,
		adminSecret: cfg.AdminSecret,
		http:        httpClient,
		logger:      logger.With(slog.String("component", "client")),
	}, nil
}

// SetAPIKey swaps the worker key, e.g. after registration or rotation.
func (c *Client) SetAPIKey(key string) {
	c.apiKey = key
}

// auth selects the credential header for a request.
type auth int

const (
	authNone auth = iota
	authWorker
	authAdmin
)

// newRequest builds a request with the selected credential.
func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader, mode auth) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	switch mode {
	case authWorker:
		req.Header.Set(workerKeyHeader, c.apiKey)
	case authAdmin:
		req.Header.Set(adminSecretHeader, c.adminSecret)
	}
	return req, nil
}

// doJSON sends a request with an optional JSON body and decodes the JSON
// response into out when out is non-nil.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any, mode auth) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := c.newRequest(ctx, method, path, body, mode)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s response: %w", method, path, err)
	}
	return nil
}

// jsonDecode decodes a JSON body into out.
func jsonDecode(r io.Reader, out any) error {
	if err := json.NewDecoder(r).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// decodeError converts a non-2xx response into an APIError. Bodies that are
// not the coordinator's error shape still yield a useful status.
func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return apiErr
	}
	var body struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil {
		apiErr.Detail = body.Detail
		apiErr.Code = body.Error
	}
	if apiErr.Detail == "" {
		apiErr.Detail = strings.TrimSpace(string(raw))
	}
	return apiErr
}
