package practitest

// This file contains the HTTP transport that performs a single authenticated
// request against the PractiTest API and classifies the response.

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	tokenHeader = "PTToken"
	emailHeader = "developer_email"
)

// Transport executes one request and returns the raw response body. A non-2xx
// response is reported as *APIError.
type Transport interface {
	Execute(ctx context.Context, method, path string, payload any) ([]byte, error)
}

// Credentials identify the PractiTest account and project used for all
// requests of a client.
type Credentials struct {
	BaseURL        string
	ProjectID      int
	APIToken       string
	DeveloperEmail string
}

// HTTPTransport is the Transport backed by net/http.
type HTTPTransport struct {
	logger  zerolog.Logger
	baseURL string
	token   string
	email   string
	client  *http.Client
}

var _ Transport = (*HTTPTransport)(nil)

// NewHTTPTransport creates a transport for creds. When client is nil an
// HTTPS client using policy is built; a non-nil client is used as is.
func NewHTTPTransport(logger zerolog.Logger, creds Credentials, policy TrustPolicy, client *http.Client) (*HTTPTransport, error) {
	baseURL := strings.TrimSuffix(creds.BaseURL, "/")

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", creds.BaseURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q: scheme and host are required", creds.BaseURL)
	}

	if client == nil {
		tlsConfig, err := policy.TLSConfig(u.Hostname())
		if err != nil {
			return nil, err
		}

		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = tlsConfig
		client = &http.Client{Transport: transport}
	}

	return &HTTPTransport{
		logger:  logger,
		baseURL: baseURL,
		token:   creds.APIToken,
		email:   creds.DeveloperEmail,
		client:  client,
	}, nil
}

// Execute sends payload (JSON encoded, if not nil) to the base URL joined with
// path.
func (t *HTTPTransport) Execute(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(tokenHeader, t.token)
	req.Header.Set(emailHeader, t.email)

	start := time.Now()

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response of %s %s: %w", method, path, err)
	}

	t.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("PractiTest request")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	return respBody, nil
}
