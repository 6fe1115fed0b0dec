// Package tender is the typed client for the upstream tender-data API.
//
// Every response is decoded into an explicit wire type and validated here.
// Failures are reported as *UpstreamError values that unwrap to the domain
// sentinels (ErrTimeout, ErrNetworkUnavailable, ErrUpstreamDataMissing,
// ErrUnauthorized), so callers classify with errors.Is.
package tender

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tenderintel/intelbidder/internal/domain"
	"github.com/tenderintel/intelbidder/internal/infra/observability"
)

// maxBody caps how much of a response is read.
const maxBody = 16 << 20

// Config controls the upstream client.
type Config struct {
	BaseURL string        // e.g. https://api.example.com
	Token   string        // optional bearer token
	Timeout time.Duration // per request (default: 30s)
}

// DefaultConfig returns the standard timeout with no endpoint configured.
func DefaultConfig() Config {
	return Config{Timeout: 30 * time.Second}
}

// Client calls the tender-data API.
type Client struct {
	base   *url.URL
	token  string
	http   *http.Client
	logger *slog.Logger
}

var _ domain.TenderSource = (*Client)(nil)

// NewClient validates cfg and returns a client.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("tender API base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid tender API base URL %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		base:   base,
		token:  cfg.Token,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger.With("component", "tender"),
	}, nil
}

// ─── Errors ─────────────────────────────────────────────────────────────────

// UpstreamError records which call failed and how.
type UpstreamError struct {
	Endpoint string
	Status   int // 0 when no response was received
	Err      error
}

func (e *UpstreamError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: HTTP %d: %v", e.Endpoint, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Endpoint, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func upstreamErr(endpoint string, status int, sentinel error, detail string) error {
	err := sentinel
	if detail != "" {
		err = fmt.Errorf("%s: %w", detail, sentinel)
	}
	return &UpstreamError{Endpoint: endpoint, Status: status, Err: err}
}

// classifyTransport maps a failed round trip onto a sentinel.
func classifyTransport(err error) error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return domain.ErrTimeout
	}
	return domain.ErrNetworkUnavailable
}

// classifyStatus maps a non-200 status onto a sentinel.
func classifyStatus(code int) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return domain.ErrUnauthorized
	case code == http.StatusNotFound || code == http.StatusNoContent:
		return domain.ErrUpstreamDataMissing
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return domain.ErrTimeout
	case code >= 500:
		return domain.ErrNetworkUnavailable
	default:
		return domain.ErrUpstreamDataMissing
	}
}

// ─── Transport ──────────────────────────────────────────────────────────────

// get issues GET {base}{path}?{query} and decodes the JSON body into out.
func (c *Client) get(ctx context.Context, endpoint, path string, query url.Values, out any) error {
	u := *c.base
	u.Path = c.base.Path + path
	if len(query) > 0 {
		// The upstream wants %20 for spaces rather than '+'.
		u.RawQuery = strings.ReplaceAll(query.Encode(), "+", "%20")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return upstreamErr(endpoint, 0, domain.ErrNetworkUnavailable, err.Error())
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	observability.UpstreamLatency.WithLabelValues(endpoint).Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		sentinel := classifyTransport(err)
		c.record(endpoint, sentinel)
		c.logger.Warn("upstream request failed", "endpoint", endpoint, "error", err)
		return upstreamErr(endpoint, 0, sentinel, "")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		sentinel := classifyStatus(resp.StatusCode)
		c.record(endpoint, sentinel)
		c.logger.Warn("upstream returned error status", "endpoint", endpoint, "status", resp.StatusCode)
		return upstreamErr(endpoint, resp.StatusCode, sentinel, "")
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		sentinel := classifyTransport(err)
		c.record(endpoint, sentinel)
		return upstreamErr(endpoint, resp.StatusCode, sentinel, "read body")
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		c.record(endpoint, domain.ErrUpstreamDataMissing)
		return upstreamErr(endpoint, resp.StatusCode, domain.ErrUpstreamDataMissing, "empty response")
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		c.record(endpoint, domain.ErrUpstreamDataMissing)
		return upstreamErr(endpoint, resp.StatusCode, domain.ErrUpstreamDataMissing, "unexpected response shape: "+err.Error())
	}
	c.record(endpoint, nil)
	return nil
}

func (c *Client) record(endpoint string, sentinel error) {
	outcome := "ok"
	switch {
	case sentinel == nil:
	case errors.Is(sentinel, domain.ErrTimeout):
		outcome = "timeout"
	case errors.Is(sentinel, domain.ErrNetworkUnavailable):
		outcome = "unavailable"
	case errors.Is(sentinel, domain.ErrUnauthorized):
		outcome = "unauthorized"
	default:
		outcome = "missing"
	}
	observability.UpstreamRequests.WithLabelValues(endpoint, outcome).Inc()
}
