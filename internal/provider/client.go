// Package provider is the REST client for the hosted telephony provider. It
// covers the three provider subsystems this service consumes: call legs,
// recordings, and conversational-intelligence transcripts.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/icholy/digest"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL  = "https://api.telephony.example.com/2010-04-01"
	defaultIntelURL = "https://intelligence.telephony.example.com/v2"

	requestTimeout = 15 * time.Second

	// Bounded retry for critical calls: the provider throttles bursts and
	// occasionally 503s during rollouts.
	maxRetries    = 2
	retryBaseWait = 500 * time.Millisecond
)

// Config holds provider client settings.
type Config struct {
	// AccountSID and AuthToken authenticate REST calls (basic auth).
	AccountSID string
	AuthToken  string
	// BaseURL overrides the voice API base URL (tests point this at a fake).
	BaseURL string
	// IntelURL overrides the conversational-intelligence API base URL.
	IntelURL string
	// IntelServiceSID selects the intelligence service used for transcripts.
	IntelServiceSID string
	// RequestsPerSecond caps outbound API calls. Zero disables limiting.
	RequestsPerSecond float64
}

// Client talks to the provider REST API. Safe for concurrent use.
type Client struct {
	cfg      Config
	baseURL  string
	intelURL string
	http     *http.Client
	// media uses a digest transport: recording media hosts challenge with
	// digest auth rather than accepting basic auth.
	media   *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewClient creates a provider client from the given config.
func NewClient(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	intelURL := cfg.IntelURL
	if intelURL == "" {
		intelURL = defaultIntelURL
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), int(cfg.RequestsPerSecond)+1)
	}

	return &Client{
		cfg:      cfg,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		intelURL: strings.TrimSuffix(intelURL, "/"),
		http:     &http.Client{Timeout: requestTimeout},
		media: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &digest.Transport{
				Username: cfg.AccountSID,
				Password: cfg.AuthToken,
			},
		},
		limiter: limiter,
		logger:  slog.Default().With("component", "provider"),
	}
}

// postForm issues a form-encoded POST against the voice API and decodes the
// JSON response into out.
func (c *Client) postForm(ctx context.Context, path string, form url.Values, out any) error {
	return c.do(ctx, http.MethodPost, c.baseURL+path,
		"application/x-www-form-urlencoded", strings.NewReader(form.Encode()), out)
}

// getJSON issues a GET against the voice API.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, c.baseURL+path, "", nil, out)
}

// postIntel issues a JSON POST against the intelligence API.
func (c *Client) postIntel(ctx context.Context, path string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	return c.do(ctx, http.MethodPost, c.intelURL+path, "application/json", strings.NewReader(string(data)), out)
}

// getIntel issues a GET against the intelligence API.
func (c *Client) getIntel(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, c.intelURL+path, "", nil, out)
}

// do performs one request with rate limiting and bounded retry on transient
// provider errors. The request body must be re-readable, hence the string
// reader construction above.
func (c *Client) do(ctx context.Context, method, fullURL, contentType string, body *strings.Reader, out any) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			wait := retryBaseWait * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			if body != nil {
				body.Seek(0, io.SeekStart)
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		var reqBody io.Reader
		if body != nil {
			reqBody = body
		}
		req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
		if err != nil {
			return fmt.Errorf("building request: %w", err)
		}
		req.SetBasicAuth(c.cfg.AccountSID, c.cfg.AuthToken)
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("%s %s: %w", method, fullURL, err)
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			defer resp.Body.Close()
			if out == nil {
				io.Copy(io.Discard, resp.Body)
				return nil
			}
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("decoding response from %s: %w", fullURL, err)
			}
			return nil
		}

		apiErr := &APIError{StatusCode: resp.StatusCode}
		json.NewDecoder(resp.Body).Decode(apiErr)
		resp.Body.Close()
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		if !apiErr.Transient() {
			return apiErr
		}
		lastErr = apiErr
		c.logger.Warn("transient provider error, retrying",
			"url", fullURL, "status", resp.StatusCode, "attempt", attempt+1)
	}
	return lastErr
}

// FetchMedia downloads recording media via the digest-authenticated client.
// The caller must close the returned body.
func (c *Client) FetchMedia(ctx context.Context, mediaURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building media request: %w", err)
	}

	resp, err := c.media.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching media: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &APIError{StatusCode: resp.StatusCode, Message: "media fetch failed"}
	}
	return resp.Body, nil
}

// accountPath returns the voice API path scoped to the configured account.
func (c *Client) accountPath(format string, args ...any) string {
	return "/Accounts/" + c.cfg.AccountSID + fmt.Sprintf(format, args...)
}
