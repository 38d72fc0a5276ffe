// Package iracing is a client for the iRacing members data API.
//
// Most data endpoints do not return the payload directly: the first response
// carries a link to the real document (GetIndirect), and search endpoints
// additionally split large result sets across several chunk files (GetChunked).
package iracing

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/darshan-rambhia/racestats/internal/metrics"
	"github.com/goccy/go-json"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the production members data API.
const DefaultBaseURL = "https://members-ng.iracing.com"

const maxBodySize = 64 << 20 // 64 MB, chunked search results can be large

// Config holds the client settings.
type Config struct {
	BaseURL       string
	Username      string
	PasswordToken string // EncodePassword(username, password)
	Timeout       time.Duration

	// RateLimitBackoff is the first sleep after a 429. Subsequent sleeps
	// double up to MaxBackoff.
	RateLimitBackoff time.Duration
	MaxBackoff       time.Duration
	// MaxRetries caps rate-limit retries per request. Zero retries forever.
	MaxRetries int
	// RequestsPerSecond paces outgoing requests. Zero disables pacing.
	RequestsPerSecond float64
}

// RateLimit is the last rate-limit window reported by the remote API.
type RateLimit struct {
	Limit     int64
	Remaining int64
	Reset     int64 // unix epoch
}

// Client performs authenticated requests against the data API.
type Client struct {
	config  Config
	client  *http.Client
	limiter *rate.Limiter

	// sleep and jitter are replaced in tests.
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(d time.Duration) time.Duration

	mu        sync.Mutex
	rateLimit RateLimit

	// authMu serializes logins; authGen counts successful ones so that
	// concurrent requests hitting an expired session log in only once.
	authMu  sync.Mutex
	authGen atomic.Uint64
}

// NewClient creates a client with its own cookie jar for the login session.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.RateLimitBackoff == 0 {
		cfg.RateLimitBackoff = 5 * time.Second
	}
	if cfg.MaxBackoff < cfg.RateLimitBackoff {
		cfg.MaxBackoff = cfg.RateLimitBackoff
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}

	c := &Client{
		config: cfg,
		client: &http.Client{
			Jar:     jar,
			Timeout: cfg.Timeout,
		},
		sleep:  sleepContext,
		jitter: equalJitter,
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return c, nil
}

// EncodePassword derives the credential token the auth endpoint expects:
// base64(sha256(password + lowercase(username))).
func EncodePassword(username, password string) string {
	sum := sha256.Sum256([]byte(password + strings.ToLower(username)))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Login exchanges the pre-hashed credential for a session cookie. It must be
// called once before any other request and is never retried. Requests that
// later find the session expired log in again on their own; see Get.
func (c *Client) Login(ctx context.Context) error {
	c.authMu.Lock()
	defer c.authMu.Unlock()
	return c.login(ctx)
}

// reauthenticate logs in again unless another request already did so since
// generation seen.
func (c *Client) reauthenticate(ctx context.Context, seen uint64) error {
	c.authMu.Lock()
	defer c.authMu.Unlock()
	if c.authGen.Load() != seen {
		return nil
	}
	slog.Info("session expired, logging in again", "user", c.config.Username)
	return c.login(ctx)
}

func (c *Client) login(ctx context.Context) error {
	payload, err := json.Marshal(map[string]string{
		"email":    c.config.Username,
		"password": c.config.PasswordToken,
	})
	if err != nil {
		return fmt.Errorf("encoding login request: %w", err)
	}

	endpoint := c.config.BaseURL + "/auth"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading login response: %w", err)
	}
	metrics.RemoteRequestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode != http.StatusOK {
		return &AuthError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	// A rejected credential still answers 200 with authcode 0.
	var status struct {
		AuthCode json.RawMessage `json:"authcode"`
		Message  string          `json:"message"`
	}
	if err := json.Unmarshal(body, &status); err == nil && string(status.AuthCode) == "0" {
		return &AuthError{StatusCode: resp.StatusCode, Message: status.Message}
	}

	c.authGen.Add(1)
	slog.Info("authenticated", "user", c.config.Username)
	return nil
}

// RateLimit returns the most recently observed rate-limit headers.
func (c *Client) RateLimit() RateLimit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rateLimit
}

// Get issues a GET against an absolute URL and returns the JSON body.
// Rate-limited responses are retried with capped exponential backoff. A 401
// means the login session expired: Get logs in again and replays the request
// once. Any other non-200 status is returned as an *APIError.
func (c *Client) Get(ctx context.Context, rawURL string, params url.Values) ([]byte, error) {
	endpoint := rawURL
	if len(params) > 0 {
		sep := "?"
		if strings.Contains(rawURL, "?") {
			sep = "&"
		}
		endpoint = rawURL + sep + params.Encode()
	}

	attempt, reauthed := 0, false
	for {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		gen := c.authGen.Load()
		status, body, err := c.do(ctx, endpoint)
		if err != nil {
			return nil, err
		}

		switch status {
		case http.StatusOK:
			if !json.Valid(body) {
				return nil, &ParseError{Endpoint: endpoint, Err: fmt.Errorf("response is not valid JSON")}
			}
			return body, nil
		case http.StatusTooManyRequests:
			if c.config.MaxRetries > 0 && attempt >= c.config.MaxRetries {
				return nil, &APIError{
					StatusCode: status,
					Endpoint:   endpoint,
					Body:       string(body),
					Err:        ErrRateLimitExhausted,
				}
			}
			delay := c.jitter(c.backoff(attempt))
			slog.Warn("rate limited, backing off", "endpoint", redact(endpoint), "attempt", attempt+1, "delay", delay)
			metrics.RateLimitRetriesTotal.Inc()
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
			attempt++
		case http.StatusUnauthorized:
			if reauthed {
				return nil, &APIError{StatusCode: status, Endpoint: endpoint, Body: string(body)}
			}
			if err := c.reauthenticate(ctx, gen); err != nil {
				return nil, fmt.Errorf("logging in again after 401 from %s: %w", redact(endpoint), err)
			}
			reauthed = true
		default:
			return nil, &APIError{StatusCode: status, Endpoint: endpoint, Body: string(body)}
		}
	}
}

// GetIndirect fetches {base}{path} and then the document its "link" points to.
func (c *Client) GetIndirect(ctx context.Context, path string, params url.Values) ([]byte, error) {
	endpoint := c.config.BaseURL + path
	body, err := c.Get(ctx, endpoint, params)
	if err != nil {
		return nil, err
	}

	var pointer struct {
		Link string `json:"link"`
	}
	if err := json.Unmarshal(body, &pointer); err != nil {
		return nil, &ParseError{Endpoint: path, Err: err}
	}
	if pointer.Link == "" {
		return nil, &ParseError{Endpoint: path, Err: fmt.Errorf("response has no link")}
	}
	return c.Get(ctx, pointer.Link, nil)
}

// GetChunked fetches a chunked search result and concatenates the JSON arrays
// of all chunk files in their listed order.
func (c *Client) GetChunked(ctx context.Context, path string, params url.Values) ([]json.RawMessage, error) {
	endpoint := c.config.BaseURL + path
	body, err := c.Get(ctx, endpoint, params)
	if err != nil {
		return nil, err
	}

	var pointer struct {
		Data struct {
			ChunkInfo struct {
				BaseDownloadURL string   `json:"base_download_url"`
				ChunkFileNames  []string `json:"chunk_file_names"`
			} `json:"chunk_info"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &pointer); err != nil {
		return nil, &ParseError{Endpoint: path, Err: err}
	}

	info := pointer.Data.ChunkInfo
	result := make([]json.RawMessage, 0)
	if info.BaseDownloadURL == "" {
		// No results for this query.
		return result, nil
	}

	for _, name := range info.ChunkFileNames {
		chunkURL := info.BaseDownloadURL + name
		chunk, err := c.Get(ctx, chunkURL, nil)
		if err != nil {
			return nil, fmt.Errorf("fetching chunk %s of %s: %w", name, path, err)
		}
		var items []json.RawMessage
		if err := json.Unmarshal(chunk, &items); err != nil {
			return nil, &ParseError{Endpoint: chunkURL, Err: err}
		}
		result = append(result, items...)
	}
	return result, nil
}

func (c *Client) do(ctx context.Context, endpoint string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("creating request for %s: %w", redact(endpoint), err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("requesting %s: %w", redact(endpoint), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return 0, nil, fmt.Errorf("reading response from %s: %w", redact(endpoint), err)
	}

	metrics.RemoteRequestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
	c.recordRateLimit(resp.Header)
	return resp.StatusCode, body, nil
}

func (c *Client) recordRateLimit(h http.Header) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := headerInt(h, "X-Ratelimit-Limit"); ok {
		c.rateLimit.Limit = v
	}
	if v, ok := headerInt(h, "X-Ratelimit-Remaining"); ok {
		c.rateLimit.Remaining = v
		metrics.RateLimitRemaining.Set(float64(v))
	}
	if v, ok := headerInt(h, "X-Ratelimit-Reset"); ok {
		c.rateLimit.Reset = v
	}
}

// backoff returns the un-jittered delay before retry number attempt+1.
func (c *Client) backoff(attempt int) time.Duration {
	d := c.config.RateLimitBackoff
	for range attempt {
		d *= 2
		if d >= c.config.MaxBackoff {
			return c.config.MaxBackoff
		}
	}
	return d
}

func headerInt(h http.Header, key string) (int64, bool) {
	v := h.Get(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// equalJitter returns a random duration in [d/2, d].
func equalJitter(d time.Duration) time.Duration {
	half := d / 2
	if half <= 0 {
		return d
	}
	return half + rand.N(half+1)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// redact drops the query string of signed download links before logging.
func redact(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return endpoint
	}
	if strings.Contains(u.RawQuery, "Signature") || strings.Contains(u.RawQuery, "X-Amz") {
		u.RawQuery = ""
	}
	return u.String()
}
