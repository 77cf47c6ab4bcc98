package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/roach88/runwatch/internal/clock"
)

// githubAPIVersion pins the REST API version header.
const githubAPIVersion = "2022-11-28"

// Client defaults.
const (
	DefaultBaseURL = "https://api.github.com"
	DefaultTimeout = 10 * time.Second
)

const (
	defaultUserAgent = "runwatch"

	// maxResponseBytes bounds a single response body.
	maxResponseBytes = 32 << 20
)

// Config holds configuration for creating a Client.
type Config struct {
	// BaseURL is the root URL for API requests. Defaults to
	// "https://api.github.com". Must use HTTPS unless AllowInsecure is set.
	BaseURL string

	// Token is a personal access token or fine-grained token. Required.
	Token string

	// HTTPClient is used for all requests. Defaults to a client with
	// Timeout applied.
	HTTPClient *http.Client

	// Timeout bounds each request when HTTPClient is nil. Default 10s.
	Timeout time.Duration

	// AllowInsecure permits a plain-HTTP BaseURL.
	AllowInsecure bool

	// UserAgent is sent with every request. Default "runwatch".
	UserAgent string

	// PerPage and MaxPages bound pagination. Defaults 100 and 50.
	PerPage  int
	MaxPages int

	// Clock drives rate-limit backoff. Defaults to clock.Real().
	Clock clock.Clock

	// Logger is used for structured logging. Defaults to slog.Default().
	Logger *slog.Logger
}

// Client is a GitHub Actions REST client with bearer authentication,
// ETag caching, pagination, and single-retry rate-limit handling.
//
// Thread-safety: safe for concurrent use.
type Client struct {
	baseURL    string
	token      string
	userAgent  string
	perPage    int
	maxPages   int
	httpClient *http.Client
	etagCache  *etagCache
	clock      clock.Clock
	logger     *slog.Logger

	mu        sync.Mutex
	rateLimit RateLimitInfo
	rateKnown bool
}

// NewClient creates a client from config. Returns an error if no token is
// configured or the base URL is not HTTPS.
func NewClient(config Config) (*Client, error) {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	if !strings.HasPrefix(baseURL, "https://") && !config.AllowInsecure {
		return nil, fmt.Errorf("github: API client requires HTTPS (got %q)", baseURL)
	}
	if config.Token == "" {
		return nil, errors.New("github: no token configured")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	userAgent := config.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	perPage := config.PerPage
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	maxPages := config.MaxPages
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}

	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    baseURL,
		token:      config.Token,
		userAgent:  userAgent,
		perPage:    perPage,
		maxPages:   maxPages,
		httpClient: httpClient,
		etagCache:  newETagCache(defaultETagEntries),
		clock:      clk,
		logger:     logger,
	}, nil
}

// RateLimit returns the rate-limit state of the most recent response that
// carried one.
func (client *Client) RateLimit() (RateLimitInfo, bool) {
	client.mu.Lock()
	defer client.mu.Unlock()
	return client.rateLimit, client.rateKnown
}

// get fetches path (relative to the base URL, query included) and decodes
// the JSON body into result. A rate-limited response is retried once.
// The response is revalidated through the ETag cache.
func (client *Client) get(ctx context.Context, path string, result any) (http.Header, error) {
	return client.fetch(ctx, path, result, true)
}

// getUncached is get for URLs that are never requested twice, such as run
// listings whose created range ends at the current time. Their bodies are
// not cached so they cannot evict entries that do get revalidated.
func (client *Client) getUncached(ctx context.Context, path string, result any) (http.Header, error) {
	return client.fetch(ctx, path, result, false)
}

func (client *Client) fetch(ctx context.Context, path string, result any, conditional bool) (http.Header, error) {
	return WithRateLimitRetry(ctx, client.clock, client.logger, func(ctx context.Context) (http.Header, error) {
		body, header, err := client.do(ctx, path, conditional)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(body, result); err != nil {
			return nil, fmt.Errorf("github: decoding %s: %w", path, err)
		}
		return header, nil
	})
}

// do executes one authenticated GET. Non-2xx responses become *APIError.
// When conditional is set, a 304 is answered from the ETag cache and a 200
// with an ETag is stored in it.
func (client *Client) do(ctx context.Context, path string, conditional bool) ([]byte, http.Header, error) {
	url := client.baseURL + path

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("github: creating request: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+client.token)
	request.Header.Set("Accept", "application/vnd.github+json")
	request.Header.Set("X-GitHub-Api-Version", githubAPIVersion)
	request.Header.Set("User-Agent", client.userAgent)
	if conditional {
		if etag := client.etagCache.get(url); etag != "" {
			request.Header.Set("If-None-Match", etag)
		}
	}

	response, err := client.httpClient.Do(request)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, nil, fmt.Errorf("github: GET %s: %w", path, err)
	}
	defer response.Body.Close()

	client.observeRateLimit(response)

	if conditional && response.StatusCode == http.StatusNotModified {
		if cached := client.etagCache.body(url); cached != nil {
			client.logger.Debug("served from etag cache", "path", path)
			return cached, response.Header, nil
		}
	}

	body, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("github: reading response body: %w", err)
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return nil, nil, parseAPIError(response.StatusCode, body, response.Header)
	}

	if etag := response.Header.Get("ETag"); conditional && etag != "" {
		client.etagCache.put(url, etag, body)
	}
	return body, response.Header, nil
}

func (client *Client) observeRateLimit(response *http.Response) {
	info, err := ParseRateLimit(response.Header, response.StatusCode)
	if err != nil {
		return
	}
	client.mu.Lock()
	defer client.mu.Unlock()
	client.rateLimit = info
	client.rateKnown = true
}
