package simplisafe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultBaseURL is the SimpliSafe REST API base URL.
	DefaultBaseURL = "https://api.simplisafe.com/v1"

	// DefaultAuthBaseURL is the SimpliSafe Auth0 tenant base URL.
	DefaultAuthBaseURL = "https://auth.simplisafe.com"

	// DefaultWebsocketURL is the SimpliSafe event stream URL.
	DefaultWebsocketURL = "wss://socketlink.prd.aser.simplisafe.com"

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second

	// defaultUserAgent mirrors the vendor's web app; the API rejects
	// unrecognized user agents on some endpoints.
	defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_6) AppleWebKit/605.1.15 " +
		"(KHTML, like Gecko) Version/13.1.2 Safari/605.1.15"
)

// RateLimitInfo contains rate limit information from API response headers.
type RateLimitInfo struct {
	Limit     int       // Maximum requests allowed in the window
	Remaining int       // Requests remaining in current window
	Reset     time.Time // When the rate limit window resets
}

// RateLimitCallback is called when rate limit headers are received.
// Can be used for monitoring or preemptive throttling.
type RateLimitCallback func(RateLimitInfo)

// Client is a session against the SimpliSafe cloud API. A zero-value Client
// is not usable; construct one with NewClient and authenticate it through
// one of the Login entry points before making requests.
//
// The Client owns the session's TokenSet. The request layer and the
// websocket client read the live token values from it and never cache stale
// copies across calls.
type Client struct {
	baseURL      string
	authBaseURL  string
	websocketURL string
	httpClient   *http.Client
	logger       *slog.Logger
	clientID     string
	tokenStore   TokenStore

	mu        sync.RWMutex
	tokens    TokenSet
	dirty     bool
	authState AuthState

	// handshakeMu serializes the public handshake entry points; only one
	// auth transition may be in flight per session.
	handshakeMu sync.Mutex
	login       *loginAttempt

	// refreshGroup coalesces concurrent 401-triggered refreshes. Refresh
	// tokens are single-use, so a duplicate refresh request would
	// invalidate the one already in flight.
	refreshGroup singleflight.Group

	rateLimitCallback RateLimitCallback
	rateLimitMu       sync.RWMutex
	lastRateLimit     *RateLimitInfo
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets a custom base URL for the REST API.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithAuthBaseURL sets a custom base URL for the auth endpoints.
func WithAuthBaseURL(url string) Option {
	return func(c *Client) {
		c.authBaseURL = url
	}
}

// WithWebsocketURL sets a custom URL for the event stream.
func WithWebsocketURL(url string) Option {
	return func(c *Client) {
		c.websocketURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the HTTP request timeout.
// This option can be applied in any order relative to other options.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if c.httpClient == nil {
			c.httpClient = &http.Client{}
		}
		c.httpClient.Timeout = timeout
	}
}

// WithClientID sets the per-installation client ID sent in auth payloads.
// SimpliSafe binds 2FA approvals to this ID, so reuse the same value across
// sessions to avoid repeated verification emails. Defaults to a random UUID.
func WithClientID(clientID string) Option {
	return func(c *Client) {
		c.clientID = clientID
	}
}

// WithTokenStore configures persistence for the session's TokenSet. When
// set, every transition into the authenticated state and every transparent
// refresh saves the new tokens; a save failure is logged, not fatal.
func WithTokenStore(store TokenStore) Option {
	return func(c *Client) {
		c.tokenStore = store
	}
}

// WithRateLimitCallback sets a callback that is invoked when rate limit
// headers are received.
func WithRateLimitCallback(callback RateLimitCallback) Option {
	return func(c *Client) {
		c.rateLimitCallback = callback
	}
}

// NewClient creates a new, unauthenticated SimpliSafe client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:      DefaultBaseURL,
		authBaseURL:  DefaultAuthBaseURL,
		websocketURL: DefaultWebsocketURL,
		clientID:     uuid.NewString(),
		authState:    AuthStateUnauthenticated,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				DisableKeepAlives:   false,
			},
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return c
}

// ClientID returns the per-installation client ID used in auth payloads.
func (c *Client) ClientID() string {
	return c.clientID
}

// AuthState returns the session's current authentication state.
func (c *Client) AuthState() AuthState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authState
}

// Tokens returns a copy of the session's current TokenSet.
func (c *Client) Tokens() TokenSet {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tokens
}

// AccessToken returns the current access token, if any.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tokens.AccessToken
}

// RefreshToken returns the current refresh token, if any.
func (c *Client) RefreshToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tokens.RefreshToken
}

// UserID returns the SimpliSafe user ID for the authenticated session.
func (c *Client) UserID() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tokens.UserID
}

// Dirty reports whether the TokenSet has been replaced by a transparent
// refresh inside the request layer since the last acknowledgement. Callers
// that persist tokens themselves should check this after request batches.
func (c *Client) Dirty() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dirty
}

// AckDirty clears the dirty flag after the caller has read the new tokens.
func (c *Client) AckDirty() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dirty = false
}

// applyTokens installs a new TokenSet, marking the session authenticated.
// transparent indicates the tokens came from a refresh inside the request
// layer rather than an explicit handshake, which sets the dirty flag.
func (c *Client) applyTokens(ctx context.Context, tokens TokenSet, transparent bool) {
	c.mu.Lock()
	c.tokens = tokens
	c.dirty = transparent
	c.authState = AuthStateAuthenticated
	c.mu.Unlock()

	if c.tokenStore != nil {
		if err := c.tokenStore.SaveTokens(ctx, tokens); err != nil {
			c.logger.Warn("failed to persist tokens", "error", err)
		}
	}
}

// Request performs an authenticated API request and parses the response body
// into a generic map. No schema validation is performed here; interpreting
// the payload is the domain models' responsibility.
func (c *Client) Request(ctx context.Context, method, endpoint string, body any) (map[string]any, error) {
	data, err := c.RequestRaw(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}

	if len(data) == 0 {
		return map[string]any{}, nil
	}

	var parsed map[string]any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response from /%s: %w (body: %s)", endpoint, err, truncatePreview(data))
	}

	return parsed, nil
}

// RequestRaw performs an authenticated API request and returns the raw
// response body.
//
// On a 401 the request layer performs exactly one token refresh (coalesced
// across concurrent callers) and retries the original request exactly once
// with the new token. A second 401 after the retry surfaces as a
// RequestError; the request is never retried again.
func (c *Client) RequestRaw(ctx context.Context, method, endpoint string, body any) ([]byte, error) {
	status, respBody, err := c.do(ctx, method, endpoint, body, true)
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnauthorized {
		if c.AccessToken() == "" {
			return nil, ErrInvalidCredentials
		}

		if err := c.refreshAccessToken(ctx); err != nil {
			return nil, err
		}

		status, respBody, err = c.do(ctx, method, endpoint, body, true)
		if err != nil {
			return nil, err
		}
		if status == http.StatusUnauthorized {
			return nil, &RequestError{StatusCode: status, Endpoint: endpoint, Body: string(respBody)}
		}
	}

	return c.checkStatus(endpoint, status, respBody)
}

// refreshAccessToken exchanges the current refresh token for a new TokenSet.
// Concurrent callers are coalesced: if a refresh is already in flight, the
// caller waits for its result instead of issuing a duplicate request. The
// guard clears once the refresh completes, so a later distinct auth failure
// can trigger a new refresh.
func (c *Client) refreshAccessToken(ctx context.Context) error {
	_, err, _ := c.refreshGroup.Do("refresh", func() (any, error) {
		refreshToken := c.RefreshToken()
		if refreshToken == "" {
			return nil, ErrInvalidCredentials
		}

		c.logger.Info("401 received; refreshing access token")

		tokens, err := c.exchangeGrant(ctx, refreshTokenGrant(c.clientID, refreshToken))
		if err != nil {
			return nil, err
		}

		// A transparent refresh does not re-run authCheck; the user
		// identity is unchanged.
		tokens.UserID = c.UserID()
		c.applyTokens(ctx, tokens, true)
		return nil, nil
	})
	return err
}

// do performs a single HTTP request against the REST API and returns the
// status code and normalized response body. Status handling is left to the
// caller so the 401 refresh-and-retry protocol can observe it.
func (c *Client) do(ctx context.Context, method, endpoint string, body any, requiresAuth bool) (int, []byte, error) {
	url := c.baseURL + "/" + endpoint

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", defaultUserAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}
	if requiresAuth {
		if token := c.AccessToken(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	c.parseRateLimitHeaders(resp.Header)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return resp.StatusCode, normalizeBody(respBody), nil
}

// normalizeBody works around a vendor quirk: some error responses are a bare
// JSON-quoted string (e.g. "\"Unauthorized\"") served with an
// application/json content type. Rewrap those as an error object so all
// downstream handling sees consistent payloads.
func normalizeBody(body []byte) []byte {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) < 2 || trimmed[0] != '"' {
		return body
	}

	var message string
	if err := json.Unmarshal(trimmed, &message); err != nil {
		return body
	}

	wrapped, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return body
	}
	return wrapped
}

// checkStatus maps a non-2xx response to the client's error taxonomy.
func (c *Client) checkStatus(endpoint string, status int, body []byte) ([]byte, error) {
	switch {
	case status == http.StatusForbidden:
		return nil, fmt.Errorf("%w: request to /%s returned 403", ErrInvalidCredentials, endpoint)
	case status >= 400:
		return nil, &RequestError{StatusCode: status, Endpoint: endpoint, Body: string(body)}
	}
	return body, nil
}

// parseRateLimitHeaders extracts rate limit information from response headers.
func (c *Client) parseRateLimitHeaders(header http.Header) {
	limit := header.Get("X-RateLimit-Limit")
	remaining := header.Get("X-RateLimit-Remaining")
	reset := header.Get("X-RateLimit-Reset")

	// Only process if at least one header is present
	if limit == "" && remaining == "" && reset == "" {
		return
	}

	info := RateLimitInfo{}

	if limit != "" {
		if v, err := strconv.Atoi(limit); err == nil {
			info.Limit = v
		}
	}

	if remaining != "" {
		if v, err := strconv.Atoi(remaining); err == nil {
			info.Remaining = v
		}
	}

	if reset != "" {
		if v, err := strconv.ParseInt(reset, 10, 64); err == nil {
			info.Reset = time.Unix(v, 0)
		}
	}

	c.rateLimitMu.Lock()
	c.lastRateLimit = &info
	c.rateLimitMu.Unlock()

	if c.rateLimitCallback != nil {
		c.rateLimitCallback(info)
	}
}

// RateLimitInfo returns the most recent rate limit information from API
// responses. Returns nil if no rate limit headers have been received yet.
func (c *Client) RateLimitInfo() *RateLimitInfo {
	c.rateLimitMu.RLock()
	defer c.rateLimitMu.RUnlock()
	if c.lastRateLimit == nil {
		return nil
	}
	info := *c.lastRateLimit
	return &info
}

// get performs an authenticated GET request.
func (c *Client) get(ctx context.Context, endpoint string) (map[string]any, error) {
	return c.Request(ctx, http.MethodGet, endpoint, nil)
}

// post performs an authenticated POST request.
func (c *Client) post(ctx context.Context, endpoint string, body any) (map[string]any, error) {
	return c.Request(ctx, http.MethodPost, endpoint, body)
}
