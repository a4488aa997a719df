package simplisafe

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"time"
)

const (
	// defaultOAuthClientID is the Auth0 application ID of the vendor's
	// mobile app, which every unofficial client borrows.
	defaultOAuthClientID = "42aBZ5lYrVW12jfOuu3CQROitwxg9sN5"

	// defaultRedirectURI is the mobile app's registered OAuth callback.
	defaultRedirectURI = "com.simplisafe.mobile://auth.simplisafe.com/ios/com.simplisafe.mobile/callback"

	// defaultScope requests a refresh token alongside the access token.
	defaultScope = "offline_access email openid https://api.simplisafe.com/scopes/user:platform"

	// defaultAudience identifies the REST API to the Auth0 tenant.
	defaultAudience = "https://api.simplisafe.com/"
)

// AuthState describes where a session is in the authentication lifecycle.
type AuthState int

// Authentication lifecycle states. Transitions are driven only by the Login
// and Verify2FA entry points.
const (
	AuthStateUnauthenticated AuthState = iota
	AuthStatePending2FAEmail
	AuthStatePending2FASMS
	AuthStateAuthenticated
)

// String implements fmt.Stringer.
func (s AuthState) String() string {
	switch s {
	case AuthStateUnauthenticated:
		return "unauthenticated"
	case AuthStatePending2FAEmail:
		return "pending_2fa_email"
	case AuthStatePending2FASMS:
		return "pending_2fa_sms"
	case AuthStateAuthenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("AuthState(%d)", int(s))
	}
}

// loginAttempt carries the intermediate state of a credentials-based
// handshake between the initial submission and 2FA completion.
type loginAttempt struct {
	username  string
	password  string
	state     string
	verifier  string
	challenge string
}

// tokenResponse is the wire format of the Auth0 token endpoint.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// loginResponse is the wire format of the /u/login and SMS challenge
// endpoints.
type loginResponse struct {
	MFARequired       bool   `json:"mfa_required"`
	MFAType           string `json:"mfa_type"`
	AuthorizationCode string `json:"authorization_code"`
}

var nonAlphanumeric = regexp.MustCompile("[^a-zA-Z0-9]+")

// GenerateCodeVerifier returns a random PKCE code verifier suitable for
// AuthURL and LoginWithAuthCode.
func GenerateCodeVerifier() string {
	raw := make([]byte, 40)
	// rand.Read on crypto/rand never fails on supported platforms.
	rand.Read(raw)
	verifier := base64.URLEncoding.EncodeToString(raw)
	return nonAlphanumeric.ReplaceAllString(verifier, "")
}

// CodeChallenge derives the S256 PKCE code challenge from a verifier.
func CodeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// AuthURL returns the browser URL that starts the vendor's interactive OAuth
// flow for the given PKCE code challenge. After the user signs in, the
// callback URL carries the authorization code to pass to LoginWithAuthCode.
func AuthURL(codeChallenge string) string {
	params := url.Values{}
	params.Set("audience", defaultAudience)
	params.Set("client_id", defaultOAuthClientID)
	params.Set("code_challenge", codeChallenge)
	params.Set("code_challenge_method", "S256")
	params.Set("redirect_uri", defaultRedirectURI)
	params.Set("response_type", "code")
	params.Set("scope", defaultScope)

	return DefaultAuthBaseURL + "/authorize?" + params.Encode()
}

// LoginWithCredentials begins a username/password handshake. Accounts with
// 2FA enabled (the normal case) get ErrPendingVerification: the server
// declares which mechanism the account uses, the session transitions to the
// matching pending state, and the caller completes the handshake with
// Verify2FAEmail or Verify2FASMS. Accounts without 2FA authenticate
// immediately.
func (c *Client) LoginWithCredentials(ctx context.Context, username, password string) error {
	if username == "" {
		return ErrEmptyUsername
	}
	if password == "" {
		return ErrEmptyPassword
	}

	c.handshakeMu.Lock()
	defer c.handshakeMu.Unlock()

	verifier := GenerateCodeVerifier()
	attempt := &loginAttempt{
		username:  username,
		password:  password,
		verifier:  verifier,
		challenge: CodeChallenge(verifier),
	}

	state, err := c.fetchLoginState(ctx, attempt.challenge)
	if err != nil {
		return err
	}
	attempt.state = state

	resp, err := c.submitLogin(ctx, attempt)
	if err != nil {
		return err
	}

	if resp.AuthorizationCode != "" {
		// Account without 2FA; complete immediately.
		return c.finalizeWithCode(ctx, resp.AuthorizationCode, attempt.verifier)
	}

	switch resp.MFAType {
	case "email":
		c.setAuthState(AuthStatePending2FAEmail)
	case "sms":
		c.setAuthState(AuthStatePending2FASMS)
	default:
		return fmt.Errorf("simplisafe: server requested unsupported 2FA mechanism %q", resp.MFAType)
	}

	c.login = attempt
	return ErrPendingVerification
}

// Verify2FAEmail polls the login endpoint to check whether the user has
// confirmed the emailed verification link. While unconfirmed it returns
// ErrPendingVerification and the session stays in the pending state; callers
// are expected to poll with their own backoff and timeout.
func (c *Client) Verify2FAEmail(ctx context.Context) error {
	c.handshakeMu.Lock()
	defer c.handshakeMu.Unlock()

	if c.AuthState() != AuthStatePending2FAEmail || c.login == nil {
		return fmt.Errorf("%w: email verification requires a pending email 2FA", ErrWrongAuthState)
	}

	resp, err := c.submitLogin(ctx, c.login)
	if err != nil {
		return err
	}

	if resp.AuthorizationCode == "" {
		if resp.MFARequired {
			return ErrPendingVerification
		}
		return ErrVerificationFailed
	}

	if err := c.finalizeWithCode(ctx, resp.AuthorizationCode, c.login.verifier); err != nil {
		return err
	}
	c.login = nil
	return nil
}

// Verify2FASMS submits the SMS verification code for a pending SMS 2FA. An
// incorrect code returns ErrInvalidCredentials and leaves the session in the
// pending state so the caller can resubmit.
func (c *Client) Verify2FASMS(ctx context.Context, code string) error {
	if code == "" {
		return ErrEmptySMSCode
	}

	c.handshakeMu.Lock()
	defer c.handshakeMu.Unlock()

	if c.AuthState() != AuthStatePending2FASMS || c.login == nil {
		return fmt.Errorf("%w: SMS verification requires a pending SMS 2FA", ErrWrongAuthState)
	}

	payload := map[string]string{
		"state":     c.login.state,
		"code":      code,
		"device_id": c.clientID,
	}

	status, body, err := c.doAuth(ctx, http.MethodPost, "u/mfa-sms-challenge", payload)
	if err != nil {
		return err
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrInvalidCredentials
	case status >= 400:
		return &RequestError{StatusCode: status, Endpoint: "u/mfa-sms-challenge", Body: string(body)}
	}

	var resp loginResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("failed to parse SMS challenge response: %w", err)
	}
	if resp.AuthorizationCode == "" {
		return ErrVerificationFailed
	}

	if err := c.finalizeWithCode(ctx, resp.AuthorizationCode, c.login.verifier); err != nil {
		return err
	}
	c.login = nil
	return nil
}

// LoginWithAuthCode exchanges an authorization code and PKCE verifier
// obtained from the interactive AuthURL flow. Codes are one-time use with a
// short expiry; an expired or replayed code returns ErrInvalidCredentials.
func (c *Client) LoginWithAuthCode(ctx context.Context, code, verifier string) error {
	if code == "" {
		return ErrEmptyAuthCode
	}
	if verifier == "" {
		return ErrEmptyCodeVerifier
	}

	c.handshakeMu.Lock()
	defer c.handshakeMu.Unlock()

	return c.finalizeWithCode(ctx, code, verifier)
}

// LoginWithRefreshToken authenticates the session from a stored refresh
// token. The token is consumed by the exchange; a bad or previously spent
// token returns ErrInvalidCredentials.
func (c *Client) LoginWithRefreshToken(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return ErrEmptyRefreshToken
	}

	c.handshakeMu.Lock()
	defer c.handshakeMu.Unlock()

	tokens, err := c.exchangeGrant(ctx, refreshTokenGrant(c.clientID, refreshToken))
	if err != nil {
		return err
	}

	return c.finalizeTokens(ctx, tokens)
}

// fetchLoginState hits the authorize endpoint and captures the opaque login
// state from the redirect it answers with.
func (c *Client) fetchLoginState(ctx context.Context, codeChallenge string) (string, error) {
	params := url.Values{}
	params.Set("audience", defaultAudience)
	params.Set("client_id", defaultOAuthClientID)
	params.Set("code_challenge", codeChallenge)
	params.Set("code_challenge_method", "S256")
	params.Set("redirect_uri", defaultRedirectURI)
	params.Set("response_type", "code")
	params.Set("scope", defaultScope)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.authBaseURL+"/authorize?"+params.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create authorize request: %w", err)
	}
	req.Header.Set("User-Agent", defaultUserAgent)

	// The state rides on the redirect itself, so don't follow it.
	httpClient := *c.httpClient
	httpClient.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("authorize request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusFound {
		return "", &RequestError{StatusCode: resp.StatusCode, Endpoint: "authorize"}
	}

	location, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		return "", fmt.Errorf("failed to parse authorize redirect: %w", err)
	}

	state := location.Query().Get("state")
	if state == "" {
		return "", fmt.Errorf("simplisafe: authorize redirect carried no login state")
	}

	return state, nil
}

// submitLogin posts the credentials to the login endpoint and interprets the
// server's 2FA declaration.
func (c *Client) submitLogin(ctx context.Context, attempt *loginAttempt) (*loginResponse, error) {
	payload := map[string]string{
		"username":  attempt.username,
		"password":  attempt.password,
		"state":     attempt.state,
		"device_id": c.clientID,
	}

	status, body, err := c.doAuth(ctx, http.MethodPost, "u/login", payload)
	if err != nil {
		return nil, err
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return nil, ErrInvalidCredentials
	case status >= 400:
		return nil, &RequestError{StatusCode: status, Endpoint: "u/login", Body: string(body)}
	}

	var resp loginResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse login response: %w", err)
	}

	return &resp, nil
}

// finalizeWithCode exchanges an authorization code and completes the
// transition into the authenticated state.
func (c *Client) finalizeWithCode(ctx context.Context, code, verifier string) error {
	tokens, err := c.exchangeGrant(ctx, authCodeGrant(code, verifier))
	if err != nil {
		return err
	}
	return c.finalizeTokens(ctx, tokens)
}

// finalizeTokens installs a fresh TokenSet and resolves the user ID, first
// via the authCheck endpoint and, failing that, from the access token's
// subject claim.
func (c *Client) finalizeTokens(ctx context.Context, tokens TokenSet) error {
	c.applyTokens(ctx, tokens, false)

	userID, err := c.fetchUserID(ctx)
	if err != nil {
		c.logger.Warn("authCheck failed; falling back to token claims", "error", err)
		userID, err = UserIDFromToken(tokens.AccessToken)
		if err != nil {
			c.logger.Warn("could not determine user ID", "error", err)
			return nil
		}
	}

	tokens.UserID = userID
	c.applyTokens(ctx, tokens, false)
	return nil
}

// fetchUserID asks the REST API which user the current token belongs to.
func (c *Client) fetchUserID(ctx context.Context) (int64, error) {
	status, body, err := c.do(ctx, http.MethodGet, "api/authCheck", nil, true)
	if err != nil {
		return 0, err
	}
	if _, err := c.checkStatus("api/authCheck", status, body); err != nil {
		return 0, err
	}

	var resp struct {
		UserID int64 `json:"userId"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("failed to parse authCheck response: %w", err)
	}
	if resp.UserID == 0 {
		return 0, fmt.Errorf("simplisafe: authCheck returned no user ID")
	}

	return resp.UserID, nil
}

// authCodeGrant builds the token payload for a PKCE code exchange.
func authCodeGrant(code, verifier string) map[string]string {
	return map[string]string{
		"grant_type":    "authorization_code",
		"client_id":     defaultOAuthClientID,
		"code":          code,
		"code_verifier": verifier,
		"redirect_uri":  defaultRedirectURI,
		"scope":         defaultScope,
	}
}

// refreshTokenGrant builds the token payload for a refresh exchange.
func refreshTokenGrant(deviceID, refreshToken string) map[string]string {
	return map[string]string{
		"grant_type":    "refresh_token",
		"client_id":     defaultOAuthClientID,
		"device_id":     deviceID,
		"refresh_token": refreshToken,
		"scope":         defaultScope,
	}
}

// exchangeGrant posts a grant payload to the token endpoint and builds the
// resulting TokenSet. Any authorization failure from the endpoint means the
// presented grant is bad (wrong code, spent refresh token) and maps to
// ErrInvalidCredentials.
func (c *Client) exchangeGrant(ctx context.Context, grant map[string]string) (TokenSet, error) {
	status, body, err := c.doAuth(ctx, http.MethodPost, "oauth/token", grant)
	if err != nil {
		return TokenSet{}, err
	}

	switch {
	case status == http.StatusBadRequest || status == http.StatusUnauthorized || status == http.StatusForbidden:
		return TokenSet{}, fmt.Errorf("%w: token exchange rejected with status %d", ErrInvalidCredentials, status)
	case status >= 400:
		return TokenSet{}, &RequestError{StatusCode: status, Endpoint: "oauth/token", Body: string(body)}
	}

	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return TokenSet{}, fmt.Errorf("failed to parse token response: %w", err)
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		return TokenSet{}, fmt.Errorf("simplisafe: token endpoint returned an incomplete token set")
	}

	tokens := TokenSet{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
	}

	if resp.ExpiresIn > 0 {
		tokens.ExpiresAt = time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	} else if exp, err := tokenExpiry(resp.AccessToken); err == nil {
		tokens.ExpiresAt = exp
	}

	return tokens, nil
}

// doAuth performs a JSON request against the auth host. Auth endpoints never
// take a bearer token.
func (c *Client) doAuth(ctx context.Context, method, endpoint string, body any) (int, []byte, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to marshal auth request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.authBaseURL+"/"+endpoint, reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create auth request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", defaultUserAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("auth request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read auth response body: %w", err)
	}

	return resp.StatusCode, normalizeBody(respBody), nil
}

// setAuthState updates the session state under lock.
func (c *Client) setAuthState(state AuthState) {
	c.mu.Lock()
	c.authState = state
	c.mu.Unlock()
}
