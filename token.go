package simplisafe

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSet holds the credentials produced by a successful handshake or
// refresh. The refresh token is single-use: once it has been exchanged, the
// old value must never be sent again.
type TokenSet struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	UserID       int64     `json:"user_id"`
}

// IsValid returns true if the access token exists and has not expired.
func (t TokenSet) IsValid() bool {
	if t.AccessToken == "" {
		return false
	}
	if t.ExpiresAt.IsZero() {
		return true
	}
	return time.Now().Before(t.ExpiresAt)
}

// TokenStore is the interface for persisting a TokenSet between sessions.
type TokenStore interface {
	SaveTokens(ctx context.Context, tokens TokenSet) error
	LoadTokens(ctx context.Context) (TokenSet, error)
}

// FileTokenStore stores the TokenSet in a JSON file.
type FileTokenStore struct {
	filepath string
	mu       sync.RWMutex
}

// NewFileTokenStore creates a new FileTokenStore.
func NewFileTokenStore(filepath string) *FileTokenStore {
	return &FileTokenStore{
		filepath: filepath,
	}
}

// SaveTokens saves the tokens to the file.
func (f *FileTokenStore) SaveTokens(ctx context.Context, tokens TokenSet) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	// Ensure the directory exists
	dir := filepath.Dir(f.filepath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create token directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(tokens, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal tokens: %w", err)
	}

	// Write to a temporary file first, then rename for atomicity
	tmpFile := f.filepath + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}

	if err := os.Rename(tmpFile, f.filepath); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to save token file: %w", err)
	}

	return nil
}

// LoadTokens loads the tokens from the file.
func (f *FileTokenStore) LoadTokens(ctx context.Context) (TokenSet, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	data, err := os.ReadFile(f.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			return TokenSet{}, fmt.Errorf("token file not found: %w", err)
		}
		return TokenSet{}, fmt.Errorf("failed to read token file: %w", err)
	}

	var tokens TokenSet
	if err := json.Unmarshal(data, &tokens); err != nil {
		return TokenSet{}, fmt.Errorf("failed to parse token file: %w", err)
	}

	return tokens, nil
}

// UserIDFromToken extracts the SimpliSafe user ID from an access token
// without verifying its signature. The vendor issues JWTs whose subject is
// of the form "user:12345". Useful when restoring a session from a stored
// refresh token before the first authCheck round trip.
func UserIDFromToken(accessToken string) (int64, error) {
	claims, err := unverifiedClaims(accessToken)
	if err != nil {
		return 0, err
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return 0, fmt.Errorf("simplisafe: access token has no subject claim")
	}

	raw := strings.TrimPrefix(sub, "user:")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("simplisafe: unexpected subject claim %q: %w", sub, err)
	}

	return id, nil
}

// tokenExpiry extracts the expiry claim from an access token. Used as a
// fallback when the token endpoint omits expires_in.
func tokenExpiry(accessToken string) (time.Time, error) {
	claims, err := unverifiedClaims(accessToken)
	if err != nil {
		return time.Time{}, err
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, fmt.Errorf("simplisafe: access token has no expiry claim")
	}

	return exp.Time, nil
}

// unverifiedClaims decodes a JWT's claims without signature verification.
// The client has no access to the vendor's signing keys; these claims are
// informational only and never used to make trust decisions.
func unverifiedClaims(accessToken string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(accessToken, claims); err != nil {
		return nil, fmt.Errorf("simplisafe: failed to parse access token: %w", err)
	}
	return claims, nil
}
