package simplisafe

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the SimpliSafe client.
// All errors are defined here for easy discovery and consistent organization.
var (
	// Authentication errors
	ErrInvalidCredentials  = errors.New("simplisafe: invalid credentials")
	ErrPendingVerification = errors.New("simplisafe: 2FA verification is still pending")
	ErrVerificationFailed  = errors.New("simplisafe: 2FA verification failed")
	ErrNotAuthenticated    = errors.New("simplisafe: not authenticated")
	ErrWrongAuthState      = errors.New("simplisafe: operation not valid in current auth state")

	// Credential validation errors
	ErrEmptyUsername     = errors.New("simplisafe: username cannot be empty")
	ErrEmptyPassword     = errors.New("simplisafe: password cannot be empty")
	ErrEmptyAuthCode     = errors.New("simplisafe: authorization code cannot be empty")
	ErrEmptyCodeVerifier = errors.New("simplisafe: code verifier cannot be empty")
	ErrEmptyRefreshToken = errors.New("simplisafe: refresh token cannot be empty")
	ErrEmptySMSCode      = errors.New("simplisafe: SMS code cannot be empty")

	// Websocket errors
	ErrNotConnected     = errors.New("simplisafe: websocket is not connected")
	ErrAlreadyConnected = errors.New("simplisafe: websocket is already connected")

	// Domain validation errors
	ErrUnknownSystemVersion = errors.New("simplisafe: unknown system version")
	ErrInvalidPIN           = errors.New("simplisafe: PIN must be 4 digits")
	ErrMaxPINs              = errors.New("simplisafe: maximum number of user PINs reached")
	ErrNoTemperature        = errors.New("simplisafe: sensor does not report temperature")
	ErrSettingOutOfRange    = errors.New("simplisafe: system setting value out of range")
)

// RequestError represents a non-2xx HTTP response from the SimpliSafe API
// that was not resolved by the refresh-and-retry protocol.
type RequestError struct {
	StatusCode int
	Endpoint   string
	Body       string
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("simplisafe: request to /%s failed with status %d: %s", e.Endpoint, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("simplisafe: request to /%s failed with status %d", e.Endpoint, e.StatusCode)
}

// ConnectionError represents a websocket establishment or mid-stream
// transport failure.
type ConnectionError struct {
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("simplisafe: websocket %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("simplisafe: websocket %s", e.Reason)
}

// Unwrap returns the underlying transport error, if any.
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsInvalidCredentials returns true if the error indicates bad credentials,
// a bad 2FA code, or a spent refresh token.
func IsInvalidCredentials(err error) bool {
	return errors.Is(err, ErrInvalidCredentials)
}

// IsPendingVerification returns true if the error indicates a 2FA
// verification that has not been confirmed yet. Callers are expected to poll
// again with their own backoff.
func IsPendingVerification(err error) bool {
	return errors.Is(err, ErrPendingVerification)
}

// IsRequestError returns the status code and true if the error is a non-2xx
// API response.
func IsRequestError(err error) (int, bool) {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.StatusCode, true
	}
	return 0, false
}

// IsConnectionError returns true if the error is a websocket transport
// failure.
func IsConnectionError(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr)
}

// IsTimeout returns true if the error indicates a timeout.
func IsTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
