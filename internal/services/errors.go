package services

import (
	"errors"
	"strings"
)

var (
	// Session errors
	ErrSessionInvalid = errors.New("session invalid")

	// Network and connectivity errors
	ErrNetworkUnavailable = errors.New("network unavailable")
	ErrTimeout            = errors.New("operation timed out")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrRateLimited        = errors.New("rate limited")

	// Controller errors
	ErrEmptyCache       = errors.New("cache is empty")
	ErrStaleSelection   = errors.New("message is no longer open")
	ErrControllerClosed = errors.New("controller closed")
)

// sessionInvalidMarkers are fragments of error text that gateways and token
// endpoints use when the backing session can no longer be used.
var sessionInvalidMarkers = []string{
	"no active account",
	"invalid_grant",
	"token has been expired or revoked",
	"authenticationfailed",
	"invalid credentials",
}

// IsSessionInvalid reports whether err means the session is gone. Errors that
// crossed a process or wire boundary lose their identity, so the message text
// is inspected as well.
func IsSessionInvalid(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSessionInvalid) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range sessionInvalidMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// IsRetryableError determines if an error should be retried
func IsRetryableError(err error) bool {
	if err == nil || IsSessionInvalid(err) {
		return false
	}
	return errors.Is(err, ErrNetworkUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrRateLimited)
}
