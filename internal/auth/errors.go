package auth

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNoRefresh is returned by sources that cannot mint a new token.
var ErrNoRefresh = errors.New("credential source cannot refresh")

// ErrInsufficientScope marks a token that lacks scopes a subscription needs.
var ErrInsufficientScope = errors.New("insufficient scope")

type HTTPStatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "http request failed"
	}
	msg := e.Status
	if msg == "" {
		msg = fmt.Sprintf("http status %d", e.StatusCode)
	}
	if e.Body != "" && e.Body != "<empty>" {
		msg += ": " + e.Body
	}
	return msg
}

func IsUnauthorized(err error) bool {
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	return statusErr.StatusCode == http.StatusUnauthorized || statusErr.StatusCode == http.StatusForbidden
}

// AuthError reports an invalid, unvalidatable or insufficiently scoped
// credential.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	return "auth: " + e.Op + ": " + e.Err.Error()
}

func (e *AuthError) Unwrap() error { return e.Err }

// TransportError reports a network level failure talking to a remote
// service. It is generally worth retrying.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return "transport: " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// MissingScopeError lists the scopes a credential would need in addition to
// the ones it was granted.
type MissingScopeError struct {
	Missing []string
}

func (e *MissingScopeError) Error() string {
	return fmt.Sprintf("token is missing scopes %v", e.Missing)
}

func (e *MissingScopeError) Is(target error) bool { return target == ErrInsufficientScope }
