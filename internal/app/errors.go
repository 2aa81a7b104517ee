package app

import (
	"errors"
	"fmt"
	"strings"

	"eventsub-relay/internal/auth"
	"eventsub-relay/internal/eventsub"
	"eventsub-relay/internal/logging"
	"eventsub-relay/internal/runstatus"
)

// Retryable reports failures a fresh connection can get past: transport
// errors, subscription failures, resets without a closing handshake and the
// close codes servers use for transient trouble.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, eventsub.ErrRevoked) || errors.Is(err, auth.ErrInsufficientScope) {
		return false
	}
	var authErr *auth.AuthError
	if errors.As(err, &authErr) {
		return false
	}
	var protoErr *eventsub.ProtocolError
	if errors.As(err, &protoErr) {
		return protoErr.Recoverable() || eventsub.IsRetryableClose(err)
	}
	var subErr *eventsub.SubscriptionError
	var transportErr *auth.TransportError
	return errors.As(err, &subErr) || errors.As(err, &transportErr)
}

// isRejectedToken reports a failure caused by the identity or API service
// refusing the token, which a refresh may fix.
func isRejectedToken(err error) bool {
	if errors.Is(err, auth.ErrInsufficientScope) || errors.Is(err, auth.ErrNoRefresh) {
		return false
	}
	var authErr *auth.AuthError
	return errors.As(err, &authErr)
}

func statusFor(err error) string {
	var authErr *auth.AuthError
	if errors.As(err, &authErr) || errors.Is(err, eventsub.ErrRevoked) {
		return runstatus.DisconnectedAuth
	}
	return runstatus.Disconnected
}

// hint is a one-line suggestion for the operator.
func hint(err error) string {
	var protoErr *eventsub.ProtocolError
	switch {
	case errors.Is(err, auth.ErrInsufficientScope):
		return "the token is missing scopes for the configured topics; reauthorize with --authorize"
	case errors.Is(err, eventsub.ErrRevoked):
		return "the server revoked a subscription; check that the account still moderates the channel"
	case errors.Is(err, auth.ErrNoRefresh):
		return "token expired and cannot be refreshed; provide a new token"
	case isRejectedToken(err):
		return "token expired or was revoked; reauthorize with --authorize or provide a new token"
	case errors.As(err, &protoErr) && protoErr.Recoverable():
		return "connection reset, will retry"
	case errors.As(err, &protoErr) && protoErr.CloseCode != 0 && !Retryable(err):
		return fmt.Sprintf("server closed the connection with code %d", protoErr.CloseCode)
	case Retryable(err):
		return "network blip, will retry"
	default:
		return "unexpected failure"
	}
}

// causeChain lists err and everything it wraps, outermost first.
func causeChain(err error) []string {
	var chain []string
	for err != nil {
		chain = append(chain, fmt.Sprintf("%T: %v", err, err))
		switch wrapped := err.(type) {
		case interface{ Unwrap() []error }:
			errs := wrapped.Unwrap()
			if len(errs) == 0 {
				return chain
			}
			err = errs[0]
		default:
			err = errors.Unwrap(err)
		}
	}
	return chain
}

func (a *RelayApp) reportFailure(err error) {
	if err == nil {
		return
	}
	a.logger.Error("eventsub relay failed",
		logging.Field("error", err),
		logging.Field("hint", hint(err)),
		logging.Field("cause_chain", strings.Join(causeChain(err), " <- ")),
	)
}
