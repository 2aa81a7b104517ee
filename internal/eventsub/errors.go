package eventsub

import (
	"errors"
	"fmt"

	"github.com/gorilla/websocket"

	"eventsub-relay/internal/auth"
)

type (
	TransportError  = auth.TransportError
	AuthError       = auth.AuthError
	HTTPStatusError = auth.HTTPStatusError
)

var ErrInsufficientScope = auth.ErrInsufficientScope

// ErrRevoked matches a *RevokedError.
var ErrRevoked = errors.New("subscription revoked")

// ProtocolError reports a connection that ended in a way the protocol does
// not allow for. Only a reset without a closing handshake is recoverable.
type ProtocolError struct {
	Reason    string
	CloseCode int
	Err       error
	reset     bool
}

func (e *ProtocolError) Error() string {
	if e.Err == nil {
		return "protocol: " + e.Reason
	}
	return "protocol: " + e.Reason + ": " + e.Err.Error()
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func (e *ProtocolError) Recoverable() bool { return e.reset }

// DecodeError reports a notification payload that could not be parsed. It is
// never fatal to the stream.
type DecodeError struct {
	Type      string
	MessageID string
	Err       error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s notification %s: %v", e.Type, e.MessageID, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// SubscriptionError reports subscriptions that could not be asserted for a
// session.
type SubscriptionError struct {
	Type          string
	BroadcasterID string
	Err           error
}

func (e *SubscriptionError) Error() string {
	if e.Type == "" {
		return "subscription: " + e.Err.Error()
	}
	return fmt.Sprintf("subscription %s for %s: %v", e.Type, e.BroadcasterID, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

// RevokedError carries the subscription the server revoked.
type RevokedError struct {
	Subscription Subscription
}

func (e *RevokedError) Error() string {
	return fmt.Sprintf("subscription %s (%s) revoked: %s", e.Subscription.ID, e.Subscription.Type, e.Subscription.Status)
}

func (e *RevokedError) Is(target error) bool { return target == ErrRevoked }

// IsRetryableClose reports close codes a server uses for transient
// conditions. The stream still stops on them; the caller decides to retry.
func IsRetryableClose(err error) bool {
	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) || protoErr.CloseCode == 0 {
		return false
	}
	switch protoErr.CloseCode {
	case websocket.CloseGoingAway,
		websocket.CloseInternalServerErr,
		websocket.CloseServiceRestart,
		websocket.CloseTryAgainLater,
		closeServerError,
		closeReconnectGraceExpired,
		closeNetworkTimeout,
		closeNetworkError:
		return true
	}
	return false
}

// Close codes the EventSub server sends.
const (
	closeServerError           = 4000
	closeClientSentTraffic     = 4001
	closeFailedPing            = 4002
	closeConnectionUnused      = 4003
	closeReconnectGraceExpired = 4004
	closeNetworkTimeout        = 4005
	closeNetworkError          = 4006
	closeInvalidReconnect      = 4007
)

func closeCodeText(code int) string {
	switch code {
	case closeServerError:
		return "internal server error"
	case closeClientSentTraffic:
		return "client sent inbound traffic"
	case closeFailedPing:
		return "client failed ping-pong"
	case closeConnectionUnused:
		return "connection unused"
	case closeReconnectGraceExpired:
		return "reconnect grace time expired"
	case closeNetworkTimeout:
		return "network timeout"
	case closeNetworkError:
		return "network error"
	case closeInvalidReconnect:
		return "invalid reconnect"
	default:
		return ""
	}
}
