package eventsub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"eventsub-relay/internal/logging"
)

// Conn is the read side of a live socket.
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

const defaultReadLimit = 1 << 20

// WebsocketDialer opens EventSub connections with gorilla/websocket.
type WebsocketDialer struct {
	HandshakeTimeout time.Duration
	ReadLimit        int64
	Header           http.Header
	Logger           *logging.Logger
}

func (d WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: timeout,
		NetDialContext:   (&net.Dialer{Timeout: timeout}).DialContext,
		Proxy:            http.ProxyFromEnvironment,
	}
	conn, resp, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			body := logging.FormatHTTPPayload(data)
			d.Logger.Warn("eventsub handshake rejected",
				logging.Field("status", resp.Status),
				logging.Field("response", body),
			)
			return nil, &TransportError{
				Op:  "dial " + url,
				Err: fmt.Errorf("%w: %w", err, &HTTPStatusError{StatusCode: resp.StatusCode, Status: resp.Status, Body: body}),
			}
		}
		return nil, &TransportError{Op: "dial " + url, Err: err}
	}
	limit := d.ReadLimit
	if limit <= 0 {
		limit = defaultReadLimit
	}
	conn.SetReadLimit(limit)
	return conn, nil
}

// classifyReadError maps a failed read to the error taxonomy. A connection
// dropped without a close handshake is a recoverable *ProtocolError, a close
// frame is a fatal one and anything else is a *TransportError.
func classifyReadError(err error) error {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		if closeErr.Code == websocket.CloseAbnormalClosure {
			return &ProtocolError{Reason: "connection reset without closing handshake", Err: err, reset: true}
		}
		reason := "server closed connection"
		if text := closeCodeText(closeErr.Code); text != "" {
			reason += " (" + text + ")"
		}
		return &ProtocolError{Reason: reason, CloseCode: closeErr.Code, Err: err}
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNRESET) {
		return &ProtocolError{Reason: "connection reset without closing handshake", Err: err, reset: true}
	}
	return &TransportError{Op: "read frame", Err: err}
}
