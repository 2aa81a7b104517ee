package eventsub

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// frame is a parsed server message with the parts the stream loop acts on.
type frame struct {
	env          Envelope
	session      Session
	subscription Subscription
}

func (f frame) messageType() MessageType { return f.env.Metadata.MessageType }

// parseFrame reads the envelope and, for control messages, their payload. A
// welcome or reconnect without a session id is a *ProtocolError.
func parseFrame(raw []byte) (frame, error) {
	env, err := parseEnvelope(raw)
	if err != nil {
		return frame{}, &DecodeError{Err: err}
	}
	f := frame{env: env}
	switch env.Metadata.MessageType {
	case MessageWelcome, MessageReconnect:
		payload := sessionPayload{}
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return frame{}, &ProtocolError{Reason: "malformed " + string(env.Metadata.MessageType), Err: err}
		}
		if strings.TrimSpace(payload.Session.ID) == "" {
			return frame{}, &ProtocolError{Reason: "malformed " + string(env.Metadata.MessageType), Err: errors.New("missing session id")}
		}
		f.session = Session{ID: payload.Session.ID, ConnectedAt: payload.Session.ConnectedAt}
		if payload.Session.KeepaliveTimeoutSeconds != nil && *payload.Session.KeepaliveTimeoutSeconds > 0 {
			f.session.KeepaliveTimeout = time.Duration(*payload.Session.KeepaliveTimeoutSeconds) * time.Second
		}
		if payload.Session.ReconnectURL != nil {
			f.session.ReconnectURL = strings.TrimSpace(*payload.Session.ReconnectURL)
		}
	case MessageRevocation:
		payload := notificationPayload{}
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return frame{}, &ProtocolError{Reason: "malformed revocation", Err: err}
		}
		f.subscription = payload.Subscription
	}
	return f, nil
}

// nextTarget applies a welcome or reconnect frame to the current target.
// Only reconnect frames may move the connection to another URL.
func nextTarget(current ConnectionTarget, kind MessageType, session Session) ConnectionTarget {
	next := current
	if session.KeepaliveTimeout > 0 {
		next.KeepaliveTimeout = session.KeepaliveTimeout
	}
	if kind == MessageReconnect && session.ReconnectURL != "" {
		next.URL = session.ReconnectURL
	}
	return next
}
