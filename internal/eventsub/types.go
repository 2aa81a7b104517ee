package eventsub

import (
	"encoding/json"
	"time"
)

type MessageType string

const (
	MessageWelcome      MessageType = "session_welcome"
	MessageKeepalive    MessageType = "session_keepalive"
	MessageReconnect    MessageType = "session_reconnect"
	MessageNotification MessageType = "notification"
	MessageRevocation   MessageType = "revocation"
)

type Metadata struct {
	MessageID           string      `json:"message_id"`
	MessageType         MessageType `json:"message_type"`
	MessageTimestamp    time.Time   `json:"message_timestamp"`
	SubscriptionType    string      `json:"subscription_type,omitempty"`
	SubscriptionVersion string      `json:"subscription_version,omitempty"`
}

// Envelope is the outer shape of every frame the server sends.
type Envelope struct {
	Metadata Metadata        `json:"metadata"`
	Payload  json.RawMessage `json:"payload"`
}

type sessionPayload struct {
	Session struct {
		ID                      string    `json:"id"`
		Status                  string    `json:"status"`
		ConnectedAt             time.Time `json:"connected_at"`
		KeepaliveTimeoutSeconds *int      `json:"keepalive_timeout_seconds"`
		ReconnectURL            *string   `json:"reconnect_url"`
	} `json:"session"`
}

type notificationPayload struct {
	Subscription Subscription    `json:"subscription"`
	Event        json.RawMessage `json:"event"`
}

// Session is the server-assigned identity of one connection. It is only
// valid for the connection that received it.
type Session struct {
	ID               string
	KeepaliveTimeout time.Duration
	ReconnectURL     string
	ConnectedAt      time.Time
}

// ConnectionTarget is where the next connection goes and how long it may
// stay silent. It is replaced as a whole, never modified.
type ConnectionTarget struct {
	URL              string
	KeepaliveTimeout time.Duration
}

// Transport binds a subscription to a delivery channel.
type Transport struct {
	Method         string     `json:"method"`
	SessionID      string     `json:"session_id,omitempty"`
	ConnectedAt    *time.Time `json:"connected_at,omitempty"`
	DisconnectedAt *time.Time `json:"disconnected_at,omitempty"`
}

type Subscription struct {
	ID        string            `json:"id"`
	Status    string            `json:"status"`
	Type      string            `json:"type"`
	Version   string            `json:"version"`
	Condition map[string]string `json:"condition"`
	Transport Transport         `json:"transport"`
	CreatedAt time.Time         `json:"created_at"`
	Cost      int               `json:"cost"`
}

const (
	StatusEnabled        = "enabled"
	TransportWebsocket   = "websocket"
	conditionBroadcaster = "broadcaster_user_id"
	conditionModerator   = "moderator_user_id"
)

// Target is a channel to monitor and the subscription types wanted for it.
type Target struct {
	BroadcasterID string
	Topics        []string
}
