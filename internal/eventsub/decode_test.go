package eventsub

import (
	"errors"
	"testing"
	"time"
)

func TestDecode_Ban(t *testing.T) {
	event, ok, err := Decode(notificationFrame("msg-1", "channel.ban", "1", banEvent("spammer")))
	if err != nil || !ok {
		t.Fatalf("Decode() = ok %v err %v, want decoded event", ok, err)
	}
	ban, isBan := event.Data.(ChannelBan)
	if !isBan {
		t.Fatalf("Data = %T, want ChannelBan", event.Data)
	}
	if ban.UserLogin != "spammer" || ban.ModeratorUserLogin != "mod_one" || ban.BroadcasterUserID != "1001" || !ban.IsPermanent {
		t.Fatalf("ban = %+v", ban)
	}
	if ban.EndsAt != nil {
		t.Fatalf("EndsAt = %v, want nil for permanent ban", ban.EndsAt)
	}
	want := time.Date(2026, 10, 17, 10, 0, 2, 0, time.UTC)
	if !event.Timestamp.Equal(want) || event.MessageID != "msg-1" || event.Type != "channel.ban" {
		t.Fatalf("event = %+v, want timestamp %v", event, want)
	}
}

func TestDecode_ChannelModerate(t *testing.T) {
	raw := notificationFrame("msg-2", "channel.moderate", "2", map[string]any{
		"broadcaster_user_id":    "1001",
		"broadcaster_user_login": "channel",
		"broadcaster_user_name":  "Channel",
		"moderator_user_id":      "1002",
		"moderator_user_login":   "mod_one",
		"moderator_user_name":    "Mod_One",
		"action":                 "timeout",
		"timeout": map[string]any{
			"user_id":    "2001",
			"user_login": "chatter",
			"user_name":  "Chatter",
			"reason":     "caps",
			"expires_at": "2026-10-17T10:10:02Z",
		},
		"ban":  nil,
		"warn": nil,
	})
	event, ok, err := Decode(raw)
	if err != nil || !ok {
		t.Fatalf("Decode() = ok %v err %v", ok, err)
	}
	moderate := event.Data.(ChannelModerate)
	if moderate.Action != "timeout" || moderate.Timeout == nil || moderate.Ban != nil {
		t.Fatalf("moderate = %+v", moderate)
	}
	if moderate.Timeout.UserLogin != "chatter" || moderate.Timeout.Reason != "caps" {
		t.Fatalf("timeout = %+v", moderate.Timeout)
	}
}

func TestDecode_Ignored(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
	}{
		{name: "unknown type", raw: notificationFrame("x", "channel.follow", "2", map[string]any{"user_id": "1"})},
		{name: "unknown version", raw: notificationFrame("x", "channel.moderate", "1", map[string]any{"action": "ban"})},
		{name: "keepalive", raw: keepaliveFrame()},
		{name: "welcome", raw: welcomeFrame("abc", 10, "")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, ok, err := Decode(tt.raw)
			if err != nil || ok {
				t.Fatalf("Decode() = (%+v, %v, %v), want ignored without error", event, ok, err)
			}
		})
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
	}{
		{name: "not json", raw: []byte(`{`)},
		{name: "no message type", raw: []byte(`{"metadata":{},"payload":{}}`)},
		{name: "bad field type", raw: notificationFrame("x", "channel.ban", "1", map[string]any{"is_permanent": "yes"})},
		{name: "missing event", raw: []byte(`{"metadata":{"message_type":"notification","subscription_type":"channel.ban","subscription_version":"1"},"payload":{"subscription":{}}}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok, err := Decode(tt.raw)
			var decodeErr *DecodeError
			if ok || !errors.As(err, &decodeErr) {
				t.Fatalf("Decode() = ok %v err %v, want *DecodeError", ok, err)
			}
		})
	}
}

func TestParseFrame(t *testing.T) {
	f, err := parseFrame(welcomeFrame("abc123", 60, ""))
	if err != nil {
		t.Fatalf("parseFrame(welcome) error = %v", err)
	}
	if f.messageType() != MessageWelcome || f.session.ID != "abc123" || f.session.KeepaliveTimeout != time.Minute {
		t.Fatalf("welcome frame = %+v", f)
	}

	f, err = parseFrame(reconnectFrame("abc123", "wss://elsewhere/ws"))
	if err != nil || f.session.ReconnectURL != "wss://elsewhere/ws" || f.session.KeepaliveTimeout != 0 {
		t.Fatalf("reconnect frame = %+v err %v", f, err)
	}

	f, err = parseFrame(revocationFrame())
	if err != nil || f.subscription.ID != "sub-1" {
		t.Fatalf("revocation frame = %+v err %v", f, err)
	}

	_, err = parseFrame(welcomeFrame("", 10, ""))
	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) || protoErr.Recoverable() {
		t.Fatalf("parseFrame(welcome without id) error = %v, want fatal *ProtocolError", err)
	}
}
