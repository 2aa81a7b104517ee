package eventsub

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Decode parses a raw notification frame into an Event. Frames that are not
// notifications, and notification types or versions this client does not
// know, yield ok=false and no error.
func Decode(raw []byte) (Event, bool, error) {
	env, err := parseEnvelope(raw)
	if err != nil {
		return Event{}, false, &DecodeError{Err: err}
	}
	if env.Metadata.MessageType != MessageNotification {
		return Event{}, false, nil
	}
	return decodeNotification(env)
}

func parseEnvelope(raw []byte) (Envelope, error) {
	env := Envelope{}
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("invalid frame: %w", err)
	}
	if env.Metadata.MessageType == "" {
		return Envelope{}, errors.New("frame has no message_type")
	}
	return env, nil
}

func decodeNotification(env Envelope) (Event, bool, error) {
	meta := env.Metadata
	payload := notificationPayload{}
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return Event{}, false, &DecodeError{Type: meta.SubscriptionType, MessageID: meta.MessageID, Err: err}
	}

	subType := meta.SubscriptionType
	if subType == "" {
		subType = payload.Subscription.Type
	}
	version := meta.SubscriptionVersion
	if version == "" {
		version = payload.Subscription.Version
	}

	var data EventData
	var err error
	switch {
	case subType == "channel.moderate" && version == "2":
		data, err = decodeEvent[ChannelModerate](payload.Event)
	case subType == "channel.ban" && version == "1":
		data, err = decodeEvent[ChannelBan](payload.Event)
	case subType == "channel.unban" && version == "1":
		data, err = decodeEvent[ChannelUnban](payload.Event)
	case subType == "channel.unban_request.resolve" && version == "1":
		data, err = decodeEvent[UnbanRequestResolve](payload.Event)
	case subType == "channel.vip.add" && version == "1":
		data, err = decodeEvent[VIPAdd](payload.Event)
	case subType == "automod.message.hold" && version == "1":
		data, err = decodeEvent[AutomodMessageHold](payload.Event)
	default:
		return Event{}, false, nil
	}
	if err != nil {
		return Event{}, false, &DecodeError{Type: subType, MessageID: meta.MessageID, Err: err}
	}

	return Event{
		MessageID: meta.MessageID,
		Type:      subType,
		Version:   version,
		Timestamp: meta.MessageTimestamp,
		Data:      data,
	}, true, nil
}

func decodeEvent[T EventData](raw json.RawMessage) (EventData, error) {
	if len(strings.TrimSpace(string(raw))) == 0 || string(raw) == "null" {
		return nil, errors.New("notification has no event")
	}
	var data T
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return data, nil
}
