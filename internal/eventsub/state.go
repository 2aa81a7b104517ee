package eventsub

import "fmt"

type State int

const (
	StateConnecting State = iota
	StateAwaitingWelcome
	StateStreaming
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitingWelcome:
		return "awaiting_welcome"
	case StateStreaming:
		return "streaming"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type inputKind int

const (
	inputDialed inputKind = iota
	inputDialFailed
	inputWelcome
	inputReconnectFrame
	inputKeepalive
	inputNotification
	inputRevocation
	inputUnknownFrame
	inputSubscribed
	inputSubscribeFailed
	inputTimeout
	inputReset
	inputCloseFrame
	inputReadFailed
	inputRefreshFailed
)

var inputNames = map[inputKind]string{
	inputDialed:          "dialed",
	inputDialFailed:      "dial_failed",
	inputWelcome:         "welcome",
	inputReconnectFrame:  "reconnect_frame",
	inputKeepalive:       "keepalive",
	inputNotification:    "notification",
	inputRevocation:      "revocation",
	inputUnknownFrame:    "unknown_frame",
	inputSubscribed:      "subscribed",
	inputSubscribeFailed: "subscribe_failed",
	inputTimeout:         "keepalive_timeout",
	inputReset:           "reset",
	inputCloseFrame:      "close_frame",
	inputReadFailed:      "read_failed",
	inputRefreshFailed:   "refresh_failed",
}

func (k inputKind) String() string {
	if name, ok := inputNames[k]; ok {
		return name
	}
	return fmt.Sprintf("input(%d)", int(k))
}

type effect int

const (
	effectNone effect = iota
	effectIgnore
	effectSubscribe
	effectPublish
	effectReconnect
	effectFail
)

// transition is the whole stream loop policy: given the current state and
// what just happened it names the next state and the action to take.
func transition(state State, in inputKind) (State, effect) {
	if state == StateFailed {
		return StateFailed, effectNone
	}
	switch in {
	case inputDialFailed, inputSubscribeFailed, inputRevocation, inputCloseFrame, inputReadFailed, inputRefreshFailed:
		return StateFailed, effectFail
	}

	switch state {
	case StateConnecting, StateReconnecting:
		if in == inputDialed {
			return StateAwaitingWelcome, effectNone
		}
		return state, effectIgnore

	case StateAwaitingWelcome:
		switch in {
		case inputWelcome, inputReconnectFrame:
			return StateAwaitingWelcome, effectSubscribe
		case inputSubscribed:
			return StateStreaming, effectNone
		case inputTimeout, inputReset:
			return StateReconnecting, effectReconnect
		default:
			return StateAwaitingWelcome, effectIgnore
		}

	case StateStreaming:
		switch in {
		case inputKeepalive:
			return StateStreaming, effectNone
		case inputNotification:
			return StateStreaming, effectPublish
		case inputReconnectFrame, inputTimeout, inputReset:
			return StateReconnecting, effectReconnect
		default:
			return StateStreaming, effectIgnore
		}
	}
	return state, effectIgnore
}
