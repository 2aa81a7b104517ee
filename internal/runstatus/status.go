package runstatus

import (
	"strings"
	"sync"
	"time"
)

const (
	Starting         = "Starting"
	Authenticated    = "Authenticated"
	Connecting       = "Connecting"
	Connected        = "Connected"
	Streaming        = "Streaming"
	Reconnecting     = "Reconnecting"
	Disconnected     = "Disconnected"
	DisconnectedAuth = "Disconnected (auth)"
)

const (
	KeyStarting         = "starting"
	KeyAuthenticated    = "authenticated"
	KeyConnecting       = "connecting"
	KeyConnected        = "connected"
	KeyStreaming        = "streaming"
	KeyReconnecting     = "reconnecting"
	KeyDisconnected     = "disconnected"
	KeyDisconnectedAuth = "disconnected (auth)"
)

func Key(status string) string {
	return strings.ToLower(strings.TrimSpace(status))
}

// Snapshot is the status at one point in time.
type Snapshot struct {
	Status    string    `json:"status"`
	Key       string    `json:"key"`
	SessionID string    `json:"session_id,omitempty"`
	Since     time.Time `json:"since"`
}

// Healthy reports whether events are flowing.
func (s Snapshot) Healthy() bool {
	return s.Key == KeyStreaming
}

// Tracker holds the current run status. The zero value is ready to use and
// reports Starting.
type Tracker struct {
	mu        sync.Mutex
	current   string
	sessionID string
	since     time.Time
	Now       func() time.Time
}

// Set moves to status and reports the previous one. Setting the current
// status again is not a change.
func (t *Tracker) Set(status string) (string, bool) {
	trimmed := strings.TrimSpace(status)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == trimmed {
		return t.current, false
	}
	previous := t.current
	t.current = trimmed
	t.since = t.now()
	return previous, true
}

func (t *Tracker) SetSession(id string) {
	t.mu.Lock()
	t.sessionID = strings.TrimSpace(id)
	t.mu.Unlock()
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	status := t.current
	if status == "" {
		status = Starting
	}
	return Snapshot{Status: status, Key: Key(status), SessionID: t.sessionID, Since: t.since}
}

func (t *Tracker) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}
