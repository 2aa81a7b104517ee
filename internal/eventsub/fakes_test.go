package eventsub

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"eventsub-relay/internal/auth"
)

type fakeConn struct {
	frames    chan readResult
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan readResult, 64), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case res := <-c.frames:
		if res.err != nil {
			return 0, nil, res.err
		}
		return websocket.TextMessage, res.data, nil
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) send(data []byte) { c.frames <- readResult{data: data} }

func (c *fakeConn) fail(err error) { c.frames <- readResult{err: err} }

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

type fakeDialer struct {
	mu     sync.Mutex
	urls   []string
	err    error
	dialed chan *fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{dialed: make(chan *fakeConn, 16)}
}

func (d *fakeDialer) Dial(_ context.Context, url string) (Conn, error) {
	d.mu.Lock()
	d.urls = append(d.urls, url)
	err := d.err
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	conn := newFakeConn()
	d.dialed <- conn
	return conn, nil
}

func (d *fakeDialer) dialURLs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.urls...)
}

func (d *fakeDialer) next(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case conn := <-d.dialed:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dial")
		return nil
	}
}

// fakeAPI is an in-memory subscription endpoint.
type fakeAPI struct {
	mu        sync.Mutex
	existing  []Subscription
	created   []CreateRequest
	createErr error
	listErr   error
	failLists int
	lists     int
}

func (a *fakeAPI) ListSubscriptions(context.Context, auth.Credential, string) ([]Subscription, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lists++
	if a.failLists > 0 {
		a.failLists--
		return nil, &HTTPStatusError{StatusCode: 503, Status: "503 Service Unavailable"}
	}
	if a.listErr != nil {
		return nil, a.listErr
	}
	return append([]Subscription(nil), a.existing...), nil
}

func (a *fakeAPI) CreateSubscription(_ context.Context, _ auth.Credential, req CreateRequest) (Subscription, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.createErr != nil {
		return Subscription{}, a.createErr
	}
	a.created = append(a.created, req)
	sub := Subscription{
		ID:        fmt.Sprintf("sub-%d", len(a.created)),
		Status:    StatusEnabled,
		Type:      req.Type,
		Version:   req.Version,
		Condition: req.Condition,
		Transport: req.Transport,
	}
	a.existing = append(a.existing, sub)
	return sub, nil
}

func (a *fakeAPI) listCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lists
}

func (a *fakeAPI) creates() []CreateRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]CreateRequest(nil), a.created...)
}

// staticStore is a CredentialStore with a fixed credential.
type staticStore struct {
	cred auth.Credential
}

func (s staticStore) Current() auth.Credential { return s.cred }

func (s staticStore) RefreshIfDue(context.Context, time.Duration) (auth.Credential, bool, error) {
	return s.cred, false, nil
}

// countingSource is an auth.Source that counts refreshes.
type countingSource struct {
	initial   auth.Credential
	refreshes atomic.Int32
}

func (s *countingSource) Name() string     { return "counting" }
func (s *countingSource) CanRefresh() bool { return true }

func (s *countingSource) Obtain(context.Context) (auth.Credential, error) { return s.initial, nil }

func (s *countingSource) Refresh(_ context.Context, existing auth.Credential) (auth.Credential, error) {
	n := s.refreshes.Add(1)
	existing.AccessToken = fmt.Sprintf("refreshed-%d", n)
	existing.ExpiresAt = time.Now().Add(time.Hour)
	return existing, nil
}

type stateRecorder struct {
	mu      sync.Mutex
	states  []State
	changed chan struct{}
	last    Session
}

func newStateRecorder() *stateRecorder {
	return &stateRecorder{changed: make(chan struct{}, 64)}
}

func (r *stateRecorder) record(state State, session Session) {
	r.mu.Lock()
	r.states = append(r.states, state)
	r.last = session
	r.mu.Unlock()
	select {
	case r.changed <- struct{}{}:
	default:
	}
}

func (r *stateRecorder) snapshot() ([]State, Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...), r.last
}

func (r *stateRecorder) count(state State) int {
	states, _ := r.snapshot()
	n := 0
	for _, s := range states {
		if s == state {
			n++
		}
	}
	return n
}

// waitFor polls until the recorder has seen state n times.
func (r *stateRecorder) waitFor(t *testing.T, state State, n int) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for r.count(state) < n {
		select {
		case <-r.changed:
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			states, _ := r.snapshot()
			t.Fatalf("state %s seen %d times, want %d (history %v)", state, r.count(state), n, states)
		}
	}
}

func credential() auth.Credential {
	return auth.Credential{
		AccessToken: "token",
		ClientID:    "client-1",
		UserID:      "1001",
		Login:       "mod_one",
		Scopes:      RequestedScopes(topicNames()),
	}
}

func topicNames() []string {
	names := make([]string, 0, len(topics))
	for name := range topics {
		names = append(names, name)
	}
	return names
}

func welcomeFrame(sessionID string, keepaliveSeconds int, reconnectURL string) []byte {
	return sessionFrame(MessageWelcome, sessionID, keepaliveSeconds, reconnectURL)
}

func reconnectFrame(sessionID, reconnectURL string) []byte {
	return sessionFrame(MessageReconnect, sessionID, 0, reconnectURL)
}

func sessionFrame(kind MessageType, sessionID string, keepaliveSeconds int, reconnectURL string) []byte {
	session := map[string]any{
		"id":           sessionID,
		"status":       "connected",
		"connected_at": "2026-10-17T10:00:00.000000000Z",
	}
	if keepaliveSeconds > 0 {
		session["keepalive_timeout_seconds"] = keepaliveSeconds
	} else {
		session["keepalive_timeout_seconds"] = nil
	}
	if reconnectURL != "" {
		session["reconnect_url"] = reconnectURL
	} else {
		session["reconnect_url"] = nil
	}
	return mustJSON(map[string]any{
		"metadata": map[string]any{
			"message_id":        "msg-" + sessionID,
			"message_type":      string(kind),
			"message_timestamp": "2026-10-17T10:00:00.000000000Z",
		},
		"payload": map[string]any{"session": session},
	})
}

func keepaliveFrame() []byte {
	return mustJSON(map[string]any{
		"metadata": map[string]any{
			"message_id":        "keepalive",
			"message_type":      "session_keepalive",
			"message_timestamp": "2026-10-17T10:00:01.000000000Z",
		},
		"payload": map[string]any{},
	})
}

func notificationFrame(id, subType, version string, event map[string]any) []byte {
	return mustJSON(map[string]any{
		"metadata": map[string]any{
			"message_id":           id,
			"message_type":         "notification",
			"message_timestamp":    "2026-10-17T10:00:02.000000000Z",
			"subscription_type":    subType,
			"subscription_version": version,
		},
		"payload": map[string]any{
			"subscription": map[string]any{
				"id":        "sub-1",
				"status":    "enabled",
				"type":      subType,
				"version":   version,
				"condition": map[string]string{"broadcaster_user_id": "1001"},
				"transport": map[string]string{"method": "websocket", "session_id": "abc123"},
			},
			"event": event,
		},
	})
}

func banEvent(user string) map[string]any {
	return map[string]any{
		"broadcaster_user_id":    "1001",
		"broadcaster_user_login": "channel",
		"broadcaster_user_name":  "Channel",
		"moderator_user_id":      "1002",
		"moderator_user_login":   "mod_one",
		"moderator_user_name":    "Mod_One",
		"user_id":                "2001",
		"user_login":             user,
		"user_name":              user,
		"reason":                 "spam",
		"banned_at":              "2026-10-17T10:00:02Z",
		"ends_at":                nil,
		"is_permanent":           true,
	}
}

func revocationFrame() []byte {
	return mustJSON(map[string]any{
		"metadata": map[string]any{
			"message_id":           "revoked",
			"message_type":         "revocation",
			"message_timestamp":    "2026-10-17T10:00:03.000000000Z",
			"subscription_type":    "channel.ban",
			"subscription_version": "1",
		},
		"payload": map[string]any{
			"subscription": map[string]any{
				"id":      "sub-1",
				"status":  "authorization_revoked",
				"type":    "channel.ban",
				"version": "1",
			},
		},
	})
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
