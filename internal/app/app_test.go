package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"eventsub-relay/internal/auth"
	"eventsub-relay/internal/config"
	"eventsub-relay/internal/eventsub"
	"eventsub-relay/internal/logging"
	"eventsub-relay/internal/notify"
	"eventsub-relay/internal/runstatus"
)

func quietLogger() *logging.Logger {
	logger := logging.New(false)
	logger.SetTerminalOutputEnabled(false)
	return logger
}

func ownerCredential() auth.Credential {
	return auth.Credential{
		AccessToken: "token-1",
		ClientID:    "client-1",
		UserID:      "1001",
		Login:       "owner",
		Scopes:      eventsub.RequestedScopes(append(eventsub.DefaultTopics(), "channel.ban", "channel.unban", "channel.vip.add")),
		ExpiresAt:   time.Now().Add(time.Hour),
	}
}

type fakeSource struct {
	cred       auth.Credential
	obtainErr  error
	canRefresh bool
	refreshes  atomic.Int32
}

func (s *fakeSource) Name() string     { return "fake" }
func (s *fakeSource) CanRefresh() bool { return s.canRefresh }

func (s *fakeSource) Obtain(context.Context) (auth.Credential, error) {
	if s.obtainErr != nil {
		return auth.Credential{}, s.obtainErr
	}
	return s.cred, nil
}

func (s *fakeSource) Refresh(_ context.Context, existing auth.Credential) (auth.Credential, error) {
	s.refreshes.Add(1)
	existing.AccessToken = "token-refreshed"
	return existing, nil
}

// fakeEnsurer records the sessions it was asked to subscribe and can fail a
// number of calls with errs.
type fakeEnsurer struct {
	mu       sync.Mutex
	sessions []string
	tokens   []string
	errs     []error
}

func (e *fakeEnsurer) Ensure(_ context.Context, session eventsub.Session, cred auth.Credential, _ []eventsub.Target) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessions = append(e.sessions, session.ID)
	e.tokens = append(e.tokens, cred.AccessToken)
	if len(e.errs) > 0 {
		err := e.errs[0]
		e.errs = e.errs[1:]
		return err
	}
	return nil
}

func (e *fakeEnsurer) calls() ([]string, []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.sessions), slices.Clone(e.tokens)
}

type recordingSink struct {
	posted chan notify.Message
}

func (s *recordingSink) Send(_ context.Context, msg notify.Message) error {
	s.posted <- msg
	return nil
}

type statusLog struct {
	mu       sync.Mutex
	statuses []string
}

func (l *statusLog) record(status string) {
	l.mu.Lock()
	l.statuses = append(l.statuses, status)
	l.mu.Unlock()
}

func (l *statusLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.statuses)
}

// eventsubServer runs one script per accepted connection.
type eventsubServer struct {
	*httptest.Server
	dials   atomic.Int32
	scripts []func(conn *websocket.Conn)
	reject  int32
}

func newEventsubServer(t *testing.T, reject int32, scripts ...func(conn *websocket.Conn)) *eventsubServer {
	t.Helper()
	s := &eventsubServer{scripts: scripts, reject: reject}
	upgrader := websocket.Upgrader{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := s.dials.Add(1)
		if n <= s.reject {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		index := int(n-s.reject) - 1
		if index >= len(s.scripts) {
			index = len(s.scripts) - 1
		}
		s.scripts[index](conn)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *eventsubServer) url() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func send(conn *websocket.Conn, v any) {
	data, _ := json.Marshal(v)
	_ = conn.WriteMessage(websocket.TextMessage, data)
}

func welcome(conn *websocket.Conn, sessionID string) {
	send(conn, map[string]any{
		"metadata": map[string]any{"message_id": "w-" + sessionID, "message_type": "session_welcome", "message_timestamp": time.Now().UTC()},
		"payload": map[string]any{"session": map[string]any{
			"id": sessionID, "status": "connected", "keepalive_timeout_seconds": 10, "reconnect_url": nil,
		}},
	})
}

func ban(conn *websocket.Conn, user string) {
	send(conn, map[string]any{
		"metadata": map[string]any{
			"message_id": "n-" + user, "message_type": "notification", "message_timestamp": time.Now().UTC(),
			"subscription_type": "channel.ban", "subscription_version": "1",
		},
		"payload": map[string]any{
			"subscription": map[string]any{"id": "sub-1", "type": "channel.ban", "version": "1"},
			"event": map[string]any{
				"broadcaster_user_id": "1001", "broadcaster_user_login": "owner",
				"moderator_user_login": "mod_one", "user_id": "2001", "user_login": user,
				"reason": "spam", "is_permanent": true,
			},
		},
	})
}

// holdOpen keeps the connection until the client goes away.
func holdOpen(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func newTestApp(opts config.Options, source *fakeSource, ensurer *fakeEnsurer, serverURL string, sink notify.Sink, statuses *statusLog) *RelayApp {
	logger := quietLogger()
	a := New(opts, Deps{
		Store:         auth.NewStore(source, logger),
		Dialer:        eventsub.WebsocketDialer{HandshakeTimeout: 2 * time.Second},
		Subscriptions: ensurer,
		Hub:           eventsub.NewHub(),
		Sink:          sink,
		EventSubURL:   serverURL,
	}, logger, Callbacks{OnStatusChange: statuses.record})
	a.restartDelay = 10 * time.Millisecond
	a.subscribeWindow = 100 * time.Millisecond
	return a
}

func TestRunContext_PostsEventsAndStopsOnFatalClose(t *testing.T) {
	posted := make(chan notify.Message, 4)
	delivered := make(chan struct{})
	sink := &recordingSink{posted: posted}

	srv := newEventsubServer(t, 0, func(conn *websocket.Conn) {
		welcome(conn, "session-1")
		ban(conn, "spammer")
		<-delivered
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(4003, "connection unused"))
		holdOpen(conn)
	})

	ensurer := &fakeEnsurer{}
	statuses := &statusLog{}
	a := newTestApp(config.Options{}, &fakeSource{cred: ownerCredential()}, ensurer, srv.url(), sink, statuses)

	done := make(chan error, 1)
	go func() { done <- a.RunContext(context.Background()) }()

	select {
	case msg := <-posted:
		if !strings.Contains(msg.Content, "/ban spammer spam") || msg.Username != "mod_one@twitch" {
			t.Fatalf("posted %+v", msg)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no message posted")
	}
	close(delivered)

	var err error
	select {
	case err = <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("RunContext() did not return after close frame")
	}
	var protoErr *eventsub.ProtocolError
	if !errors.As(err, &protoErr) || protoErr.CloseCode != 4003 {
		t.Fatalf("RunContext() error = %v, want close code 4003", err)
	}
	if srv.dials.Load() != 1 {
		t.Fatalf("dials = %d, want 1 (fatal close is not retried)", srv.dials.Load())
	}
	sessions, _ := ensurer.calls()
	if len(sessions) != 1 || sessions[0] != "session-1" {
		t.Fatalf("subscribed sessions = %v", sessions)
	}
	got := statuses.snapshot()
	for _, want := range []string{runstatus.Authenticated, runstatus.Streaming, runstatus.Disconnected} {
		if !slices.Contains(got, want) {
			t.Fatalf("statuses = %v, missing %q", got, want)
		}
	}
	if a.Status().Status != runstatus.Disconnected {
		t.Fatalf("final status = %q", a.Status().Status)
	}
}

func TestRunContext_RetriesHandshakeFailure(t *testing.T) {
	streaming := make(chan struct{})
	var once sync.Once
	srv := newEventsubServer(t, 1, func(conn *websocket.Conn) {
		welcome(conn, "session-2")
		holdOpen(conn)
	})

	statuses := &statusLog{}
	ensurer := &fakeEnsurer{}
	a := newTestApp(config.Options{}, &fakeSource{cred: ownerCredential()}, ensurer, srv.url(), nil, statuses)
	a.hooks.OnStatusChange = func(status string) {
		statuses.record(status)
		if status == runstatus.Streaming {
			once.Do(func() { close(streaming) })
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- a.RunContext(ctx) }()

	select {
	case <-streaming:
	case <-time.After(3 * time.Second):
		t.Fatalf("never reached streaming, statuses %v", statuses.snapshot())
	}
	if srv.dials.Load() != 2 {
		t.Fatalf("dials = %d, want 2", srv.dials.Load())
	}
	if !slices.Contains(statuses.snapshot(), runstatus.Reconnecting) {
		t.Fatalf("statuses = %v, want a Reconnecting entry", statuses.snapshot())
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunContext() error = %v, want nil on cancel", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("RunContext() did not return after cancel")
	}
}

func TestRunContext_RefreshesRejectedToken(t *testing.T) {
	streaming := make(chan struct{})
	var once sync.Once
	srv := newEventsubServer(t, 0, func(conn *websocket.Conn) {
		welcome(conn, "session-3")
		holdOpen(conn)
	})

	source := &fakeSource{cred: ownerCredential(), canRefresh: true}
	ensurer := &fakeEnsurer{errs: []error{&auth.AuthError{Op: "POST /eventsub/subscriptions", Err: &auth.HTTPStatusError{StatusCode: 401}}}}
	statuses := &statusLog{}
	a := newTestApp(config.Options{}, source, ensurer, srv.url(), nil, statuses)
	a.hooks.OnStatusChange = func(status string) {
		if status == runstatus.Streaming {
			once.Do(func() { close(streaming) })
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- a.RunContext(ctx) }()

	select {
	case <-streaming:
	case <-time.After(3 * time.Second):
		t.Fatal("never reached streaming after refresh")
	}
	if source.refreshes.Load() != 1 {
		t.Fatalf("refreshes = %d, want 1", source.refreshes.Load())
	}
	_, tokens := ensurer.calls()
	if len(tokens) != 2 || tokens[0] != "token-1" || tokens[1] != "token-refreshed" {
		t.Fatalf("subscription tokens = %v", tokens)
	}
	cancel()
	<-done
}

func TestRunContext_FatalAuthentication(t *testing.T) {
	tests := []struct {
		name   string
		source *fakeSource
		errs   []error
	}{
		{
			name:   "obtain rejected",
			source: &fakeSource{obtainErr: &auth.AuthError{Op: "validate token", Err: &auth.HTTPStatusError{StatusCode: 401}}},
		},
		{
			name:   "rejected without refresh path",
			source: &fakeSource{cred: ownerCredential()},
			errs:   []error{&auth.AuthError{Op: "POST /eventsub/subscriptions", Err: &auth.HTTPStatusError{StatusCode: 401}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newEventsubServer(t, 0, func(conn *websocket.Conn) {
				welcome(conn, "session-4")
				holdOpen(conn)
			})
			statuses := &statusLog{}
			a := newTestApp(config.Options{}, tt.source, &fakeEnsurer{errs: tt.errs}, srv.url(), nil, statuses)

			done := make(chan error, 1)
			go func() { done <- a.RunContext(context.Background()) }()
			select {
			case err := <-done:
				var authErr *auth.AuthError
				if !errors.As(err, &authErr) {
					t.Fatalf("RunContext() error = %v, want *auth.AuthError", err)
				}
			case <-time.After(3 * time.Second):
				t.Fatal("RunContext() did not stop")
			}
			if got := a.Status().Status; got != runstatus.DisconnectedAuth {
				t.Fatalf("final status = %q, want %q", got, runstatus.DisconnectedAuth)
			}
		})
	}
}
