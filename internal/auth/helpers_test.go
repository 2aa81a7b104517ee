package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// identityServer answers /validate for any token listed in tokens.
type identityServer struct {
	mu     sync.Mutex
	tokens map[string]validateResponse
	calls  int
}

func newIdentityServer(t *testing.T) (*identityServer, *httptest.Server) {
	t.Helper()
	ids := &identityServer{tokens: map[string]validateResponse{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "OAuth ")
		ids.mu.Lock()
		ids.calls++
		resp, ok := ids.tokens[token]
		ids.mu.Unlock()
		if !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"status":401,"message":"invalid access token"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return ids, srv
}

func (s *identityServer) allow(token string, resp validateResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = resp
}

func userIdentity(login string, expiresIn int64, scopes ...string) validateResponse {
	return validateResponse{
		ClientID:  "client-1",
		Login:     login,
		UserID:    "u-" + login,
		Scopes:    scopes,
		ExpiresIn: expiresIn,
	}
}
