package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"eventsub-relay/internal/logging"
)

// Identity is what the validate endpoint reports about an access token.
type Identity struct {
	ClientID  string
	UserID    string
	Login     string
	Scopes    []string
	ExpiresAt time.Time
}

type validateResponse struct {
	ClientID  string   `json:"client_id"`
	Login     string   `json:"login"`
	Scopes    []string `json:"scopes"`
	UserID    string   `json:"user_id"`
	ExpiresIn int64    `json:"expires_in"`
}

type Validator struct {
	HTTP   *http.Client
	URL    string
	Logger *logging.Logger
	Now    func() time.Time
}

// Validate asks the identity service who owns accessToken. A rejected token
// is an *AuthError wrapping *HTTPStatusError; a failed request is a
// *TransportError.
func (v Validator) Validate(ctx context.Context, accessToken string) (Identity, error) {
	req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, v.URL, nil)
	if reqErr != nil {
		return Identity{}, reqErr
	}
	req.Header.Set("Authorization", "OAuth "+strings.TrimSpace(accessToken))

	resp, respErr := v.httpClient().Do(req)
	if respErr != nil {
		return Identity{}, &TransportError{Op: "validate token", Err: respErr}
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 400 {
		body := logging.FormatHTTPPayload(data)
		if v.Logger != nil {
			v.Logger.Warn("token validation failed",
				logging.Field("status", resp.Status),
				logging.Field("response", body),
				logging.Field("token", logging.Secret(accessToken)),
			)
		}
		statusErr := &HTTPStatusError{StatusCode: resp.StatusCode, Status: resp.Status, Body: body}
		if resp.StatusCode >= 500 {
			return Identity{}, &TransportError{Op: "validate token", Err: statusErr}
		}
		return Identity{}, &AuthError{Op: "validate token", Err: statusErr}
	}

	parsed := validateResponse{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return Identity{}, &AuthError{Op: "validate token", Err: fmt.Errorf("invalid validate response: %w", err)}
	}
	if strings.TrimSpace(parsed.UserID) == "" {
		return Identity{}, &AuthError{Op: "validate token", Err: fmt.Errorf("token is not a user token (no user_id)")}
	}

	id := Identity{
		ClientID: parsed.ClientID,
		UserID:   parsed.UserID,
		Login:    parsed.Login,
		Scopes:   normalizeScopes(parsed.Scopes),
	}
	if parsed.ExpiresIn > 0 {
		id.ExpiresAt = v.now().Add(time.Duration(parsed.ExpiresIn) * time.Second)
	}
	if v.Logger != nil {
		v.Logger.Debug("token validated",
			logging.Field("login", id.Login),
			logging.Field("user_id", id.UserID),
			logging.Field("scopes", id.Scopes),
			logging.Field("expires_at", id.ExpiresAt),
		)
	}
	return id, nil
}

func (v Validator) httpClient() *http.Client {
	if v.HTTP != nil {
		return v.HTTP
	}
	return http.DefaultClient
}

func (v Validator) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}
