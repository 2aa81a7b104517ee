package eventsub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"eventsub-relay/internal/auth"
	"eventsub-relay/internal/logging"
)

// HelixClient talks to the subscription and user endpoints of the API.
type HelixClient struct {
	HTTP    *http.Client
	BaseURL string
	Logger  *logging.Logger
}

type CreateRequest struct {
	Type      string            `json:"type"`
	Version   string            `json:"version"`
	Condition map[string]string `json:"condition"`
	Transport Transport         `json:"transport"`
}

type subscriptionPage struct {
	Data       []Subscription `json:"data"`
	Pagination struct {
		Cursor string `json:"cursor"`
	} `json:"pagination"`
}

type HelixUser struct {
	ID          string `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
}

// ListSubscriptions returns every subscription visible to the credential,
// following pagination. An empty status lists all of them.
func (h HelixClient) ListSubscriptions(ctx context.Context, cred auth.Credential, status string) ([]Subscription, error) {
	var all []Subscription
	cursor := ""
	for {
		query := url.Values{}
		if status != "" {
			query.Set("status", status)
		}
		if cursor != "" {
			query.Set("after", cursor)
		}
		page := subscriptionPage{}
		if err := h.do(ctx, cred, http.MethodGet, "/eventsub/subscriptions", query, nil, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Data...)
		if page.Pagination.Cursor == "" || page.Pagination.Cursor == cursor {
			return all, nil
		}
		cursor = page.Pagination.Cursor
	}
}

func (h HelixClient) CreateSubscription(ctx context.Context, cred auth.Credential, req CreateRequest) (Subscription, error) {
	page := subscriptionPage{}
	if err := h.do(ctx, cred, http.MethodPost, "/eventsub/subscriptions", nil, req, &page); err != nil {
		return Subscription{}, err
	}
	if len(page.Data) == 0 {
		return Subscription{}, fmt.Errorf("create subscription %s: empty response", req.Type)
	}
	return page.Data[0], nil
}

// ResolveUsers looks up user ids for logins.
func (h HelixClient) ResolveUsers(ctx context.Context, cred auth.Credential, logins []string) ([]HelixUser, error) {
	query := url.Values{}
	for _, login := range logins {
		login = strings.ToLower(strings.TrimSpace(login))
		if login != "" {
			query.Add("login", login)
		}
	}
	if len(query) == 0 {
		return nil, nil
	}
	resp := struct {
		Data []HelixUser `json:"data"`
	}{}
	if err := h.do(ctx, cred, http.MethodGet, "/users", query, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (h HelixClient) do(ctx context.Context, cred auth.Credential, method, path string, query url.Values, body any, out any) error {
	endpoint := strings.TrimRight(h.BaseURL, "/") + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}
	req, reqErr := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if reqErr != nil {
		return reqErr
	}
	req.Header.Set("Client-Id", cred.ClientID)
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := h.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, respErr := client.Do(req)
	if respErr != nil {
		return &TransportError{Op: method + " " + path, Err: respErr}
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if resp.StatusCode >= 400 {
		formatted := logging.FormatHTTPPayload(data)
		h.Logger.Warn("helix request failed",
			logging.Field("method", method),
			logging.Field("path", path),
			logging.Field("status", resp.Status),
			logging.Field("response", formatted),
		)
		statusErr := &HTTPStatusError{StatusCode: resp.StatusCode, Status: resp.Status, Body: formatted}
		if resp.StatusCode == http.StatusUnauthorized {
			return &AuthError{Op: method + " " + path, Err: statusErr}
		}
		return statusErr
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
