package auth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"eventsub-relay/internal/logging"
)

// ServiceSource fetches tokens from an HTTP service that owns the refresh
// logic. Refreshing simply asks the service again.
type ServiceSource struct {
	HTTP      *http.Client
	URL       string
	Key       string
	Pointer   string
	Validator Validator
	Logger    *logging.Logger
}

func (s ServiceSource) Name() string { return "service" }

func (s ServiceSource) CanRefresh() bool { return true }

func (s ServiceSource) Obtain(ctx context.Context) (Credential, error) {
	token, err := s.fetch(ctx)
	if err != nil {
		return Credential{}, err
	}
	id, err := s.Validator.Validate(ctx, token)
	if err != nil {
		return Credential{}, err
	}
	return Credential{AccessToken: token}.withIdentity(id), nil
}

func (s ServiceSource) Refresh(ctx context.Context, _ Credential) (Credential, error) {
	return s.Obtain(ctx)
}

func (s ServiceSource) fetch(ctx context.Context) (string, error) {
	if s.Logger != nil {
		s.Logger.Debug("requesting token from service", logging.Field("url", s.URL))
	}
	req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if reqErr != nil {
		return "", reqErr
	}
	if key := strings.TrimSpace(s.Key); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	req.Header.Set("Accept", "application/json")

	client := s.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, respErr := client.Do(req)
	if respErr != nil {
		return "", &TransportError{Op: "fetch token from service", Err: respErr}
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body := logging.FormatHTTPPayload(data)
		if s.Logger != nil {
			s.Logger.Warn("token service request failed",
				logging.Field("status", resp.Status),
				logging.Field("response", body),
			)
		}
		return "", &AuthError{
			Op:  "fetch token from service",
			Err: &HTTPStatusError{StatusCode: resp.StatusCode, Status: resp.Status, Body: body},
		}
	}

	if !gjson.ValidBytes(data) {
		return "", &AuthError{Op: "fetch token from service", Err: fmt.Errorf("response is not JSON: %s", logging.FormatHTTPPayload(data))}
	}
	path := pointerToPath(s.Pointer)
	result := gjson.ParseBytes(data)
	if path != "" {
		result = result.Get(path)
	}
	if !result.Exists() {
		return "", &AuthError{Op: "fetch token from service", Err: fmt.Errorf("no value at %q", s.Pointer)}
	}
	if result.Type != gjson.String || strings.TrimSpace(result.Str) == "" {
		return "", &AuthError{Op: "fetch token from service", Err: fmt.Errorf("value at %q is not a token string", s.Pointer)}
	}
	return strings.TrimSpace(result.Str), nil
}

// pointerToPath turns an RFC 6901 JSON pointer into a gjson path. The empty
// pointer addresses the whole document and yields "".
func pointerToPath(pointer string) string {
	pointer = strings.TrimPrefix(pointer, "/")
	if pointer == "" {
		return ""
	}
	segments := strings.Split(pointer, "/")
	for i, segment := range segments {
		segment = strings.ReplaceAll(segment, "~1", "/")
		segment = strings.ReplaceAll(segment, "~0", "~")
		segments[i] = escapePathSegment(segment)
	}
	return strings.Join(segments, ".")
}

func escapePathSegment(segment string) string {
	var b strings.Builder
	for _, r := range segment {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\', '!', '=', '<', '>', '%':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
