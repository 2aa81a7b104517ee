package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/tidwall/gjson"

	"eventsub-relay/internal/logging"
)

const (
	defaultMaxTries      = 4
	defaultRetryInterval = 500 * time.Millisecond
	maxContentLength     = 2000
)

// Sink delivers rendered messages.
type Sink interface {
	Send(ctx context.Context, msg Message) error
}

// Webhook posts messages to a Discord-style webhook. Rate limits and server
// errors are retried; a Retry-After hint replaces the backoff delay.
type Webhook struct {
	HTTP     *http.Client
	URL      string
	Username string
	MaxTries uint
	Interval time.Duration
	Logger   *logging.Logger
}

// WebhookError is a post the webhook rejected.
type WebhookError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *WebhookError) Error() string {
	if e.Body == "" {
		return "webhook rejected message: " + e.Status
	}
	return "webhook rejected message: " + e.Status + ": " + e.Body
}

func (e *WebhookError) retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

func (w Webhook) Send(ctx context.Context, msg Message) error {
	if msg.Username == "" {
		msg.Username = w.Username
	}
	if runes := []rune(msg.Content); len(runes) > maxContentLength {
		msg.Content = string(runes[:maxContentLength-1]) + "…"
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	tries := w.MaxTries
	if tries == 0 {
		tries = defaultMaxTries
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = w.Interval
	if policy.InitialInterval <= 0 {
		policy.InitialInterval = defaultRetryInterval
	}
	policy.Reset()

	var lastErr error
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		postErr := w.post(ctx, body)
		if postErr == nil {
			return struct{}{}, nil
		}
		lastErr = postErr
		var rejected *rejection
		if errors.As(postErr, &rejected) {
			if !rejected.err.retryable() {
				return struct{}{}, backoff.Permanent(rejected.err)
			}
			if rejected.retryAfter > 0 {
				return struct{}{}, &backoff.RetryAfterError{Duration: rejected.retryAfter}
			}
			return struct{}{}, rejected.err
		}
		return struct{}{}, postErr
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(tries),
		backoff.WithNotify(func(err error, next time.Duration) {
			w.Logger.Debug("retrying webhook post",
				logging.Field("error", lastErr),
				logging.Field("next_retry", next.String()),
			)
		}),
	)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var rejected *rejection
	if errors.As(lastErr, &rejected) {
		return rejected.err
	}
	if lastErr != nil {
		return lastErr
	}
	return err
}

// Announce posts a plain notice. It lets the webhook carry device
// authorization prompts.
func (w Webhook) Announce(ctx context.Context, text string) error {
	return w.Send(ctx, Message{Content: text, Username: w.Username})
}

// rejection carries a non-2xx answer together with its retry hint.
type rejection struct {
	err        *WebhookError
	retryAfter time.Duration
}

func (r *rejection) Error() string { return r.err.Error() }

func (w Webhook) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := w.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	if resp.StatusCode < 400 {
		return nil
	}

	formatted := logging.FormatHTTPPayload(data)
	w.Logger.Warn("webhook post rejected",
		logging.Field("status", resp.Status),
		logging.Field("response", formatted),
	)
	return &rejection{
		err:        &WebhookError{StatusCode: resp.StatusCode, Status: resp.Status, Body: formatted},
		retryAfter: retryAfter(resp.Header, data),
	}
}

// retryAfter reads the delay from the Retry-After header, falling back to the
// retry_after field of a JSON body. Both are seconds and may be fractional.
func retryAfter(header http.Header, body []byte) time.Duration {
	if value := strings.TrimSpace(header.Get("Retry-After")); value != "" {
		if seconds, err := strconv.ParseFloat(value, 64); err == nil && seconds > 0 {
			return time.Duration(seconds * float64(time.Second))
		}
	}
	if gjson.ValidBytes(body) {
		if seconds := gjson.GetBytes(body, "retry_after").Float(); seconds > 0 {
			return time.Duration(seconds * float64(time.Second))
		}
	}
	return 0
}
