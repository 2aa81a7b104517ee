package auth

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"

	"eventsub-relay/internal/logging"
)

const deviceCodeGrantType = "urn:ietf:params:oauth:grant-type:device_code"

// DeviceSource authorizes through the OAuth2 device flow and keeps the
// resulting tokens in File. Obtain reuses or refreshes the stored token and
// only falls back to interactive authorization when that fails.
type DeviceSource struct {
	HTTP         *http.Client
	ClientID     string
	ClientSecret string
	Scopes       []string
	DeviceURL    string
	TokenURL     string
	Validator    Validator
	File         TokenFile
	Announcer    Announcer
	Margin       time.Duration
	Logger       *logging.Logger
	Now          func() time.Time

	pollInterval time.Duration
}

func (d *DeviceSource) Name() string { return "device" }

func (d *DeviceSource) CanRefresh() bool { return true }

func (d *DeviceSource) Obtain(ctx context.Context) (Credential, error) {
	cred, err := d.fromFile(ctx)
	if err == nil {
		return d.ensureFresh(ctx, cred), nil
	}
	if ctx.Err() != nil {
		return Credential{}, ctx.Err()
	}
	if errors.Is(err, fs.ErrNotExist) {
		d.Logger.Info("no stored token, starting device authorization", logging.Field("path", d.File.Path))
	} else {
		d.Logger.Warn("stored token unusable, starting device authorization",
			logging.Field("path", d.File.Path),
			logging.Field("error", err),
		)
	}
	return d.Authorize(ctx)
}

func (d *DeviceSource) Refresh(ctx context.Context, existing Credential) (Credential, error) {
	if strings.TrimSpace(existing.RefreshToken) == "" {
		return Credential{}, &AuthError{Op: "refresh device token", Err: ErrNoRefresh}
	}
	cred, err := d.refresh(ctx, existing.RefreshToken)
	if err != nil {
		return Credential{}, err
	}
	return d.ensureFresh(ctx, cred), nil
}

// Authorize runs the interactive device flow: request a device code,
// announce where to enter it, poll until the user approves, then persist.
func (d *DeviceSource) Authorize(ctx context.Context) (Credential, error) {
	cfg := d.config()
	octx := d.oauthContext(ctx)

	resp, err := cfg.DeviceAuth(octx, d.scopesParam())
	if err != nil {
		return Credential{}, classifyOAuthError("request device code", err)
	}
	link := resp.VerificationURIComplete
	if link == "" {
		link = resp.VerificationURI
	}
	d.announce(ctx, fmt.Sprintf("Authorization required: open %s and enter the code %s", link, resp.UserCode))

	tok, err := d.poll(ctx, cfg, resp)
	if err != nil {
		return Credential{}, err
	}
	cred, err := d.complete(ctx, tok)
	if err != nil {
		return Credential{}, err
	}
	d.announce(ctx, fmt.Sprintf("Authenticated successfully as %s", cred.Login))
	return cred, nil
}

func (d *DeviceSource) fromFile(ctx context.Context) (Credential, error) {
	stored, err := d.File.Load()
	if err != nil {
		return Credential{}, err
	}
	if stored.AccessToken != "" {
		id, err := d.Validator.Validate(ctx, stored.AccessToken)
		if err == nil {
			cred := Credential{AccessToken: stored.AccessToken, RefreshToken: stored.RefreshToken}.withIdentity(id)
			if cred.RequireScopes(AllOf(d.Scopes...)) == nil {
				d.Logger.Debug("reusing stored token", logging.Field("login", cred.Login))
				return cred, nil
			}
		}
	}
	if strings.TrimSpace(stored.RefreshToken) == "" {
		return Credential{}, &AuthError{Op: "load stored token", Err: ErrNoRefresh}
	}
	cred, err := d.refresh(ctx, stored.RefreshToken)
	if err != nil {
		return Credential{}, err
	}
	if err := cred.RequireScopes(AllOf(d.Scopes...)); err != nil {
		return Credential{}, &AuthError{Op: "load stored token", Err: err}
	}
	return cred, nil
}

// ensureFresh refreshes once more when a freshly obtained token is already
// inside the refresh margin.
func (d *DeviceSource) ensureFresh(ctx context.Context, cred Credential) Credential {
	if !cred.ExpiresWithin(d.now(), d.Margin) || cred.RefreshToken == "" {
		return cred
	}
	refreshed, err := d.refresh(ctx, cred.RefreshToken)
	if err != nil {
		d.Logger.Warn("token expires soon and could not be refreshed", logging.Field("error", err))
		return cred
	}
	return refreshed
}

func (d *DeviceSource) refresh(ctx context.Context, refreshToken string) (Credential, error) {
	d.Logger.Debug("refreshing device token", logging.Field("refresh_token", logging.Secret(refreshToken)))
	src := d.config().TokenSource(d.oauthContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return Credential{}, classifyOAuthError("refresh device token", err)
	}
	return d.complete(ctx, tok)
}

func (d *DeviceSource) complete(ctx context.Context, tok *oauth2.Token) (Credential, error) {
	id, err := d.Validator.Validate(ctx, tok.AccessToken)
	if err != nil {
		return Credential{}, err
	}
	cred := Credential{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken}.withIdentity(id)
	if err := d.File.Save(StoredToken{AccessToken: cred.AccessToken, RefreshToken: cred.RefreshToken}); err != nil {
		return Credential{}, fmt.Errorf("persist token: %w", err)
	}
	return cred, nil
}

func (d *DeviceSource) poll(ctx context.Context, cfg *oauth2.Config, resp *oauth2.DeviceAuthResponse) (*oauth2.Token, error) {
	interval := time.Duration(resp.Interval) * time.Second
	if d.pollInterval > 0 {
		interval = d.pollInterval
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	for {
		if !resp.Expiry.IsZero() && d.now().After(resp.Expiry) {
			return nil, &AuthError{Op: "device authorization", Err: errors.New("device code expired before it was approved")}
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		tok, err := cfg.Exchange(d.oauthContext(ctx), "",
			oauth2.SetAuthURLParam("grant_type", deviceCodeGrantType),
			oauth2.SetAuthURLParam("device_code", resp.DeviceCode),
			d.scopesParam(),
		)
		if err == nil {
			return tok, nil
		}
		switch pollErrorCode(err) {
		case "authorization_pending":
			continue
		case "slow_down":
			interval += time.Second
			continue
		}
		return nil, classifyOAuthError("device authorization", err)
	}
}

// pollErrorCode reads the RFC 8628 error code, falling back to the "message"
// field Twitch uses instead of "error".
func pollErrorCode(err error) string {
	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) {
		return ""
	}
	if retrieveErr.ErrorCode != "" {
		return retrieveErr.ErrorCode
	}
	return gjson.GetBytes(retrieveErr.Body, "message").String()
}

func classifyOAuthError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		statusErr := &HTTPStatusError{Body: logging.FormatHTTPPayload(retrieveErr.Body)}
		if retrieveErr.Response != nil {
			statusErr.StatusCode = retrieveErr.Response.StatusCode
			statusErr.Status = retrieveErr.Response.Status
		}
		if statusErr.StatusCode >= 500 {
			return &TransportError{Op: op, Err: statusErr}
		}
		return &AuthError{Op: op, Err: statusErr}
	}
	return &TransportError{Op: op, Err: err}
}

func (d *DeviceSource) config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     d.ClientID,
		ClientSecret: d.ClientSecret,
		Scopes:       d.Scopes,
		Endpoint: oauth2.Endpoint{
			DeviceAuthURL: d.DeviceURL,
			TokenURL:      d.TokenURL,
			AuthStyle:     oauth2.AuthStyleInParams,
		},
	}
}

func (d *DeviceSource) scopesParam() oauth2.AuthCodeOption {
	return oauth2.SetAuthURLParam("scopes", strings.Join(d.Scopes, " "))
}

func (d *DeviceSource) oauthContext(ctx context.Context) context.Context {
	if d.HTTP == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, d.HTTP)
}

func (d *DeviceSource) announce(ctx context.Context, message string) {
	d.Logger.Info(message)
	if d.Announcer == nil {
		return
	}
	if err := d.Announcer.Announce(ctx, message); err != nil {
		d.Logger.Warn("announce failed", logging.Field("error", err))
	}
}

func (d *DeviceSource) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}
