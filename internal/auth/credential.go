package auth

import (
	"context"
	"slices"
	"strings"
	"time"
)

// Credential is an access token together with what validating it revealed.
// A zero ExpiresAt means the service did not report an expiry.
type Credential struct {
	AccessToken  string
	RefreshToken string
	ClientID     string
	UserID       string
	Login        string
	Scopes       []string
	ExpiresAt    time.Time
}

// ExpiresWithin reports whether the token expires before now+margin.
func (c Credential) ExpiresWithin(now time.Time, margin time.Duration) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(margin).Before(c.ExpiresAt)
}

// ScopeRequirement is met by any one of its scopes, e.g. the read or the
// manage variant of the same permission.
type ScopeRequirement []string

func (r ScopeRequirement) String() string {
	return strings.Join(r, "|")
}

// AllOf makes each scope a requirement of its own.
func AllOf(scopes ...string) []ScopeRequirement {
	out := make([]ScopeRequirement, 0, len(scopes))
	for _, scope := range scopes {
		out = append(out, ScopeRequirement{scope})
	}
	return out
}

// MissingScopes returns the requirements the credential does not meet, each
// rendered with its alternatives separated by "|".
func (c Credential) MissingScopes(required []ScopeRequirement) []string {
	var missing []string
	for _, req := range required {
		if slices.ContainsFunc(req, func(scope string) bool { return slices.Contains(c.Scopes, scope) }) {
			continue
		}
		if name := req.String(); !slices.Contains(missing, name) {
			missing = append(missing, name)
		}
	}
	return missing
}

// RequireScopes fails with a *MissingScopeError matching ErrInsufficientScope
// when any requirement is unmet.
func (c Credential) RequireScopes(required []ScopeRequirement) error {
	if missing := c.MissingScopes(required); len(missing) > 0 {
		return &MissingScopeError{Missing: missing}
	}
	return nil
}

func (c Credential) withIdentity(id Identity) Credential {
	c.ClientID = id.ClientID
	c.UserID = id.UserID
	c.Login = id.Login
	c.Scopes = id.Scopes
	c.ExpiresAt = id.ExpiresAt
	return c
}

// Source produces credentials for one configured mode.
type Source interface {
	Name() string
	Obtain(ctx context.Context) (Credential, error)
	Refresh(ctx context.Context, existing Credential) (Credential, error)
	CanRefresh() bool
}

// Announcer delivers a human-readable message through the notification
// side-channel, e.g. the device authorization code.
type Announcer interface {
	Announce(ctx context.Context, message string) error
}

func normalizeScopes(scopes []string) []string {
	out := make([]string, 0, len(scopes))
	for _, scope := range scopes {
		scope = strings.TrimSpace(scope)
		if scope != "" && !slices.Contains(out, scope) {
			out = append(out, scope)
		}
	}
	slices.Sort(out)
	return out
}
