package auth

import (
	"context"
	"strings"
)

// StaticSource serves a pre-issued token. It validates the token once per
// Obtain and cannot refresh it.
type StaticSource struct {
	Token     string
	Validator Validator
}

func (s StaticSource) Name() string { return "static" }

func (s StaticSource) CanRefresh() bool { return false }

func (s StaticSource) Obtain(ctx context.Context) (Credential, error) {
	token := strings.TrimSpace(s.Token)
	id, err := s.Validator.Validate(ctx, token)
	if err != nil {
		return Credential{}, err
	}
	return Credential{AccessToken: token}.withIdentity(id), nil
}

func (s StaticSource) Refresh(context.Context, Credential) (Credential, error) {
	return Credential{}, &AuthError{Op: "refresh static token", Err: ErrNoRefresh}
}
