package app

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"eventsub-relay/internal/auth"
	"eventsub-relay/internal/eventsub"
)

// resolveTargets builds the subscription targets from the configured
// channels and topics. Without channels the token owner's channel is used.
func (a *RelayApp) resolveTargets(ctx context.Context, cred auth.Credential) ([]eventsub.Target, error) {
	topics := cleanList(a.opts.Topics)
	if len(topics) == 0 {
		topics = eventsub.DefaultTopics()
	}
	if err := eventsub.ValidateTopics(topics); err != nil {
		return nil, err
	}
	if err := cred.RequireScopes(eventsub.RequiredScopes(topics)); err != nil {
		return nil, &auth.AuthError{Op: "check topic scopes", Err: err}
	}

	ids := cleanList(a.opts.ChannelIDs)
	if logins := cleanList(a.opts.ChannelLogins); len(logins) > 0 {
		resolved, err := a.resolveLogins(ctx, cred, logins)
		if err != nil {
			return nil, err
		}
		ids = append(ids, resolved...)
	}
	if len(ids) == 0 {
		if cred.UserID == "" {
			return nil, fmt.Errorf("no channel configured and the token has no owner")
		}
		ids = []string{cred.UserID}
	}

	targets := make([]eventsub.Target, 0, len(ids))
	for _, id := range ids {
		targets = append(targets, eventsub.Target{BroadcasterID: id, Topics: slices.Clone(topics)})
	}
	return targets, nil
}

func (a *RelayApp) resolveLogins(ctx context.Context, cred auth.Credential, logins []string) ([]string, error) {
	if a.deps.Users == nil {
		return nil, fmt.Errorf("cannot resolve channel logins without a user resolver")
	}
	users, err := a.deps.Users.ResolveUsers(ctx, cred, logins)
	if err != nil {
		return nil, fmt.Errorf("resolve channel logins: %w", err)
	}
	byLogin := make(map[string]string, len(users))
	for _, user := range users {
		byLogin[strings.ToLower(user.Login)] = user.ID
	}
	ids := make([]string, 0, len(logins))
	for _, login := range logins {
		id, ok := byLogin[strings.ToLower(login)]
		if !ok {
			return nil, fmt.Errorf("channel %q not found", login)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// cleanList trims entries and drops empties and duplicates, keeping order.
func cleanList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value != "" && !slices.Contains(out, value) {
			out = append(out, value)
		}
	}
	return out
}
