package app

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"eventsub-relay/internal/auth"
	"eventsub-relay/internal/config"
	"eventsub-relay/internal/eventsub"
	"eventsub-relay/internal/runstatus"
)

type fakeResolver struct {
	users []eventsub.HelixUser
	err   error
	asked []string
}

func (r *fakeResolver) ResolveUsers(_ context.Context, _ auth.Credential, logins []string) ([]eventsub.HelixUser, error) {
	r.asked = append(r.asked, logins...)
	return r.users, r.err
}

func TestResolveTargets(t *testing.T) {
	resolver := &fakeResolver{users: []eventsub.HelixUser{{ID: "3003", Login: "otherchannel"}}}
	tests := []struct {
		name    string
		opts    config.Options
		cred    func(auth.Credential) auth.Credential
		wantIDs []string
		topics  []string
		wantErr string
	}{
		{
			name:    "defaults to token owner",
			wantIDs: []string{"1001"},
			topics:  eventsub.DefaultTopics(),
		},
		{
			name:    "ids and logins in order without duplicates",
			opts:    config.Options{ChannelIDs: []string{" 2002 ", "2002", ""}, ChannelLogins: []string{"OtherChannel"}},
			wantIDs: []string{"2002", "3003"},
			topics:  eventsub.DefaultTopics(),
		},
		{
			name:    "explicit topics",
			opts:    config.Options{Topics: []string{"channel.ban"}},
			wantIDs: []string{"1001"},
			topics:  []string{"channel.ban"},
		},
		{
			name: "manage scopes satisfy moderate",
			opts: config.Options{Topics: []string{"channel.moderate"}},
			cred: func(c auth.Credential) auth.Credential {
				c.Scopes = []string{
					"moderator:manage:blocked_terms", "moderator:manage:chat_settings", "moderator:manage:unban_requests",
					"moderator:manage:banned_users", "moderator:manage:chat_messages", "moderator:manage:warnings",
					"moderator:read:moderators", "moderator:read:vips",
				}
				return c
			},
			wantIDs: []string{"1001"},
			topics:  []string{"channel.moderate"},
		},
		{
			name:    "unknown login",
			opts:    config.Options{ChannelLogins: []string{"nobody"}},
			wantErr: `channel "nobody" not found`,
		},
		{
			name:    "unsupported topic",
			opts:    config.Options{Topics: []string{"channel.follow"}},
			wantErr: "channel.follow",
		},
		{
			name:    "no owner",
			cred:    func(c auth.Credential) auth.Credential { c.UserID = ""; return c },
			wantErr: "no channel configured",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cred := ownerCredential()
			if tt.cred != nil {
				cred = tt.cred(cred)
			}
			a := &RelayApp{opts: tt.opts, deps: Deps{Users: resolver}, logger: quietLogger()}
			targets, err := a.resolveTargets(context.Background(), cred)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("resolveTargets() error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("resolveTargets() error = %v", err)
			}
			var ids []string
			for _, target := range targets {
				ids = append(ids, target.BroadcasterID)
				if !slices.Equal(target.Topics, tt.topics) {
					t.Fatalf("topics for %s = %v, want %v", target.BroadcasterID, target.Topics, tt.topics)
				}
			}
			if !slices.Equal(ids, tt.wantIDs) {
				t.Fatalf("resolveTargets() ids = %v, want %v", ids, tt.wantIDs)
			}
		})
	}
}

func TestResolveTargets_InsufficientScope(t *testing.T) {
	cred := ownerCredential()
	cred.Scopes = []string{"moderator:read:banned_users"}
	a := &RelayApp{logger: quietLogger()}

	_, err := a.resolveTargets(context.Background(), cred)
	if !errors.Is(err, auth.ErrInsufficientScope) {
		t.Fatalf("resolveTargets() error = %v, want ErrInsufficientScope", err)
	}
	if got := statusFor(err); got != runstatus.DisconnectedAuth {
		t.Fatalf("statusFor() = %q, want %q", got, runstatus.DisconnectedAuth)
	}
}

func TestResolveTargets_ResolverFailure(t *testing.T) {
	a := &RelayApp{
		opts:   config.Options{ChannelLogins: []string{"somebody"}},
		deps:   Deps{Users: &fakeResolver{err: errors.New("boom")}},
		logger: quietLogger(),
	}
	if _, err := a.resolveTargets(context.Background(), ownerCredential()); err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("resolveTargets() error = %v, want resolver failure", err)
	}

	a.deps.Users = nil
	if _, err := a.resolveTargets(context.Background(), ownerCredential()); err == nil {
		t.Fatal("resolveTargets() without resolver should fail for logins")
	}
}
