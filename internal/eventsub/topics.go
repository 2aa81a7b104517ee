package eventsub

import (
	"fmt"
	"slices"
	"sort"

	"eventsub-relay/internal/auth"
)

// Topic describes one subscription type: the version this client decodes,
// the scopes the token needs and whether the condition names a moderator.
// The first alternative of each scope requirement is the one requested
// during authorization.
type Topic struct {
	Type           string
	Version        string
	Scopes         []auth.ScopeRequirement
	NeedsModerator bool
}

// readOrManage accepts the read or the manage variant of a moderator scope.
func readOrManage(permission string) auth.ScopeRequirement {
	return auth.ScopeRequirement{"moderator:read:" + permission, "moderator:manage:" + permission}
}

var topics = map[string]Topic{
	"channel.moderate": {
		Type:    "channel.moderate",
		Version: "2",
		Scopes: []auth.ScopeRequirement{
			readOrManage("blocked_terms"),
			readOrManage("chat_settings"),
			readOrManage("unban_requests"),
			readOrManage("banned_users"),
			readOrManage("chat_messages"),
			readOrManage("warnings"),
			{"moderator:read:moderators"},
			{"moderator:read:vips"},
		},
		NeedsModerator: true,
	},
	"channel.ban": {
		Type:    "channel.ban",
		Version: "1",
		Scopes:  auth.AllOf("channel:moderate"),
	},
	"channel.unban": {
		Type:    "channel.unban",
		Version: "1",
		Scopes:  auth.AllOf("channel:moderate"),
	},
	"channel.unban_request.resolve": {
		Type:           "channel.unban_request.resolve",
		Version:        "1",
		Scopes:         []auth.ScopeRequirement{readOrManage("unban_requests")},
		NeedsModerator: true,
	},
	"channel.vip.add": {
		Type:    "channel.vip.add",
		Version: "1",
		Scopes:  auth.AllOf("channel:read:vips"),
	},
	"automod.message.hold": {
		Type:           "automod.message.hold",
		Version:        "1",
		Scopes:         auth.AllOf("moderator:manage:automod"),
		NeedsModerator: true,
	},
}

func LookupTopic(name string) (Topic, bool) {
	topic, ok := topics[name]
	return topic, ok
}

// DefaultTopics is the moderation set subscribed when none is configured.
func DefaultTopics() []string {
	return []string{
		"channel.moderate",
		"channel.unban_request.resolve",
		"automod.message.hold",
	}
}

// ValidateTopics rejects names this client cannot decode.
func ValidateTopics(names []string) error {
	for _, name := range names {
		if _, ok := topics[name]; !ok {
			known := make([]string, 0, len(topics))
			for key := range topics {
				known = append(known, key)
			}
			sort.Strings(known)
			return fmt.Errorf("unsupported topic %q (supported: %v)", name, known)
		}
	}
	return nil
}

// RequiredScopes is the union of scope requirements of the named topics.
func RequiredScopes(names []string) []auth.ScopeRequirement {
	var required []auth.ScopeRequirement
	for _, name := range names {
		for _, req := range topics[name].Scopes {
			if !slices.ContainsFunc(required, func(have auth.ScopeRequirement) bool { return slices.Equal(have, req) }) {
				required = append(required, req)
			}
		}
	}
	return required
}

// RequestedScopes are the scopes to ask for when authorizing the named
// topics.
func RequestedScopes(names []string) []string {
	var scopes []string
	for _, req := range RequiredScopes(names) {
		if len(req) > 0 && !slices.Contains(scopes, req[0]) {
			scopes = append(scopes, req[0])
		}
	}
	slices.Sort(scopes)
	return scopes
}

func (t Topic) condition(broadcasterID, moderatorID string) map[string]string {
	condition := map[string]string{conditionBroadcaster: broadcasterID}
	if t.NeedsModerator {
		condition[conditionModerator] = moderatorID
	}
	return condition
}
