package eventsub

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"eventsub-relay/internal/auth"
	"eventsub-relay/internal/logging"
)

// SubscriptionAPI is the part of HelixClient the Subscriber needs.
type SubscriptionAPI interface {
	ListSubscriptions(ctx context.Context, cred auth.Credential, status string) ([]Subscription, error)
	CreateSubscription(ctx context.Context, cred auth.Credential, req CreateRequest) (Subscription, error)
}

// Subscriber makes sure every target topic is subscribed on a session.
type Subscriber struct {
	API    SubscriptionAPI
	Logger *logging.Logger
}

// Ensure checks scopes for every target before any call, then creates the
// subscriptions that are not already enabled for session. Creating an
// existing subscription is never attempted.
func (s Subscriber) Ensure(ctx context.Context, session Session, cred auth.Credential, targets []Target) error {
	var required []auth.ScopeRequirement
	for _, target := range targets {
		for _, name := range target.Topics {
			topic, ok := LookupTopic(name)
			if !ok {
				return &SubscriptionError{Type: name, BroadcasterID: target.BroadcasterID, Err: fmt.Errorf("unsupported topic")}
			}
			required = append(required, topic.Scopes...)
		}
	}
	if err := cred.RequireScopes(required); err != nil {
		return &AuthError{Op: "check subscription scopes", Err: err}
	}

	existing, err := s.API.ListSubscriptions(ctx, cred, StatusEnabled)
	if err != nil {
		return &SubscriptionError{Err: fmt.Errorf("list subscriptions: %w", err)}
	}
	present := map[string]bool{}
	for _, sub := range existing {
		if sub.Status != StatusEnabled || sub.Transport.Method != TransportWebsocket || sub.Transport.SessionID != session.ID {
			continue
		}
		present[subscriptionKey(sub.Type, sub.Version, sub.Condition[conditionBroadcaster])] = true
	}

	created := 0
	for _, target := range targets {
		for _, name := range target.Topics {
			topic, _ := LookupTopic(name)
			key := subscriptionKey(topic.Type, topic.Version, target.BroadcasterID)
			if present[key] {
				s.Logger.Debug("subscription already present",
					logging.Field("type", topic.Type),
					logging.Field("broadcaster_id", target.BroadcasterID),
				)
				continue
			}
			req := CreateRequest{
				Type:      topic.Type,
				Version:   topic.Version,
				Condition: topic.condition(target.BroadcasterID, cred.UserID),
				Transport: Transport{Method: TransportWebsocket, SessionID: session.ID},
			}
			sub, err := s.API.CreateSubscription(ctx, cred, req)
			if err != nil {
				if isConflict(err) {
					present[key] = true
					continue
				}
				return &SubscriptionError{Type: topic.Type, BroadcasterID: target.BroadcasterID, Err: err}
			}
			present[key] = true
			created++
			s.Logger.Debug("subscription created",
				logging.Field("id", sub.ID),
				logging.Field("type", sub.Type),
				logging.Field("broadcaster_id", target.BroadcasterID),
			)
		}
	}
	s.Logger.Info("subscriptions asserted",
		logging.Field("session_id", session.ID),
		logging.Field("created", created),
		logging.Field("targets", len(targets)),
	)
	return nil
}

func subscriptionKey(subType, version, broadcasterID string) string {
	return strings.Join([]string{subType, version, broadcasterID}, "|")
}

// isConflict reports the API refusing a duplicate subscription.
func isConflict(err error) bool {
	var statusErr *HTTPStatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusConflict
}
