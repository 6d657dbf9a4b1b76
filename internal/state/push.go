package state

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// PushKeys are the browser-supplied encryption keys of a Web Push
// subscription.
type PushKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// PushSubscription is one browser push endpoint for a user.
type PushSubscription struct {
	Endpoint string   `json:"endpoint"`
	Keys     PushKeys `json:"keys"`
}

// PushStore persists push subscriptions as a set of JSON blobs per
// user.
type PushStore struct {
	client *redis.Client
}

// NewPushStore builds a push subscription store.
func NewPushStore(client *redis.Client) *PushStore {
	return &PushStore{client: client}
}

func pushKey(userID string) string {
	return "push:subs:" + userID
}

// Subscribe records a subscription. Re-subscribing the same endpoint
// replaces its keys.
func (s *PushStore) Subscribe(ctx context.Context, userID string, sub PushSubscription) error {
	if sub.Endpoint == "" {
		return fmt.Errorf("subscribe push for %s: empty endpoint", userID)
	}
	// Same endpoint with rotated keys must not accumulate: drop the
	// old blob first.
	if err := s.Unsubscribe(ctx, userID, sub.Endpoint); err != nil {
		return err
	}
	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("encode push subscription for %s: %w", userID, err)
	}
	if err := s.client.SAdd(ctx, pushKey(userID), data).Err(); err != nil {
		return fmt.Errorf("subscribe push for %s: %w", userID, err)
	}
	return nil
}

// Unsubscribe removes the subscription with the given endpoint, if
// present.
func (s *PushStore) Unsubscribe(ctx context.Context, userID, endpoint string) error {
	members, err := s.client.SMembers(ctx, pushKey(userID)).Result()
	if err != nil {
		return fmt.Errorf("unsubscribe push for %s: %w", userID, err)
	}
	for _, member := range members {
		var sub PushSubscription
		if err := json.Unmarshal([]byte(member), &sub); err != nil {
			continue
		}
		if sub.Endpoint == endpoint {
			if err := s.client.SRem(ctx, pushKey(userID), member).Err(); err != nil {
				return fmt.Errorf("unsubscribe push for %s: %w", userID, err)
			}
		}
	}
	return nil
}

// List returns a user's subscriptions.
func (s *PushStore) List(ctx context.Context, userID string) ([]PushSubscription, error) {
	members, err := s.client.SMembers(ctx, pushKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list push subscriptions for %s: %w", userID, err)
	}
	subs := make([]PushSubscription, 0, len(members))
	for _, member := range members {
		var sub PushSubscription
		if err := json.Unmarshal([]byte(member), &sub); err != nil {
			return nil, fmt.Errorf("decode push subscription for %s: %w", userID, err)
		}
		subs = append(subs, sub)
	}
	return subs, nil
}
