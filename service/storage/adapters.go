package storage

import (
	"context"
	"time"
)

// Thin types over the package functions so callers can depend on small
// interfaces and tests can swap in fakes.

type RedisPresenceStore struct{}

func (RedisPresenceStore) Online(ctx context.Context, user, gatewayID string, ttl time.Duration) error {
	return PresenceOnline(ctx, user, gatewayID, ttl)
}

func (RedisPresenceStore) Renew(ctx context.Context, user string, ttl time.Duration) error {
	return PresenceRenew(ctx, user, ttl)
}

func (RedisPresenceStore) Offline(ctx context.Context, user string) error {
	return PresenceOffline(ctx, user)
}

func (RedisPresenceStore) Lookup(ctx context.Context, user string) (string, bool, error) {
	return PresenceLookup(ctx, user)
}

type RedisOfflineQueue struct{}

func (RedisOfflineQueue) Enqueue(ctx context.Context, user, from string, payload []byte) error {
	return EnqueueOffline(ctx, user, from, payload)
}

func (RedisOfflineQueue) Fetch(ctx context.Context, user string, n int) ([]OfflineMsg, error) {
	return FetchOffline(ctx, user, n)
}
