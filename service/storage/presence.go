package storage

import (
	"context"
	"time"

	redisx "IMCore/service/storage/redis"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// presence key: im:presence:<user>
// value: gateway id; TTL bounds the online validity period and is
// renewed on add/heartbeat. This is a cross-instance hint, not the
// delivery source of truth (the local registry is).
func presenceKey(user string) string { return "im:presence:" + user }

// PresenceOnline marks the user online on this gateway and renews TTL.
func PresenceOnline(ctx context.Context, user, gatewayID string, ttl time.Duration) error {
	rdb, ok := redisx.TryGetRedis()
	if !ok {
		return errors.New("redis not initialized")
	}
	return rdb.Set(ctx, presenceKey(user), gatewayID, ttl).Err()
}

// PresenceRenew extends the TTL without rewriting the owner.
func PresenceRenew(ctx context.Context, user string, ttl time.Duration) error {
	rdb, ok := redisx.TryGetRedis()
	if !ok {
		return errors.New("redis not initialized")
	}
	return rdb.Expire(ctx, presenceKey(user), ttl).Err()
}

// PresenceOffline removes the key (user's last connection closed).
func PresenceOffline(ctx context.Context, user string) error {
	rdb, ok := redisx.TryGetRedis()
	if !ok {
		return errors.New("redis not initialized")
	}
	return rdb.Del(ctx, presenceKey(user)).Err()
}

// PresenceLookup reports whether any gateway currently claims the user.
func PresenceLookup(ctx context.Context, user string) (gatewayID string, online bool, err error) {
	rdb, ok := redisx.TryGetRedis()
	if !ok {
		return "", false, errors.New("redis not initialized")
	}
	val, err := rdb.Get(ctx, presenceKey(user)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}
