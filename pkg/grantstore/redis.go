package grantstore

import (
	"context"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	perrors "github.com/p-blackswan/permbot/internal/errors"
)

// RedisStore persists grants in Redis. Each user maps to two sets:
//
//	permbot:grants:roles:<user>
//	permbot:grants:perms:<user>
//
// No ordering is kept in Redis; ListGrants sorts for deterministic output.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a grant store backed by the given Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "permbot:grants"}
}

// NewRedisStoreAddr connects to Redis at addr and verifies the connection.
func NewRedisStoreAddr(ctx context.Context, addr string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("grantstore: redis ping: %w", err)
	}
	return NewRedisStore(client), nil
}

func (r *RedisStore) roleKey(user string) string {
	return fmt.Sprintf("%s:roles:%s", r.prefix, user)
}

func (r *RedisStore) permKey(user string) string {
	return fmt.Sprintf("%s:perms:%s", r.prefix, user)
}

func (r *RedisStore) GrantRole(ctx context.Context, user, role string) error {
	if err := r.client.SAdd(ctx, r.roleKey(user), role).Err(); err != nil {
		return perrors.NewStoreError("grant", user, err)
	}
	return nil
}

func (r *RedisStore) GrantPermission(ctx context.Context, user, perm string) error {
	if err := r.client.SAdd(ctx, r.permKey(user), perm).Err(); err != nil {
		return perrors.NewStoreError("grant", user, err)
	}
	return nil
}

func (r *RedisStore) RevokeRole(ctx context.Context, user, role string) error {
	// SRem of an absent member is a no-op, which matches the idempotent
	// revoke contract.
	if err := r.client.SRem(ctx, r.roleKey(user), role).Err(); err != nil {
		return perrors.NewStoreError("revoke", user, err)
	}
	return nil
}

func (r *RedisStore) RevokePermission(ctx context.Context, user, perm string) error {
	if err := r.client.SRem(ctx, r.permKey(user), perm).Err(); err != nil {
		return perrors.NewStoreError("revoke", user, err)
	}
	return nil
}

func (r *RedisStore) ListGrants(ctx context.Context, user string) (Grants, error) {
	roles, err := r.client.SMembers(ctx, r.roleKey(user)).Result()
	if err != nil {
		return Grants{}, perrors.NewStoreError("list", user, err)
	}
	perms, err := r.client.SMembers(ctx, r.permKey(user)).Result()
	if err != nil {
		return Grants{}, perrors.NewStoreError("list", user, err)
	}

	sort.Strings(roles)
	sort.Strings(perms)

	g := Grants{}
	if len(roles) > 0 {
		g.Roles = roles
	}
	if len(perms) > 0 {
		g.Permissions = perms
	}
	return g, nil
}

// Ping verifies the Redis connection. Used by the health checker.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
