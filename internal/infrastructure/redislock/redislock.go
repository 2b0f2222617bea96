// Package redislock implements [domain.LockRepository] on Redis leases:
// SET NX PX for the conditional create, holder-compared Lua scripts for
// renew and release. Expiry is enforced by the server, so a crashed
// holder's lock reclaims itself without a sweeper.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/skylift/skylift-server/internal/domain"
)

// Repo implements [domain.LockRepository] backed by Redis.
type Repo struct {
	Client *redis.Client
	// Prefix namespaces the lock keys, "lock:" by default.
	Prefix string
	Now    func() time.Time
}

// New pings the server and returns a repository bound to it.
func New(ctx context.Context, addr string) (*Repo, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Repo{Client: client}, nil
}

var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (r *Repo) prefix() string {
	if r.Prefix != "" {
		return r.Prefix
	}
	return "lock:"
}

func (r *Repo) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Repo) Acquire(ctx context.Context, key, holder string, ttl time.Duration) (domain.Lock, error) {
	now := r.now()
	ok, err := r.Client.SetNX(ctx, r.prefix()+key, holder, ttl).Result()
	if err != nil {
		return domain.Lock{}, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return domain.Lock{}, fmt.Errorf("lock %q: %w", key, domain.ErrBusy)
	}
	return domain.Lock{
		Key:        key,
		Holder:     holder,
		Status:     domain.LockHeld,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}, nil
}

func (r *Repo) Renew(ctx context.Context, key, holder string, ttl time.Duration) (domain.Lock, error) {
	n, err := renewScript.Run(ctx, r.Client, []string{r.prefix() + key}, holder, ttl.Milliseconds()).Int64()
	if err != nil {
		return domain.Lock{}, fmt.Errorf("renew lock: %w", err)
	}
	if n == 0 {
		return domain.Lock{}, fmt.Errorf("lock %q holder %q: %w", key, holder, domain.ErrLockLost)
	}
	return domain.Lock{
		Key:       key,
		Holder:    holder,
		Status:    domain.LockHeld,
		ExpiresAt: r.now().Add(ttl),
	}, nil
}

func (r *Repo) Release(ctx context.Context, key, holder string) error {
	// Deleting only when holder still owns the key makes release
	// idempotent and safe against reclaimed locks.
	if err := releaseScript.Run(ctx, r.Client, []string{r.prefix() + key}, holder).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

func (r *Repo) Get(ctx context.Context, key string) (domain.Lock, error) {
	pipe := r.Client.Pipeline()
	get := pipe.Get(ctx, r.prefix()+key)
	pttl := pipe.PTTL(ctx, r.prefix()+key)
	if _, err := pipe.Exec(ctx); err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Lock{}, fmt.Errorf("lock %q: %w", key, domain.ErrNotFound)
		}
		return domain.Lock{}, fmt.Errorf("get lock: %w", err)
	}
	lock := domain.Lock{
		Key:    key,
		Holder: get.Val(),
		Status: domain.LockHeld,
	}
	if ttl := pttl.Val(); ttl > 0 {
		lock.ExpiresAt = r.now().Add(ttl)
	}
	return lock, nil
}
