package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/sharedcode/ogm"
)

// unlockScript deletes the lock only if it still holds the caller's token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// locker is a pessimistic record lock: SET NX PX with a UUID owner token. The TTL frees
// locks of crashed owners.
type locker struct {
	d *Dialect
	// owned maps lock keys held by this dialect to their owner token.
	owned sync.Map
}

func newLocker(d *Dialect) *locker {
	return &locker{d: d}
}

// Lock acquires the lock on key, or reports an optimistic conflict naming the current owner.
// Locking a key already held through this dialect succeeds.
func (l *locker) Lock(ctx context.Context, key ogm.EntityKey) error {
	k, err := l.d.lockKey(key)
	if err != nil {
		return err
	}
	token := uuid.NewString()
	if v, ok := l.owned.Load(k); ok {
		token = v.(string)
	}
	set, err := l.d.client.SetNX(ctx, k, token, l.d.options.LockTTL).Result()
	if err != nil {
		return failure("SET NX PX", k, err)
	}
	if set {
		l.owned.Store(k, token)
		return nil
	}
	owner, err := l.d.client.Get(ctx, k).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Released in the interim; still not acquired by us.
			return ogm.ConflictError("SET NX PX "+k, fmt.Errorf("lock on %v was contended", key))
		}
		return failure("GET", k, err)
	}
	if owner == token {
		return nil
	}
	return ogm.ConflictError("SET NX PX "+k, fmt.Errorf("%v is locked by %s", key, owner))
}

// Unlock releases the lock on key if this dialect holds it.
func (l *locker) Unlock(ctx context.Context, key ogm.EntityKey) error {
	k, err := l.d.lockKey(key)
	if err != nil {
		return err
	}
	v, ok := l.owned.LoadAndDelete(k)
	if !ok {
		return nil
	}
	if err := unlockScript.Run(ctx, l.d.client, []string{k}, v.(string)).Err(); err != nil {
		return failure("EVALSHA", k, err)
	}
	return nil
}

// IsLocked reports whether any owner holds the lock on key.
func (l *locker) IsLocked(ctx context.Context, key ogm.EntityKey) (bool, error) {
	k, err := l.d.lockKey(key)
	if err != nil {
		return false, err
	}
	n, err := l.d.client.Exists(ctx, k).Result()
	if err != nil {
		return false, failure("EXISTS", k, err)
	}
	return n > 0, nil
}
