package cache

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/onemorebsmith/spl-airdrop/src/cashier"
	"github.com/pkg/errors"
)

// releaseScript deletes the lock only if it is still held by the caller's run.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// SessionLock allows one running airdrop per sender across processes.
type SessionLock struct {
	client *redis.Client
}

var _ cashier.SessionLocker = (*SessionLock)(nil)

func NewSessionLock(client *redis.Client) *SessionLock {
	return &SessionLock{client: client}
}

func lockKey(sender string) string {
	return "airdrop:lock:" + sender
}

func (sl *SessionLock) Acquire(ctx context.Context, sender, runID string, ttl time.Duration) (bool, error) {
	ok, err := sl.client.SetNX(ctx, lockKey(sender), runID, ttl).Result()
	if err != nil {
		return false, errors.Wrapf(err, "failed acquiring lock for %s", sender)
	}
	return ok, nil
}

func (sl *SessionLock) Release(ctx context.Context, sender, runID string) error {
	if err := releaseScript.Run(ctx, sl.client, []string{lockKey(sender)}, runID).Err(); err != nil && err != redis.Nil {
		return errors.Wrapf(err, "failed releasing lock for %s", sender)
	}
	return nil
}

// Holder returns the run currently holding the sender's lock, or "" if free.
func (sl *SessionLock) Holder(ctx context.Context, sender string) (string, error) {
	v, err := sl.client.Get(ctx, lockKey(sender)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return v, errors.Wrap(err, "failed reading lock")
}
