// Package schedule implements the TTL Scheduler (component 4.B): it
// registers per-timer expiry keys, reacts to the store's expiry
// notifications, elects one server per expiry via a short-lived mutex, and
// hands off to the Local Dispatcher over an in-process channel.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// mutex is the completion-mutex primitive (timer:processing:{timerId}),
// grounded directly on the teacher's redis.DistributedLock: SetNX to
// acquire, a compare-and-delete Lua script to release so a server can only
// ever release a lock it still owns.
type mutex struct {
	rdb   *redis.Client
	key   string
	value string
	ttl   time.Duration
}

func newMutex(rdb *redis.Client, timerID, ownerServerID string, ttl time.Duration) *mutex {
	return &mutex{
		rdb:   rdb,
		key:   fmt.Sprintf("timer:processing:%s", timerID),
		value: ownerServerID + ":" + uuid.New().String(),
		ttl:   ttl,
	}
}

// acquire is non-blocking set-if-absent, per the concurrency model's
// requirement that mutex acquisition never blocks a dispatch thread.
func (m *mutex) acquire(ctx context.Context) (bool, error) {
	ok, err := m.rdb.SetNX(ctx, m.key, m.value, m.ttl).Result()
	if err != nil {
		return false, errors.Errorf("acquire completion mutex: %w", err)
	}
	return ok, nil
}

const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
else
    return 0
end
`

// release is a compare-and-delete: a server can only release a mutex it
// still owns. The 5-minute TTL is the safety net for a holder that crashes
// mid-completion, not the release mechanism — every acquire is paired with
// a deferred release on every exit path (success, error, panic-recover).
func (m *mutex) release(ctx context.Context) error {
	_, err := m.rdb.Eval(ctx, releaseScript, []string{m.key}, m.value).Result()
	if err != nil {
		return errors.Errorf("release completion mutex: %w", err)
	}
	return nil
}
