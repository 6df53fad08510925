package redisadapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// SweepLocker hands out single-attempt redsync leases.
type SweepLocker struct {
	redsync *redsync.Redsync
}

func NewSweepLocker(client redis.UniversalClient) *SweepLocker {
	return &SweepLocker{redsync: redsync.New(goredis.NewPool(client))}
}

func (l *SweepLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	mutex := l.redsync.NewMutex(key,
		redsync.WithExpiry(ttl),
		redsync.WithTries(1),
	)
	if err := mutex.LockContext(ctx); err != nil {
		if isLockContention(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("acquire %s: %w", key, err)
	}
	return func(ctx context.Context) error {
		ok, err := mutex.UnlockContext(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("release %s: lease already expired", key)
		}
		return nil
	}, true, nil
}

// isLockContention reports whether redsync failed because another holder
// owns the key, on a quorum of nodes or on a single one.
func isLockContention(err error) bool {
	var taken *redsync.ErrTaken
	var nodeTaken *redsync.ErrNodeTaken
	return errors.Is(err, redsync.ErrFailed) ||
		errors.As(err, &taken) ||
		errors.As(err, &nodeTaken)
}
