package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// AskLockTTL bounds how long a vanished worker can keep a user's turn wedged.
const AskLockTTL = 5 * time.Minute

type AskLock struct {
	redis *redis.Client
}

func NewAskLock(rdb *redis.Client) *AskLock {
	return &AskLock{redis: rdb}
}

func (l *AskLock) Acquire(ctx context.Context, userID int64) (bool, error) {
	key := fmt.Sprintf("ottobot:ask:%d", userID)
	ok, err := l.redis.SetNX(ctx, key, "1", AskLockTTL).Result()
	if err != nil {
		return false, fmt.Errorf("ask lock setnx: %w", err)
	}
	return ok, nil
}

func (l *AskLock) Release(ctx context.Context, userID int64) error {
	key := fmt.Sprintf("ottobot:ask:%d", userID)
	if err := l.redis.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("ask lock del: %w", err)
	}
	return nil
}
