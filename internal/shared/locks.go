package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CloseLockKey builds redis keys for period-close critical sections.
func CloseLockKey(bookID, periodID int64) string {
	return fmt.Sprintf("gl:close:%d:%d:lock", bookID, periodID)
}

// ErrCloseInProgress indicates another close or reopen holds the period lock.
var ErrCloseInProgress = errors.New("shared: close already running for period")

// CloseLock serialises close/reopen attempts per (book, period) across
// processes. The database run-row lock remains the correctness guarantee;
// this lock only fails fast instead of queueing on the row.
type CloseLock struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCloseLock constructs a CloseLock with the given lease duration.
func NewCloseLock(client *redis.Client, ttl time.Duration) *CloseLock {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &CloseLock{client: client, ttl: ttl}
}

// Acquire takes the lock or returns ErrCloseInProgress. The returned release
// function is safe to call on every path.
func (l *CloseLock) Acquire(ctx context.Context, bookID, periodID int64) (func(), error) {
	if l == nil || l.client == nil {
		return func() {}, nil
	}
	key := CloseLockKey(bookID, periodID)
	ok, err := l.client.SetNX(ctx, key, time.Now().UnixNano(), l.ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrCloseInProgress
	}
	return func() {
		_ = l.client.Del(context.WithoutCancel(ctx), key).Err()
	}, nil
}
