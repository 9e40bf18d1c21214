package lock

import (
	"context"
	"errors"
	"time"
)

var (
	ErrEmptyKey      = errors.New("lock key is empty")
	ErrInvalidTTL    = errors.New("lock ttl must be positive")
	ErrNotConfigured = errors.New("lock client not configured")
)

// Locker grants short-lived exclusive holds on a key. TryLock never waits; it
// reports false when somebody else holds the key.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

func validate(key string, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	return nil
}
