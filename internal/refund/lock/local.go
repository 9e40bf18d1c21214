package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/paydesk/internal/clock"
)

type hold struct {
	token     string
	expiresAt time.Time
}

// LocalLocker serializes holders inside one process.
type LocalLocker struct {
	mu    sync.Mutex
	clock clock.Clock
	holds map[string]hold
}

func NewLocalLocker(clk clock.Clock) *LocalLocker {
	if clk == nil {
		clk = clock.New()
	}
	return &LocalLocker{clock: clk, holds: make(map[string]hold)}
}

func (l *LocalLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if err := validate(key, ttl); err != nil {
		return "", false, err
	}
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()
	if current, ok := l.holds[key]; ok && now.Before(current.expiresAt) {
		return "", false, nil
	}
	token := uuid.NewString()
	l.holds[key] = hold{token: token, expiresAt: now.Add(ttl)}
	return token, true, nil
}

func (l *LocalLocker) Release(ctx context.Context, key, token string) error {
	if key == "" || token == "" {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if current, ok := l.holds[key]; ok && current.token == token {
		delete(l.holds, key)
	}
	return nil
}
