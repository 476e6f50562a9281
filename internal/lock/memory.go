package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/alima/internal/clock"
)

// MemoryLocker holds claims in process. It serialises runs inside one
// replica only.
type MemoryLocker struct {
	clock clock.Clock

	mu     sync.Mutex
	claims map[string]claim
}

type claim struct {
	token   string
	expires time.Time
}

func NewMemoryLocker(clk clock.Clock) *MemoryLocker {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &MemoryLocker{clock: clk, claims: map[string]claim{}}
}

func (l *MemoryLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if err := validate(key, ttl); err != nil {
		return "", false, err
	}
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()
	if current, ok := l.claims[key]; ok && now.Before(current.expires) {
		return "", false, nil
	}
	token := uuid.NewString()
	l.claims[key] = claim{token: token, expires: now.Add(ttl)}
	return token, true, nil
}

func (l *MemoryLocker) Release(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if current, ok := l.claims[key]; ok && current.token == token {
		delete(l.claims, key)
	}
	return nil
}
