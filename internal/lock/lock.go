// Package lock provides the mutual exclusion used to keep publishing sweeps
// from overlapping.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrHeld is returned when another holder owns the lock.
var ErrHeld = errors.New("lock: held by another holder")

// Release gives the lock back. Releasing an expired or stolen lease is a no-op.
type Release func(ctx context.Context) error

// Locker acquires named leases that expire after ttl.
type Locker interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (Release, error)
}

// Local is an in-process Locker for single-instance deployments.
type Local struct {
	mu    sync.Mutex
	held  map[string]localLease
	now   func() time.Time
	token uint64
}

type localLease struct {
	token   uint64
	expires time.Time
}

func NewLocal() *Local {
	return &Local{held: make(map[string]localLease), now: time.Now}
}

func (l *Local) TryAcquire(ctx context.Context, key string, ttl time.Duration) (Release, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if cur, ok := l.held[key]; ok && now.Before(cur.expires) {
		return nil, ErrHeld
	}
	l.token++
	token := l.token
	l.held[key] = localLease{token: token, expires: now.Add(ttl)}
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if cur, ok := l.held[key]; ok && cur.token == token {
			delete(l.held, key)
		}
		return nil
	}, nil
}
