// Package lock serialises survey submissions per user.
//
// The lock narrows the window between "has this user submitted?" and the
// insert; the UNIQUE index on surveys.user_id stays the final word.
package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrLocked is returned by TryLock when another holder owns the key.
var ErrLocked = errors.New("lock: already held")

// Locker hands out non-blocking, keyed locks. The returned unlock function
// is safe to call more than once.
type Locker interface {
	TryLock(ctx context.Context, key string) (unlock func(), err error)
}

// Local is an in-process keyed lock for single-instance deployments.
type Local struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocal() *Local {
	return &Local{held: make(map[string]struct{})}
}

func (l *Local) TryLock(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[key]; ok {
		return nil, ErrLocked
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}
