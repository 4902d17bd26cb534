// Package lock serializes pipeline runs that touch the same day partition or
// training cutoff.
package lock

import (
	"context"
	"fmt"
	"sync"

	"github.com/couchcryptid/collision-forecast-service/internal/domain"
)

// ReleaseFunc gives up a held lock.
type ReleaseFunc func(ctx context.Context) error

// DayKey names the lock guarding one table's day partition.
func DayKey(table, day string) string {
	return "ingest:" + table + ":" + day
}

// CutoffKey names the lock guarding one training cutoff.
func CutoffKey(cutoff string) string {
	return "train:" + cutoff
}

// Local is an in-process lock table. It only protects runs sharing a process.
type Local struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocal creates an empty in-process lock table.
func NewLocal() *Local {
	return &Local{held: make(map[string]struct{})}
}

// Acquire takes key without waiting; a held key returns domain.ErrLocked.
func (l *Local) Acquire(_ context.Context, key string) (ReleaseFunc, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[key]; ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrLocked, key)
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
		return nil
	}, nil
}
