// Package locker provides distributed locking for work that must run
// on at most one service instance at a time, such as queue sweeps and
// retention cleanups.
package locker

import (
	"context"
	"time"
)

// DistributedLocker is a non-blocking, TTL-guarded lock shared across
// instances. Implementations must be safe for concurrent use.
type DistributedLocker interface {
	// Acquire tries to take the lock named key without blocking.
	// It returns false when another instance holds it. The lock
	// expires on its own after ttl, so a crashed holder cannot wedge
	// the system; pick a ttl longer than the guarded work.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Release drops the lock if this instance owns it. Releasing a
	// lock held elsewhere (or already expired) is a no-op, not an
	// error.
	Release(ctx context.Context, key string) error
}
