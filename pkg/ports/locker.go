package ports

import (
	"context"
	"time"
)

// UnlockFunc releases a lock taken by a DistributedLocker.
type UnlockFunc func(ctx context.Context) error

// DistributedLocker serializes turns of one conversation across replicas that
// share a tracker store. Without it, two replicas can load the same tracker
// and the last save wins.
type DistributedLocker interface {
	// Lock waits until the conversation lock for senderID is held or ctx is
	// done. An unreleased lock expires after ttl.
	Lock(ctx context.Context, senderID string, ttl time.Duration) (UnlockFunc, error)
}
