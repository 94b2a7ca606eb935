package cache

import (
	"context"
	"errors"
)

// SnapshotCache caches serialized cart snapshots per user.
type SnapshotCache interface {
	Get(ctx context.Context, userID string) ([]byte, error)
	Set(ctx context.Context, userID string, snapshot []byte) error
	Delete(ctx context.Context, userID string) error
}

var ErrCacheMiss = errors.New("cache miss")
