package cart

import (
	"context"
	"errors"
	"time"

	"github.com/fjod/go_marketplace/internal/cache"
	"github.com/fjod/go_marketplace/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// SnapshotStore keeps one opaque cart blob per user. Load returns
// domain.ErrSnapshotNotFound when the user has no cart yet.
type SnapshotStore interface {
	Load(ctx context.Context, userID string) ([]byte, error)
	Save(ctx context.Context, userID string, snapshot []byte) error
	Delete(ctx context.Context, userID string) error
}

// CachedStore puts a snapshot cache in front of a durable SnapshotStore.
type CachedStore struct {
	store SnapshotStore
	cache cache.SnapshotCache
	sfg   singleflight.Group // Prevents cache stampede
	log   *zap.Logger
}

func NewCachedStore(store SnapshotStore, c cache.SnapshotCache, log *zap.Logger) *CachedStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &CachedStore{store: store, cache: c, log: log}
}

func (s *CachedStore) Load(ctx context.Context, userID string) ([]byte, error) {
	v, err, _ := s.sfg.Do(userID, func() (interface{}, error) {
		data, err := s.cache.Get(ctx, userID)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.log.Warn("cache get error", zap.String("user_id", userID), zap.Error(err))
		}

		data, err = s.store.Load(ctx, userID)
		if err != nil {
			return nil, err
		}

		// set synchronously so a later Save's invalidation cannot be overtaken
		if errSet := s.cache.Set(ctx, userID, data); errSet != nil {
			s.log.Warn("cache set error", zap.String("user_id", userID), zap.Error(errSet))
		}

		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (s *CachedStore) Save(ctx context.Context, userID string, snapshot []byte) error {
	if err := s.store.Save(ctx, userID, snapshot); err != nil {
		return err
	}
	s.invalidate(userID)
	return nil
}

func (s *CachedStore) Delete(ctx context.Context, userID string) error {
	if err := s.store.Delete(ctx, userID); err != nil && !errors.Is(err, domain.ErrSnapshotNotFound) {
		return err
	}
	s.invalidate(userID)
	return nil
}

func (s *CachedStore) invalidate(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, userID); err != nil {
		s.log.Warn("cache invalidate error", zap.String("user_id", userID), zap.Error(err))
	}
}
