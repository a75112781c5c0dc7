package artifact

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type CacheConfig struct {
	MaxEntries int
	TTL        time.Duration
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{MaxEntries: 256, TTL: 10 * time.Minute}
}

// CachedStore keeps recently read documents in memory in front of an origin
// store. Shares are immutable once written, so entries never go stale.
type CachedStore struct {
	origin Store
	blobs  *expirable.LRU[string, []byte]
}

func NewCachedStore(origin Store, cfg CacheConfig) *CachedStore {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultCacheConfig().MaxEntries
	}
	return &CachedStore{
		origin: origin,
		blobs:  expirable.NewLRU[string, []byte](cfg.MaxEntries, nil, cfg.TTL),
	}
}

func (s *CachedStore) Put(ctx context.Context, shareID, path string, content []byte) error {
	if err := s.origin.Put(ctx, shareID, path, content); err != nil {
		return err
	}
	if id, p, err := normalizeKey(shareID, path); err == nil {
		s.blobs.Add(objectKey(id, p), append([]byte(nil), content...))
	}
	return nil
}

func (s *CachedStore) Get(ctx context.Context, shareID, path string) ([]byte, error) {
	id, p, err := normalizeKey(shareID, path)
	if err != nil {
		return nil, err
	}
	key := objectKey(id, p)
	if raw, ok := s.blobs.Get(key); ok {
		return append([]byte(nil), raw...), nil
	}
	raw, err := s.origin.Get(ctx, id, p)
	if err != nil {
		return nil, err
	}
	s.blobs.Add(key, append([]byte(nil), raw...))
	return raw, nil
}

func (s *CachedStore) GetURL(ctx context.Context, shareID, path string) (string, error) {
	return s.origin.GetURL(ctx, shareID, path)
}

func (s *CachedStore) List(ctx context.Context, shareID string) ([]string, error) {
	return s.origin.List(ctx, shareID)
}
