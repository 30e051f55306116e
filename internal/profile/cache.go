package profile

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Tyrowin/gocluster/internal/logger"
)

const cacheKeyPrefix = "profile:"

// CachedStore puts a Redis read-through cache in front of another store.
// Cache failures fall through to the wrapped store.
type CachedStore struct {
	next   Store
	client redis.UniversalClient
	ttl    time.Duration
	log    *slog.Logger
}

// NewCachedStore wraps next. A non-positive ttl defaults to five minutes.
func NewCachedStore(next Store, client redis.UniversalClient, ttl time.Duration, log *slog.Logger) *CachedStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedStore{
		next:   next,
		client: client,
		ttl:    ttl,
		log:    logger.OrNop(log).With(logger.Component("profile_cache")),
	}
}

// Lookup implements Store.
func (s *CachedStore) Lookup(ctx context.Context, id string) (Profile, error) {
	key := cacheKeyPrefix + id

	raw, err := s.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var p Profile
		if jsonErr := json.Unmarshal(raw, &p); jsonErr == nil {
			return p, nil
		}
		s.log.Warn("discarding corrupt cached profile", slog.String("key", key))
	case !errors.Is(err, redis.Nil):
		s.log.Warn("profile cache read failed", logger.Error(err))
	}

	p, err := s.next.Lookup(ctx, id)
	if err != nil {
		return Profile{}, err
	}

	if raw, err := json.Marshal(p); err == nil {
		if err := s.client.Set(ctx, key, raw, s.ttl).Err(); err != nil {
			s.log.Warn("profile cache write failed", logger.Error(err))
		}
	}
	return p, nil
}

// Invalidate drops the cached profile for id.
func (s *CachedStore) Invalidate(ctx context.Context, id string) error {
	return s.client.Del(ctx, cacheKeyPrefix+id).Err()
}
