package questionbank

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mnrworld/exam-backend/internal/config"
)

// CachedSource keeps normalized question sets in Redis. Cache failures are
// logged and the request falls through to the wrapped source.
type CachedSource struct {
	next Source
	rdb  *redis.Client
	ttl  time.Duration
	log  zerolog.Logger
}

// NewCachedSource wraps next. A non-positive ttl disables caching.
func NewCachedSource(next Source, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *CachedSource {
	return &CachedSource{
		next: next,
		rdb:  rdb,
		ttl:  ttl,
		log:  log.With().Str("component", "questionbank_cache").Logger(),
	}
}

// LoadQuestions serves from cache when possible.
func (s *CachedSource) LoadQuestions(ctx context.Context, sourceRef string) (*LoadResult, error) {
	if s.ttl <= 0 {
		return s.next.LoadQuestions(ctx, sourceRef)
	}

	key := config.CacheKey.QuestionSetKey(sourceRef)

	raw, err := s.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var res LoadResult
		if err := json.Unmarshal(raw, &res); err == nil && len(res.Questions) > 0 {
			return &res, nil
		}
		s.log.Warn().Str("key", key).Msg("Discarding unreadable cached question set")
	case !errors.Is(err, redis.Nil):
		s.log.Warn().Err(err).Str("key", key).Msg("Question cache read failed")
	}

	res, err := s.next.LoadQuestions(ctx, sourceRef)
	if err != nil {
		return res, err
	}

	payload, err := json.Marshal(res)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to encode question set for cache")
		return res, nil
	}
	if err := s.rdb.Set(ctx, key, payload, s.ttl).Err(); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Question cache write failed")
	}
	return res, nil
}

// Invalidate drops the cached set for sourceRef.
func (s *CachedSource) Invalidate(ctx context.Context, sourceRef string) error {
	return s.rdb.Del(ctx, config.CacheKey.QuestionSetKey(sourceRef)).Err()
}
