package settings

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const cacheKey = "settings:current"

// CachedProvider keeps the settings row in redis for a short TTL.
type CachedProvider struct {
	source Provider
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

// NewCachedProvider wraps source. A nil client disables caching.
func NewCachedProvider(source Provider, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedProvider {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedProvider{source: source, client: client, ttl: ttl, logger: logger}
}

// Current returns cached settings, loading them once for concurrent callers.
func (p *CachedProvider) Current(ctx context.Context) (Settings, error) {
	if p.client != nil {
		raw, err := p.client.Get(ctx, cacheKey).Bytes()
		switch {
		case err == nil:
			var s Settings
			if err := json.Unmarshal(raw, &s); err == nil {
				return s, nil
			}
		case !errors.Is(err, redis.Nil):
			p.logger.WarnContext(ctx, "settings cache read", slog.Any("error", err))
		}
	}
	v, err, _ := p.group.Do(cacheKey, func() (any, error) {
		s, err := p.source.Current(ctx)
		if err != nil {
			return Settings{}, err
		}
		p.store(ctx, s)
		return s, nil
	})
	if err != nil {
		return Settings{}, err
	}
	return v.(Settings), nil
}

// Invalidate drops the cached row after settings change.
func (p *CachedProvider) Invalidate(ctx context.Context) error {
	if p.client == nil {
		return nil
	}
	return p.client.Del(ctx, cacheKey).Err()
}

func (p *CachedProvider) store(ctx context.Context, s Settings) {
	if p.client == nil {
		return
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return
	}
	if err := p.client.Set(ctx, cacheKey, raw, p.ttl).Err(); err != nil {
		p.logger.WarnContext(ctx, "settings cache write", slog.Any("error", err))
	}
}
