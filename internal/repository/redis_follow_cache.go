package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisKV はフォローキャッシュが使うRedisコマンドの部分集合。*redis.Clientが満たす。
type redisKV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// RedisFollowCache はフォロー一覧をRedisにキャッシュするFollowRepositoryのデコレーター。
// Redisのエラーはログに記録してバックエンドへフォールバックする。
type RedisFollowCache struct {
	rdb    redisKV
	next   FollowRepository
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisFollowCache はRedisFollowCacheを生成する。
func NewRedisFollowCache(rdb redisKV, next FollowRepository, ttl time.Duration, logger *slog.Logger) *RedisFollowCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisFollowCache{rdb: rdb, next: next, ttl: ttl, logger: logger}
}

func followingKey(viewerID string) string {
	return fmt.Sprintf("devhub:following:%s", viewerID)
}

// ListFollowing はキャッシュから返し、なければバックエンドから取得してキャッシュする。
func (c *RedisFollowCache) ListFollowing(ctx context.Context, viewerID string) ([]string, error) {
	key := followingKey(viewerID)

	data, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var ids []string
		if jsonErr := json.Unmarshal(data, &ids); jsonErr == nil {
			return ids, nil
		}
		c.logger.Warn("corrupted follow cache entry", slog.String("key", key))
	case errors.Is(err, redis.Nil):
		// キャッシュミス
	default:
		c.logger.Warn("follow cache read failed", slog.String("key", key), slog.String("error", err.Error()))
	}

	ids, err := c.next.ListFollowing(ctx, viewerID)
	if err != nil {
		return nil, err
	}

	encoded, err := json.Marshal(ids)
	if err == nil {
		if err := c.rdb.Set(ctx, key, encoded, c.ttl).Err(); err != nil {
			c.logger.Warn("follow cache write failed", slog.String("key", key), slog.String("error", err.Error()))
		}
	}
	return ids, nil
}

var _ FollowRepository = (*RedisFollowCache)(nil)
