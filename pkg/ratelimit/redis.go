package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore はRedisをバックエンドとするStore実装。
// INCRによるアトミックなインクリメントと、ウィンドウ内最初のインクリメント時の
// EXPIRE設定で固定ウィンドウカウンターを実現する。
type RedisStore struct {
	// client はRedisクライアント。
	client *redis.Client
}

// NewRedisStore はRedisクライアントをラップしたカウンターストアを生成する。
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Incr はカウンターをアトミックにインクリメントする。
// ウィンドウ内の最初のインクリメント時のみ有効期限を設定し、
// 期限が切れるとRedis側でキーごと削除されてカウンターがリセットされる。
func (s *RedisStore) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("カウンターのインクリメントに失敗: key=%s: %w", key, err)
	}

	if count == 1 {
		if err := s.client.Expire(ctx, key, window).Err(); err != nil {
			return 0, fmt.Errorf("カウンターの有効期限設定に失敗: key=%s: %w", key, err)
		}
	}

	return count, nil
}
