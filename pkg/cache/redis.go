package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis はRedisをバックエンドとするCache実装。
// 複数のサービスレプリカ間でキャッシュ状態を共有するために使用する。
type Redis struct {
	// client はRedisクライアント。
	client *redis.Client
}

// NewRedis はRedisクライアントをラップしたキャッシュを生成する。
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Get はキーに対応する値を返す。
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("キャッシュの取得に失敗: key=%s: %w", key, err)
	}
	return value, nil
}

// Set はキーに値をTTL付きで保存する。
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("キャッシュの保存に失敗: key=%s: %w", key, err)
	}
	return nil
}

// Delete は指定されたキーのエントリを削除する。
func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("キャッシュの削除に失敗: %w", err)
	}
	return nil
}

// DeleteByPrefix はプレフィックスに一致するすべてのキーをSCANで列挙して削除する。
// KEYSコマンドはブロッキングのため使用しない。
func (r *Redis) DeleteByPrefix(ctx context.Context, prefix string) error {
	iter := r.client.Scan(ctx, 0, prefix+"*", 100).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("キャッシュキーのスキャンに失敗: prefix=%s: %w", prefix, err)
	}

	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("プレフィックス削除に失敗: prefix=%s: %w", prefix, err)
	}
	return nil
}
