// Package cache は読み取りクエリの前段に置くキー/バリューキャッシュを提供する。
//
// 本番環境ではRedisを使用するRedis実装を、テストおよびRedisに接続できない
// 環境ではMemory実装を使用する。両者は同じCacheインターフェースを実装する。
//
// キャッシュのバックエンド障害は権威ストアへの読み書きを妨げてはならない。
// 呼び出し側は読み取りエラーをキャッシュミスとして扱い（フェイルオープン）、
// 書き込み・無効化エラーはログに記録して処理を継続する。
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss はキーに対応するエントリが存在しない場合に返されるエラー。
var ErrMiss = errors.New("cache: エントリが存在しません")

// Cache はTTL付きキー/バリューキャッシュのインターフェース。
type Cache interface {
	// Get はキーに対応する値を返す。エントリが存在しない場合はErrMissを返す。
	Get(ctx context.Context, key string) ([]byte, error)
	// Set はキーに値をTTL付きで保存する。
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete は指定されたキーのエントリを削除する。存在しないキーは無視する。
	Delete(ctx context.Context, keys ...string) error
	// DeleteByPrefix はプレフィックスに一致するすべてのエントリを削除する。
	// 1件の変更が複数のキャッシュ済みリストページに影響する場合に使用する。
	DeleteByPrefix(ctx context.Context, prefix string) error
}
