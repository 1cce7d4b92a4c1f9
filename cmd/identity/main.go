// 認証サービスのエントリポイント。
// ユーザー登録・ログイン・トークン更新を担当し、Gatewayが検証する
// JWTを発行する。登録はフェイルクローズドの厳格ポリシーでレート制限する。
package main

import (
	"context"
	"log"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/nao1215/sns/internal/identity"
	"github.com/nao1215/sns/pkg/ratelimit"
)

func main() {
	port := getEnvOr("PORT", "8081")

	// 登録エンドポイント用の厳格ポリシーのカウンターもRedisで共有する。
	var store ratelimit.Store
	opts, err := redis.ParseURL(getEnvOr("REDIS_URL", "redis://localhost:6379"))
	if err != nil {
		log.Fatalf("REDIS_URLの解析に失敗: %v", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		log.Printf("Redisに接続できないためインメモリストアを使用します: %v", err)
		store = ratelimit.NewMemoryStore()
	} else {
		store = ratelimit.NewRedisStore(client)
	}

	server, err := identity.NewServer(identity.Config{
		Port:      port,
		DBPath:    getEnvOr("DB_PATH", "/data/identity.db?_journal_mode=WAL&_busy_timeout=5000"),
		JWTSecret: getEnvOr("JWT_SECRET", "dev-secret-key"),
		Limiter:   ratelimit.New(store, ratelimit.SensitivePolicy()),
	})
	if err != nil {
		log.Fatalf("認証サーバーの初期化に失敗: %v", err)
	}

	log.Printf("認証サービスを起動します: :%s", port)
	if err := server.Run(); err != nil {
		log.Fatalf("認証サービスの起動に失敗: %v", err)
	}
}

// getEnvOr は環境変数の値を返す。未設定の場合はフォールバック値を返す。
func getEnvOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
