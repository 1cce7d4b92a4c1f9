// API Gatewayサービスのエントリポイント。
// レート制限 → JWT検証 → ルーティング のリクエスト許可パイプラインを構成し、
// 検証済みリクエストを内部サービスに転送する。
// 外部からアクセス可能な唯一のサービスであり、セキュリティの境界線となる。
package main

import (
	"context"
	"log"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/nao1215/sns/internal/gateway"
	"github.com/nao1215/sns/pkg/ratelimit"
)

func main() {
	port := getEnvOr("PORT", "8080")
	jwtSecret := getEnvOr("JWT_SECRET", "dev-secret-key")

	urls := gateway.ServiceURLs{
		Identity: getEnvOr("IDENTITY_URL", "http://localhost:8081"),
		Post:     getEnvOr("POST_URL", "http://localhost:8082"),
		Media:    getEnvOr("MEDIA_URL", "http://localhost:8083"),
		Search:   getEnvOr("SEARCH_URL", "http://localhost:8084"),
	}

	// レート制限カウンターはレプリカ間で共有するためRedisに置く。
	// Redisに接続できない場合はインメモリストアで起動する。
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

	server := gateway.NewServer(gateway.Config{
		Port:           port,
		JWTSecret:      jwtSecret,
		Rules:          gateway.DefaultRules(urls),
		Limiter:        ratelimit.New(store, ratelimit.GeneralPolicy()),
		AllowedOrigins: strings.Split(getEnvOr("ALLOWED_ORIGINS", "*"), ","),
	})

	log.Printf("Gatewayサービスを起動します: :%s", port)
	if err := server.Run(); err != nil {
		log.Fatalf("Gatewayサービスの起動に失敗: %v", err)
	}
}

// getEnvOr は環境変数の値を返す。未設定の場合はフォールバック値を返す。
func getEnvOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
