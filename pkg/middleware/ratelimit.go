package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/sns/pkg/ratelimit"
)

// KeyFunc はリクエストからレート制限用のクライアントキーを導出する関数。
type KeyFunc func(c *gin.Context) string

// ClientIPKey はクライアントのIPアドレスをキーとするKeyFunc。
func ClientIPKey(c *gin.Context) string {
	return c.ClientIP()
}

// RateLimit はリミッターでリクエストを許可・拒否するGinミドルウェアを返す。
// 拒否されたリクエストには429を返し、後段には進まない。
// レート制限は認証より前に適用すること。
func RateLimit(limiter *ratelimit.Limiter, keyFn KeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(c.Request.Context(), keyFn(c)) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "リクエストが多すぎます。しばらく待ってから再試行してください",
			})
			return
		}
		c.Next()
	}
}
