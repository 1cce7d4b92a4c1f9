package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/sns/pkg/ratelimit"
)

// TestRateLimit はRateLimitミドルウェアを検証する。
func TestRateLimit(t *testing.T) {
	t.Parallel()

	t.Run("上限以内のリクエストは通過し超過分は429になること", func(t *testing.T) {
		t.Parallel()

		limiter := ratelimit.New(ratelimit.NewMemoryStore(), ratelimit.Policy{
			Name:   "test",
			Limit:  3,
			Window: time.Minute,
		})

		router := gin.New()
		router.Use(RateLimit(limiter, ClientIPKey))
		router.GET("/test", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})

		for i := 1; i <= 3; i++ {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			if w.Code != http.StatusOK {
				t.Fatalf("%d番目のリクエスト: ステータスコード = %d, want %d", i, w.Code, http.StatusOK)
			}
		}

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusTooManyRequests {
			t.Errorf("超過リクエスト: ステータスコード = %d, want %d", w.Code, http.StatusTooManyRequests)
		}
	})

	t.Run("拒否されたリクエストは後段のハンドラに到達しないこと", func(t *testing.T) {
		t.Parallel()

		limiter := ratelimit.New(ratelimit.NewMemoryStore(), ratelimit.Policy{
			Name:   "test",
			Limit:  1,
			Window: time.Minute,
		})

		handlerCalls := 0
		router := gin.New()
		router.Use(RateLimit(limiter, ClientIPKey))
		router.GET("/test", func(c *gin.Context) {
			handlerCalls++
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})

		for range 3 {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
		}

		if handlerCalls != 1 {
			t.Errorf("ハンドラ呼び出し回数: got %d, want 1", handlerCalls)
		}
	})
}
