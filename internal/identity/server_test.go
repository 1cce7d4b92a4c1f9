package identity

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	_ "modernc.org/sqlite"

	"github.com/nao1215/sns/pkg/ratelimit"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// setupTestServer はテスト用の認証サーバーをインメモリSQLiteで構築する。
func setupTestServer(t *testing.T, limiter *ratelimit.Limiter) (*Server, *gin.Engine) {
	t.Helper()

	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("インメモリDBの作成に失敗: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	if err := initSchema(sqlDB); err != nil {
		t.Fatalf("スキーマ初期化に失敗: %v", err)
	}

	if limiter == nil {
		limiter = ratelimit.New(ratelimit.NewMemoryStore(), ratelimit.SensitivePolicy())
	}

	router := gin.New()
	s := &Server{
		router:    router,
		port:      "0",
		store:     NewStore(sqlDB),
		db:        sqlDB,
		jwtSecret: "test-secret",
		limiter:   limiter,
	}
	s.setupRoutes()

	return s, router
}

// postJSON はJSONボディのPOSTリクエストを送信してレスポンスを返す。
func postJSON(t *testing.T, router *gin.Engine, path string, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()

	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("リクエストボディの作成に失敗: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// registerUser はテスト用のユーザーを登録してトークンレスポンスを返す。
func registerUser(t *testing.T, router *gin.Engine, username string) tokenResponse {
	t.Helper()

	w := postJSON(t, router, "/api/auth/register", map[string]any{
		"username": username,
		"email":    username + "@example.com",
		"password": "password123",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("ユーザー登録に失敗: status=%d, body=%s", w.Code, w.Body.String())
	}

	var resp tokenResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("レスポンスの解析に失敗: %v", err)
	}
	return resp
}

func TestRegister(t *testing.T) {
	t.Parallel()

	t.Run("ユーザーを登録してトークンペアが発行される", func(t *testing.T) {
		t.Parallel()

		_, router := setupTestServer(t, nil)
		resp := registerUser(t, router, "alice")

		if resp.User.Username != "alice" {
			t.Errorf("ユーザー名が想定と異なります: got=%s", resp.User.Username)
		}
		if resp.AccessToken == "" {
			t.Error("アクセストークンが空です")
		}
		if resp.RefreshToken == "" {
			t.Error("リフレッシュトークンが空です")
		}
	})

	t.Run("重複するユーザー名は409を返す", func(t *testing.T) {
		t.Parallel()

		_, router := setupTestServer(t, nil)
		registerUser(t, router, "bob")

		w := postJSON(t, router, "/api/auth/register", map[string]any{
			"username": "bob",
			"email":    "bob2@example.com",
			"password": "password123",
		})
		if w.Code != http.StatusConflict {
			t.Errorf("ステータスコードが想定と異なります: got=%d, want=%d", w.Code, http.StatusConflict)
		}
	})

	t.Run("短すぎるパスワードは400を返す", func(t *testing.T) {
		t.Parallel()

		_, router := setupTestServer(t, nil)

		w := postJSON(t, router, "/api/auth/register", map[string]any{
			"username": "carol",
			"email":    "carol@example.com",
			"password": "short",
		})
		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコードが想定と異なります: got=%d, want=%d", w.Code, http.StatusBadRequest)
		}
	})

	t.Run("厳格ポリシーの上限を超えると429を返す", func(t *testing.T) {
		t.Parallel()

		limiter := ratelimit.New(ratelimit.NewMemoryStore(), ratelimit.SensitivePolicy())
		_, router := setupTestServer(t, limiter)

		// 上限10件まで許可され、11件目が拒否される
		limit := ratelimit.SensitivePolicy().Limit
		for i := int64(0); i < limit; i++ {
			w := postJSON(t, router, "/api/auth/register", map[string]any{
				"username": fmt.Sprintf("user%d", i),
				"email":    fmt.Sprintf("user%d@example.com", i),
				"password": "password123",
			})
			if w.Code != http.StatusCreated {
				t.Fatalf("%d件目の登録に失敗: status=%d", i+1, w.Code)
			}
		}

		w := postJSON(t, router, "/api/auth/register", map[string]any{
			"username": "overflow",
			"email":    "overflow@example.com",
			"password": "password123",
		})
		if w.Code != http.StatusTooManyRequests {
			t.Errorf("ステータスコードが想定と異なります: got=%d, want=%d", w.Code, http.StatusTooManyRequests)
		}
	})
}

func TestLogin(t *testing.T) {
	t.Parallel()

	t.Run("正しい資格情報でトークンペアが発行される", func(t *testing.T) {
		t.Parallel()

		_, router := setupTestServer(t, nil)
		registerUser(t, router, "dave")

		w := postJSON(t, router, "/api/auth/login", map[string]any{
			"username": "dave",
			"password": "password123",
		})
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコードが想定と異なります: got=%d, body=%s", w.Code, w.Body.String())
		}

		var resp tokenResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("レスポンスの解析に失敗: %v", err)
		}
		if resp.AccessToken == "" || resp.RefreshToken == "" {
			t.Error("トークンペアが発行されていません")
		}
	})

	t.Run("誤ったパスワードは401を返す", func(t *testing.T) {
		t.Parallel()

		_, router := setupTestServer(t, nil)
		registerUser(t, router, "eve")

		w := postJSON(t, router, "/api/auth/login", map[string]any{
			"username": "eve",
			"password": "wrongpassword",
		})
		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコードが想定と異なります: got=%d, want=%d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("存在しないユーザーも同じ401を返す", func(t *testing.T) {
		t.Parallel()

		_, router := setupTestServer(t, nil)

		w := postJSON(t, router, "/api/auth/login", map[string]any{
			"username": "nobody",
			"password": "password123",
		})
		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコードが想定と異なります: got=%d, want=%d", w.Code, http.StatusUnauthorized)
		}
	})
}

func TestRefreshToken(t *testing.T) {
	t.Parallel()

	t.Run("トークン更新で新しいペアが発行され古いトークンは無効になる", func(t *testing.T) {
		t.Parallel()

		_, router := setupTestServer(t, nil)
		resp := registerUser(t, router, "frank")

		w := postJSON(t, router, "/api/auth/refresh-token", map[string]any{
			"refresh_token": resp.RefreshToken,
		})
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコードが想定と異なります: got=%d, body=%s", w.Code, w.Body.String())
		}

		var rotated tokenResponse
		if err := json.Unmarshal(w.Body.Bytes(), &rotated); err != nil {
			t.Fatalf("レスポンスの解析に失敗: %v", err)
		}
		if rotated.RefreshToken == resp.RefreshToken {
			t.Error("リフレッシュトークンがローテーションされていません")
		}

		// 使用済みトークンでの再更新は拒否される
		w = postJSON(t, router, "/api/auth/refresh-token", map[string]any{
			"refresh_token": resp.RefreshToken,
		})
		if w.Code != http.StatusUnauthorized {
			t.Errorf("使用済みトークンが拒否されません: got=%d", w.Code)
		}
	})

	t.Run("期限切れのトークンは401を返す", func(t *testing.T) {
		t.Parallel()

		s, router := setupTestServer(t, nil)
		resp := registerUser(t, router, "grace")

		// 有効期限を過去に書き換えて期限切れを再現する
		if _, err := s.db.Exec(
			`UPDATE refresh_tokens SET expires_at = ? WHERE token = ?`,
			time.Now().Add(-time.Hour).UTC(), resp.RefreshToken,
		); err != nil {
			t.Fatalf("有効期限の書き換えに失敗: %v", err)
		}

		w := postJSON(t, router, "/api/auth/refresh-token", map[string]any{
			"refresh_token": resp.RefreshToken,
		})
		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコードが想定と異なります: got=%d, want=%d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("未知のトークンは401を返す", func(t *testing.T) {
		t.Parallel()

		_, router := setupTestServer(t, nil)

		w := postJSON(t, router, "/api/auth/refresh-token", map[string]any{
			"refresh_token": "unknown-token",
		})
		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコードが想定と異なります: got=%d, want=%d", w.Code, http.StatusUnauthorized)
		}
	})
}

func TestLogout(t *testing.T) {
	t.Parallel()

	t.Run("ログアウト後はリフレッシュトークンが使用できない", func(t *testing.T) {
		t.Parallel()

		_, router := setupTestServer(t, nil)
		resp := registerUser(t, router, "heidi")

		w := postJSON(t, router, "/api/auth/logout", map[string]any{
			"refresh_token": resp.RefreshToken,
		})
		if w.Code != http.StatusOK {
			t.Fatalf("ログアウトに失敗: status=%d", w.Code)
		}

		w = postJSON(t, router, "/api/auth/refresh-token", map[string]any{
			"refresh_token": resp.RefreshToken,
		})
		if w.Code != http.StatusUnauthorized {
			t.Errorf("削除済みトークンが拒否されません: got=%d", w.Code)
		}
	})

	t.Run("存在しないトークンのログアウトも成功する", func(t *testing.T) {
		t.Parallel()

		_, router := setupTestServer(t, nil)

		w := postJSON(t, router, "/api/auth/logout", map[string]any{
			"refresh_token": "unknown-token",
		})
		if w.Code != http.StatusOK {
			t.Errorf("ステータスコードが想定と異なります: got=%d, want=%d", w.Code, http.StatusOK)
		}
	})
}
