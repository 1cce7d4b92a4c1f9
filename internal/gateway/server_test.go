package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/sns/pkg/middleware"
	"github.com/nao1215/sns/pkg/ratelimit"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testSecret はテスト用のJWTシークレット。
const testSecret = "gateway-test-secret"

// upstreamRecorder は内部サービスのモックと受信リクエストの記録。
type upstreamRecorder struct {
	// server はモックサーバー。
	server *httptest.Server
	// calls は受信したリクエスト数。
	calls atomic.Int64
	// lastPath は最後に受信したリクエストのパス。
	lastPath atomic.Value
	// lastUserID は最後に受信したX-User-IDヘッダー。
	lastUserID atomic.Value
}

// newUpstream は固定レスポンスを返す内部サービスのモックを生成する。
func newUpstream(t *testing.T, status int, body string) *upstreamRecorder {
	t.Helper()
	rec := &upstreamRecorder{}
	rec.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.calls.Add(1)
		path := r.URL.Path
		if r.URL.RawQuery != "" {
			path += "?" + r.URL.RawQuery
		}
		rec.lastPath.Store(path)
		rec.lastUserID.Store(r.Header.Get(middleware.HeaderUserID))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(rec.server.Close)
	return rec
}

// newTestServer はテスト用のGatewayサーバーを構築するヘルパー関数。
func newTestServer(t *testing.T, rules []RoutingRule, limiter *ratelimit.Limiter) *Server {
	t.Helper()
	if limiter == nil {
		limiter = ratelimit.New(ratelimit.NewMemoryStore(), ratelimit.Policy{
			Name:   "general",
			Limit:  1000,
			Window: time.Minute,
		})
	}
	return NewServer(Config{
		Port:      "0",
		JWTSecret: testSecret,
		Rules:     rules,
		Limiter:   limiter,
	})
}

// bearerToken はテスト用の有効なJWTトークンを生成するヘルパー関数。
func bearerToken(t *testing.T, userID string) string {
	t.Helper()
	token, err := middleware.GenerateJWT(testSecret, userID, "tester")
	if err != nil {
		t.Fatalf("トークン生成に失敗: %v", err)
	}
	return "Bearer " + token
}

// TestResolveRule はルーティングルールの最長一致解決を検証する。
func TestResolveRule(t *testing.T) {
	t.Parallel()

	rules := []RoutingRule{
		{PathPrefix: "/v1/posts", Target: "http://post"},
		{PathPrefix: "/v1/posts/drafts", Target: "http://draft"},
		{PathPrefix: "/v1/auth", Target: "http://identity"},
	}

	tests := []struct {
		name       string
		path       string
		wantTarget string
		wantFound  bool
	}{
		{name: "プレフィックス一致", path: "/v1/posts/p1", wantTarget: "http://post", wantFound: true},
		{name: "プレフィックスそのもの", path: "/v1/posts", wantTarget: "http://post", wantFound: true},
		{name: "最長一致を優先する", path: "/v1/posts/drafts/d1", wantTarget: "http://draft", wantFound: true},
		{name: "別のルール", path: "/v1/auth/login", wantTarget: "http://identity", wantFound: true},
		{name: "セグメント境界でないものはマッチしない", path: "/v1/postscript", wantFound: false},
		{name: "マッチしないパス", path: "/v1/unknown", wantFound: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rule, found := ResolveRule(rules, tt.path)
			if found != tt.wantFound {
				t.Fatalf("found = %v, want %v", found, tt.wantFound)
			}
			if found && rule.Target != tt.wantTarget {
				t.Errorf("target = %q, want %q", rule.Target, tt.wantTarget)
			}
		})
	}
}

// TestRewritePath は外部公開パスから内部パスへの書き換えを検証する。
func TestRewritePath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		path string
		want string
	}{
		{name: "プレフィックスを書き換える", path: "/v1/posts/p1", want: "/api/posts/p1"},
		{name: "ネストしたパス", path: "/v1/auth/login", want: "/api/auth/login"},
		{name: "プレフィックス以外はそのまま", path: "/health", want: "/health"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := rewritePath(tt.path); got != tt.want {
				t.Errorf("rewritePath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

// TestGatewayAuthRequired は認証必須ルートでトークンが無い場合に
// 401が返り、内部サービスに転送されないことを検証する。
func TestGatewayAuthRequired(t *testing.T) {
	t.Parallel()

	upstream := newUpstream(t, http.StatusOK, `{"posts":[]}`)
	s := newTestServer(t, []RoutingRule{
		{PathPrefix: "/v1/posts", Target: upstream.server.URL, AuthRequired: true},
	}, nil)

	t.Run("トークンが無い場合は401で転送されない", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/posts", nil)
		w := httptest.NewRecorder()
		s.Router().ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
		}

		var body map[string]string
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("レスポンスボディのパースに失敗: %v", err)
		}
		if body["code"] != middleware.CodeMissingCredential {
			t.Errorf("code = %q, want %q", body["code"], middleware.CodeMissingCredential)
		}
		if upstream.calls.Load() != 0 {
			t.Errorf("内部サービスに転送された: calls=%d", upstream.calls.Load())
		}
	})

	t.Run("無効なトークンの場合は401で転送されない", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/posts", nil)
		req.Header.Set("Authorization", "Bearer broken-token")
		w := httptest.NewRecorder()
		s.Router().ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
		}
		if upstream.calls.Load() != 0 {
			t.Errorf("内部サービスに転送された: calls=%d", upstream.calls.Load())
		}
	})
}

// TestGatewayForward は認証済みリクエストの転送とレスポンス中継を検証する。
func TestGatewayForward(t *testing.T) {
	t.Parallel()

	t.Run("パスが書き換えられユーザーIDが注入される", func(t *testing.T) {
		t.Parallel()

		upstream := newUpstream(t, http.StatusOK, `{"posts":[]}`)
		s := newTestServer(t, []RoutingRule{
			{PathPrefix: "/v1/posts", Target: upstream.server.URL, AuthRequired: true},
		}, nil)

		req := httptest.NewRequest(http.MethodGet, "/v1/posts?page=2&limit=10", nil)
		req.Header.Set("Authorization", bearerToken(t, "user-7"))
		w := httptest.NewRecorder()
		s.Router().ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
		}
		if got := w.Body.String(); got != `{"posts":[]}` {
			t.Errorf("body = %s, want %s", got, `{"posts":[]}`)
		}
		if got := upstream.lastPath.Load(); got != "/api/posts?page=2&limit=10" {
			t.Errorf("転送先パス = %v, want /api/posts?page=2&limit=10", got)
		}
		if got := upstream.lastUserID.Load(); got != "user-7" {
			t.Errorf("X-User-ID = %v, want user-7", got)
		}
	})

	t.Run("認証不要ルートはトークン無しで転送される", func(t *testing.T) {
		t.Parallel()

		upstream := newUpstream(t, http.StatusCreated, `{"access_token":"x"}`)
		s := newTestServer(t, []RoutingRule{
			{PathPrefix: "/v1/auth", Target: upstream.server.URL},
		}, nil)

		req := httptest.NewRequest(http.MethodPost, "/v1/auth/register", strings.NewReader(`{"username":"alice"}`))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		s.Router().ServeHTTP(w, req)

		if w.Code != http.StatusCreated {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusCreated)
		}
		if got := upstream.lastPath.Load(); got != "/api/auth/register" {
			t.Errorf("転送先パス = %v, want /api/auth/register", got)
		}
	})

	t.Run("内部サービスのエラーステータスをそのまま中継する", func(t *testing.T) {
		t.Parallel()

		upstream := newUpstream(t, http.StatusNotFound, `{"error":"not found"}`)
		s := newTestServer(t, []RoutingRule{
			{PathPrefix: "/v1/posts", Target: upstream.server.URL, AuthRequired: true},
		}, nil)

		req := httptest.NewRequest(http.MethodGet, "/v1/posts/nothing", nil)
		req.Header.Set("Authorization", bearerToken(t, "user-7"))
		w := httptest.NewRecorder()
		s.Router().ServeHTTP(w, req)

		if w.Code != http.StatusNotFound {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusNotFound)
		}
	})

	t.Run("マッチするルールが無い場合は404", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, DefaultRules(ServiceURLs{}), nil)

		req := httptest.NewRequest(http.MethodGet, "/v1/unknown", nil)
		w := httptest.NewRecorder()
		s.Router().ServeHTTP(w, req)

		if w.Code != http.StatusNotFound {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusNotFound)
		}
	})
}

// TestGatewayUpstreamUnavailable は内部サービスに接続できない場合に
// 502が返ることを検証する。
func TestGatewayUpstreamUnavailable(t *testing.T) {
	t.Parallel()

	// 起動していないサービスへのURLを用意する
	dead := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	deadURL := dead.URL
	dead.Close()

	s := newTestServer(t, []RoutingRule{
		{PathPrefix: "/v1/posts", Target: deadURL, AuthRequired: true},
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/posts", nil)
	req.Header.Set("Authorization", bearerToken(t, "user-7"))
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusBadGateway {
		t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusBadGateway)
	}
}

// TestGatewayRateLimit はレート制限が認証より前に適用され、
// 超過リクエストが内部サービスに到達しないことを検証する。
func TestGatewayRateLimit(t *testing.T) {
	t.Parallel()

	upstream := newUpstream(t, http.StatusOK, `{}`)
	limiter := ratelimit.New(ratelimit.NewMemoryStore(), ratelimit.Policy{
		Name:   "general",
		Limit:  2,
		Window: time.Minute,
	})
	s := newTestServer(t, []RoutingRule{
		{PathPrefix: "/v1/posts", Target: upstream.server.URL, AuthRequired: true},
	}, limiter)

	token := bearerToken(t, "user-7")
	codes := make([]int, 0, 3)
	for range 3 {
		req := httptest.NewRequest(http.MethodGet, "/v1/posts", nil)
		req.Header.Set("Authorization", token)
		w := httptest.NewRecorder()
		s.Router().ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Errorf("最初の2リクエスト: got %v, want 200", codes[:2])
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("3番目のリクエスト: got %d, want %d", codes[2], http.StatusTooManyRequests)
	}
	if upstream.calls.Load() != 2 {
		t.Errorf("内部サービスへの転送回数: got %d, want 2", upstream.calls.Load())
	}
}
