package gateway

import (
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/sns/pkg/middleware"
	"github.com/nao1215/sns/pkg/ratelimit"
)

// Server はAPI GatewayサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// rules は起動時に読み込まれる静的なルーティングルール一覧。
	rules []RoutingRule
	// authenticate はJWT検証を行う認証フィルター。
	// レート制限の後、ルーティングの前に適用される。
	authenticate gin.HandlerFunc
	// client は内部サービスへの転送に使用するHTTPクライアント。
	// タイムアウトはリクエストコンテキストのキャンセルに委ねる。
	client *http.Client
}

// Config はGatewayサーバーの設定。
type Config struct {
	// Port はリッスンポート。
	Port string
	// JWTSecret はJWT検証用の秘密鍵。
	JWTSecret string
	// Rules はルーティングルール一覧。
	Rules []RoutingRule
	// Limiter は全トラフィックに適用する一般ポリシーのリミッター。
	Limiter *ratelimit.Limiter
	// AllowedOrigins はCORSで許可するオリジン一覧。
	AllowedOrigins []string
}

// NewServer は新しいGatewayサーバーを生成する。
// リクエスト許可パイプラインは レート制限 → 認証 → ルーティング の順で構成される。
func NewServer(cfg Config) *Server {
	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORS(cfg.AllowedOrigins))
	// レート制限は認証より前に全トラフィックへ適用する
	router.Use(middleware.RateLimit(cfg.Limiter, middleware.ClientIPKey))

	s := &Server{
		router:       router,
		port:         cfg.Port,
		rules:        cfg.Rules,
		authenticate: middleware.JWTAuth(cfg.JWTSecret),
		client:       &http.Client{},
	}
	s.setupRoutes()

	return s
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// Router はテスト用にGinルーターを返す。
func (s *Server) Router() *gin.Engine {
	return s.router
}

// setupRoutes はAPIルーティングを設定する。
// 転送対象のパスはルーティングルールの最長一致で解決するため、
// 個別のルート登録ではなくNoRouteハンドラで受ける。
func (s *Server) setupRoutes() {
	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "gateway"})
	})

	s.router.NoRoute(s.handleForward())
}

// handleForward はルーティングルールを解決し、認証フィルターを経て
// リクエストを内部サービスに転送するハンドラを返す。
func (s *Server) handleForward() gin.HandlerFunc {
	return func(c *gin.Context) {
		rule, ok := ResolveRule(s.rules, c.Request.URL.Path)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "ルートが見つかりません"})
			return
		}

		// 認証が必要なルートのみJWTを検証する。
		// 検証失敗時はフィルターがその場でパイプラインを打ち切る。
		if rule.AuthRequired {
			s.authenticate(c)
			if c.IsAborted() {
				return
			}
		}

		s.doProxy(c, rule)
	}
}

// doProxy はリクエストを内部サービスに転送し、レスポンスをそのまま中継する。
// リクエストボディは解析せずストリームのまま転送するため、
// multipartアップロードのような大きなボディも全読み込みせずに通過する。
func (s *Server) doProxy(c *gin.Context, rule RoutingRule) {
	proxyURL := rule.Target + rewritePath(c.Request.URL.Path)
	if c.Request.URL.RawQuery != "" {
		proxyURL += "?" + c.Request.URL.RawQuery
	}

	// クライアント切断時はコンテキスト経由で転送を中断する
	req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, proxyURL, c.Request.Body)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "転送リクエストの作成に失敗しました"})
		return
	}

	// ヘッダーの装飾: Content-Typeを引き継ぎ、検証済みユーザーIDを注入する
	if contentType := c.GetHeader("Content-Type"); contentType != "" {
		req.Header.Set("Content-Type", contentType)
	} else if !rule.RawBody {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID := middleware.GetUserID(c); userID != "" {
		req.Header.Set(middleware.HeaderUserID, userID)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		// 接続失敗はリトライせず502で返す
		log.Printf("[Gateway] 転送エラー: url=%s, error=%v", proxyURL, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "内部サービスとの通信に失敗しました"})
		return
	}
	defer resp.Body.Close()

	// ステータスコードとボディをそのまま中継する
	if contentType := resp.Header.Get("Content-Type"); contentType != "" {
		c.Header("Content-Type", contentType)
	}
	c.Status(resp.StatusCode)
	if _, err := io.Copy(c.Writer, resp.Body); err != nil {
		log.Printf("[Gateway] レスポンス中継エラー: url=%s, error=%v", proxyURL, err)
	}
}
