package identity

import (
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"github.com/nao1215/sns/pkg/middleware"
	"github.com/nao1215/sns/pkg/ratelimit"
)

const (
	// refreshTokenTTL はリフレッシュトークンの有効期限。
	refreshTokenTTL = 7 * 24 * time.Hour
	// minPasswordLength はパスワードの最小文字数。
	minPasswordLength = 8
)

// Server は認証サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// store はユーザーとリフレッシュトークンの権威ストア。
	store *Store
	// db はSQLiteデータベース接続。
	db *sql.DB
	// jwtSecret はJWT署名用の秘密鍵。
	jwtSecret string
	// limiter は登録エンドポイントに適用する厳格ポリシーのリミッター。
	limiter *ratelimit.Limiter
}

// Config は認証サーバーの設定。
type Config struct {
	// Port はリッスンポート。
	Port string
	// DBPath はSQLiteデータベースファイルのパス。
	DBPath string
	// JWTSecret はJWT署名用の秘密鍵。
	JWTSecret string
	// Limiter は登録エンドポイントに適用するリミッター。
	Limiter *ratelimit.Limiter
}

// NewServer は新しい認証サーバーを生成する。
// SQLiteデータベースの初期化とスキーマ作成を行う。
func NewServer(cfg Config) (*Server, error) {
	sqlDB, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	if err := initSchema(sqlDB); err != nil {
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())

	s := &Server{
		router:    router,
		port:      cfg.Port,
		store:     NewStore(sqlDB),
		db:        sqlDB,
		jwtSecret: cfg.JWTSecret,
		limiter:   cfg.Limiter,
	}
	s.setupRoutes()

	return s, nil
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
// 登録はアカウント列挙と総当たりを抑えるため厳格ポリシーでレート制限する。
func (s *Server) setupRoutes() {
	auth := s.router.Group("/api/auth")
	{
		// ユーザー登録
		auth.POST("/register", middleware.RateLimit(s.limiter, middleware.ClientIPKey), s.handleRegister())
		// ログイン
		auth.POST("/login", s.handleLogin())
		// トークン更新
		auth.POST("/refresh-token", s.handleRefreshToken())
		// ログアウト
		auth.POST("/logout", s.handleLogout())
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "identity"})
	})
}

// registerRequest はユーザー登録リクエストのJSON構造。
type registerRequest struct {
	// Username はログインに使用するユーザー名。
	Username string `json:"username" binding:"required"`
	// Email はメールアドレス。
	Email string `json:"email" binding:"required,email"`
	// Password は平文パスワード。
	Password string `json:"password" binding:"required"`
}

// loginRequest はログインリクエストのJSON構造。
type loginRequest struct {
	// Username はユーザー名。
	Username string `json:"username" binding:"required"`
	// Password は平文パスワード。
	Password string `json:"password" binding:"required"`
}

// refreshRequest はトークン更新・ログアウトリクエストのJSON構造。
type refreshRequest struct {
	// RefreshToken はリフレッシュトークン。
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// userResponse はユーザー情報レスポンスのJSON構造。
type userResponse struct {
	// ID はユーザーの一意識別子。
	ID string `json:"id"`
	// Username はユーザー名。
	Username string `json:"username"`
	// Email はメールアドレス。
	Email string `json:"email"`
}

// tokenResponse はトークンペアレスポンスのJSON構造。
type tokenResponse struct {
	// User はユーザー情報。
	User userResponse `json:"user"`
	// AccessToken は有効期限1時間のJWT。
	AccessToken string `json:"access_token"`
	// RefreshToken はサーバー側に保存される不透明なトークン。
	RefreshToken string `json:"refresh_token"`
}

// handleRegister はユーザーを登録してトークンペアを発行する。
func (s *Server) handleRegister() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req registerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストが不正です"})
			return
		}
		if len(req.Password) < minPasswordLength {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("パスワードは%d文字以上である必要があります", minPasswordLength)})
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			log.Printf("[Identity] パスワードハッシュ化エラー: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザー登録に失敗しました"})
			return
		}

		u := User{
			ID:           uuid.New().String(),
			Username:     req.Username,
			Email:        req.Email,
			PasswordHash: string(hash),
			CreatedAt:    time.Now().UTC(),
		}
		if err := s.store.CreateUser(c.Request.Context(), u); err != nil {
			if err == ErrDuplicate {
				c.JSON(http.StatusConflict, gin.H{"error": "ユーザー名またはメールアドレスは既に使用されています"})
				return
			}
			log.Printf("[Identity] ユーザー登録エラー: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザー登録に失敗しました"})
			return
		}

		resp, err := s.issueTokens(c, u)
		if err != nil {
			log.Printf("[Identity] トークン発行エラー: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークンの発行に失敗しました"})
			return
		}
		c.JSON(http.StatusCreated, resp)
	}
}

// handleLogin は資格情報を検証してトークンペアを発行する。
// ユーザーの存在有無を区別できないよう、失敗は常に同じ401を返す。
func (s *Server) handleLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストが不正です"})
			return
		}

		u, err := s.store.GetUserByUsername(c.Request.Context(), req.Username)
		if err != nil {
			if err == sql.ErrNoRows {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザー名またはパスワードが正しくありません"})
				return
			}
			log.Printf("[Identity] ログインエラー: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ログインに失敗しました"})
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザー名またはパスワードが正しくありません"})
			return
		}

		resp, err := s.issueTokens(c, *u)
		if err != nil {
			log.Printf("[Identity] トークン発行エラー: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークンの発行に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// handleRefreshToken はリフレッシュトークンを検証してトークンペアを再発行する。
// 使用済みトークンは削除され、新しいトークンに置き換わる（ローテーション）。
func (s *Server) handleRefreshToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req refreshRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストが不正です"})
			return
		}

		t, err := s.store.GetRefreshToken(c.Request.Context(), req.RefreshToken)
		if err != nil {
			if err == sql.ErrNoRows {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "リフレッシュトークンが無効です"})
				return
			}
			log.Printf("[Identity] トークン更新エラー: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークンの更新に失敗しました"})
			return
		}
		if time.Now().After(t.ExpiresAt) {
			// 期限切れトークンは掃除してから拒否する
			if err := s.store.DeleteRefreshToken(c.Request.Context(), t.Token); err != nil {
				log.Printf("[Identity] 期限切れトークン削除エラー: %v", err)
			}
			c.JSON(http.StatusUnauthorized, gin.H{"error": "リフレッシュトークンが無効です"})
			return
		}

		u, err := s.store.GetUserByID(c.Request.Context(), t.UserID)
		if err != nil {
			log.Printf("[Identity] トークン更新エラー: %v", err)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "リフレッシュトークンが無効です"})
			return
		}

		if err := s.store.DeleteRefreshToken(c.Request.Context(), t.Token); err != nil {
			log.Printf("[Identity] トークンローテーションエラー: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークンの更新に失敗しました"})
			return
		}

		resp, err := s.issueTokens(c, *u)
		if err != nil {
			log.Printf("[Identity] トークン発行エラー: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークンの発行に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// handleLogout はリフレッシュトークンを削除する。
// 存在しないトークンの場合も成功として扱う。
func (s *Server) handleLogout() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req refreshRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストが不正です"})
			return
		}

		if err := s.store.DeleteRefreshToken(c.Request.Context(), req.RefreshToken); err != nil {
			log.Printf("[Identity] ログアウトエラー: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ログアウトに失敗しました"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "ログアウトしました"})
	}
}

// issueTokens はアクセストークンとリフレッシュトークンのペアを発行する。
func (s *Server) issueTokens(c *gin.Context, u User) (*tokenResponse, error) {
	accessToken, err := middleware.GenerateJWT(s.jwtSecret, u.ID, u.Username)
	if err != nil {
		return nil, fmt.Errorf("アクセストークンの生成に失敗: %w", err)
	}

	refreshToken := RefreshToken{
		Token:     uuid.New().String(),
		UserID:    u.ID,
		ExpiresAt: time.Now().Add(refreshTokenTTL),
	}
	if err := s.store.CreateRefreshToken(c.Request.Context(), refreshToken); err != nil {
		return nil, err
	}

	return &tokenResponse{
		User: userResponse{
			ID:       u.ID,
			Username: u.Username,
			Email:    u.Email,
		},
		AccessToken:  accessToken,
		RefreshToken: refreshToken.Token,
	}, nil
}
