package post

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/nao1215/sns/pkg/cache"
	"github.com/nao1215/sns/pkg/event"
	"github.com/nao1215/sns/pkg/eventbus"
	"github.com/nao1215/sns/pkg/middleware"
)

const (
	// postCacheTTL は単一投稿キャッシュ（post:<id>）の有効期限。
	postCacheTTL = time.Hour
	// listCacheTTL は一覧ページキャッシュ（posts:<page>:<limit>）の有効期限。
	// 一覧は変更の影響を受けやすいため短めに設定する。
	listCacheTTL = 5 * time.Minute
	// defaultLimit は一覧取得の既定ページサイズ。
	defaultLimit = 10
	// maxLimit は一覧取得ページサイズの上限。
	maxLimit = 100
)

// Server は投稿サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// store は投稿の権威ストア。
	store *Store
	// db はSQLiteデータベース接続。
	db *sql.DB
	// cache は読み取りクエリの前段キャッシュ。
	cache cache.Cache
	// bus は変更イベントのpublish先。
	bus eventbus.Bus
}

// Config は投稿サーバーの設定。
type Config struct {
	// Port はリッスンポート。
	Port string
	// DBPath はSQLiteデータベースファイルのパス。
	DBPath string
	// Cache は読み取りキャッシュ。
	Cache cache.Cache
	// Bus はイベントバス。
	Bus eventbus.Bus
}

// NewServer は新しい投稿サーバーを生成する。
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
		router: router,
		port:   cfg.Port,
		store:  NewStore(sqlDB),
		db:     sqlDB,
		cache:  cfg.Cache,
		bus:    cfg.Bus,
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
// JWT検証はGatewayが済ませているため、ここでは検証済みユーザーIDの
// ヘッダーのみを要求する。
func (s *Server) setupRoutes() {
	posts := s.router.Group("/api/posts")
	posts.Use(middleware.RequireUserID())
	{
		// 投稿作成
		posts.POST("", s.handleCreate())
		// 投稿一覧取得
		posts.GET("", s.handleList())
		// 投稿詳細取得
		posts.GET("/:id", s.handleGetByID())
		// 投稿削除
		posts.DELETE("/:id", s.handleDelete())
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "post"})
	})
}

// createPostRequest は投稿作成リクエストのJSON構造。
type createPostRequest struct {
	// Content は投稿の本文。
	Content string `json:"content" binding:"required"`
	// MediaIDs は投稿に添付するメディアのID一覧。
	MediaIDs []string `json:"media_ids"`
}

// postResponse は投稿レスポンスのJSON構造。キャッシュにもこの形で保存する。
type postResponse struct {
	// ID は投稿の一意識別子。
	ID string `json:"id"`
	// UserID は投稿を作成したユーザーのID。
	UserID string `json:"user_id"`
	// Content は投稿の本文。
	Content string `json:"content"`
	// MediaIDs は投稿に関連付けられたメディアのID一覧。
	MediaIDs []string `json:"media_ids"`
	// CreatedAt は投稿の作成日時。
	CreatedAt time.Time `json:"created_at"`
}

// listPostsResponse は投稿一覧レスポンスのJSON構造。
type listPostsResponse struct {
	// Posts は投稿の一覧。
	Posts []postResponse `json:"posts"`
	// Total は投稿の総数。
	Total int64 `json:"total"`
	// Page は現在のページ番号。
	Page int `json:"page"`
	// Limit はページサイズ。
	Limit int `json:"limit"`
}

// toResponse は投稿レコードをレスポンス構造に変換する。
func toResponse(p Post) postResponse {
	mediaIDs := p.MediaIDs
	if mediaIDs == nil {
		mediaIDs = []string{}
	}
	return postResponse{
		ID:        p.ID,
		UserID:    p.UserID,
		Content:   p.Content,
		MediaIDs:  mediaIDs,
		CreatedAt: p.CreatedAt,
	}
}

// handleCreate は投稿を作成する。
// 永続化 → キャッシュ無効化 → イベントpublish の順で処理する。
func (s *Server) handleCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createPostRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストが不正です"})
			return
		}
		if req.MediaIDs == nil {
			req.MediaIDs = []string{}
		}

		p := Post{
			ID:        uuid.New().String(),
			UserID:    middleware.GetUserID(c),
			Content:   req.Content,
			MediaIDs:  req.MediaIDs,
			CreatedAt: time.Now().UTC(),
		}

		if err := s.store.Create(c.Request.Context(), p); err != nil {
			log.Printf("[Post] 投稿作成エラー: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "投稿の作成に失敗しました"})
			return
		}

		// コミット後の無効化とpublishはクライアント切断で中断させない
		ctx := context.WithoutCancel(c.Request.Context())
		s.invalidatePostCaches(ctx, p.ID)
		s.publish(ctx, event.KeyPostCreated, event.PostCreated{
			PostID:    p.ID,
			UserID:    p.UserID,
			Content:   p.Content,
			CreatedAt: p.CreatedAt,
		})

		c.JSON(http.StatusCreated, toResponse(p))
	}
}

// handleList は投稿一覧をページ単位で取得する。
// キャッシュキーは posts:<page>:<limit>。キャッシュ障害時はミスとして扱う。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
		if err != nil || page < 1 {
			page = 1
		}
		limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultLimit)))
		if err != nil || limit < 1 {
			limit = defaultLimit
		}
		if limit > maxLimit {
			limit = maxLimit
		}

		cacheKey := fmt.Sprintf("posts:%d:%d", page, limit)
		if cached, err := s.cache.Get(c.Request.Context(), cacheKey); err == nil {
			c.Data(http.StatusOK, "application/json; charset=utf-8", cached)
			return
		} else if err != cache.ErrMiss {
			log.Printf("[Post] キャッシュ読み取りエラー: key=%s, error=%v", cacheKey, err)
		}

		posts, err := s.store.List(c.Request.Context(), limit, (page-1)*limit)
		if err != nil {
			log.Printf("[Post] 投稿一覧取得エラー: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "投稿一覧の取得に失敗しました"})
			return
		}
		total, err := s.store.Count(c.Request.Context())
		if err != nil {
			log.Printf("[Post] 投稿数取得エラー: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "投稿一覧の取得に失敗しました"})
			return
		}

		resp := listPostsResponse{
			Posts: make([]postResponse, 0, len(posts)),
			Total: total,
			Page:  page,
			Limit: limit,
		}
		for _, p := range posts {
			resp.Posts = append(resp.Posts, toResponse(p))
		}

		body, err := json.Marshal(resp)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "投稿一覧の取得に失敗しました"})
			return
		}
		if err := s.cache.Set(c.Request.Context(), cacheKey, body, listCacheTTL); err != nil {
			log.Printf("[Post] キャッシュ書き込みエラー: key=%s, error=%v", cacheKey, err)
		}
		c.Data(http.StatusOK, "application/json; charset=utf-8", body)
	}
}

// handleGetByID は投稿をIDで取得する。キャッシュキーは post:<id>。
func (s *Server) handleGetByID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")

		cacheKey := "post:" + id
		if cached, err := s.cache.Get(c.Request.Context(), cacheKey); err == nil {
			c.Data(http.StatusOK, "application/json; charset=utf-8", cached)
			return
		} else if err != cache.ErrMiss {
			log.Printf("[Post] キャッシュ読み取りエラー: key=%s, error=%v", cacheKey, err)
		}

		p, err := s.store.GetByID(c.Request.Context(), id)
		if err != nil {
			if err == sql.ErrNoRows {
				c.JSON(http.StatusNotFound, gin.H{"error": "投稿が見つかりません"})
				return
			}
			log.Printf("[Post] 投稿取得エラー: id=%s, error=%v", id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "投稿の取得に失敗しました"})
			return
		}

		body, err := json.Marshal(toResponse(*p))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "投稿の取得に失敗しました"})
			return
		}
		if err := s.cache.Set(c.Request.Context(), cacheKey, body, postCacheTTL); err != nil {
			log.Printf("[Post] キャッシュ書き込みエラー: key=%s, error=%v", cacheKey, err)
		}
		c.Data(http.StatusOK, "application/json; charset=utf-8", body)
	}
}

// handleDelete は所有者の投稿を削除する。
// 永続化 → キャッシュ無効化 → イベントpublish の順で処理する。
func (s *Server) handleDelete() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		userID := middleware.GetUserID(c)

		p, err := s.store.DeleteOwned(c.Request.Context(), id, userID)
		if err != nil {
			if err == sql.ErrNoRows {
				c.JSON(http.StatusNotFound, gin.H{"error": "投稿が見つかりません"})
				return
			}
			log.Printf("[Post] 投稿削除エラー: id=%s, error=%v", id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "投稿の削除に失敗しました"})
			return
		}

		// コミット後の無効化とpublishはクライアント切断で中断させない
		ctx := context.WithoutCancel(c.Request.Context())
		s.invalidatePostCaches(ctx, p.ID)
		s.publish(ctx, event.KeyPostDeleted, event.PostDeleted{
			PostID:   p.ID,
			UserID:   p.UserID,
			MediaIDs: p.MediaIDs,
		})

		c.JSON(http.StatusOK, gin.H{"message": "投稿を削除しました"})
	}
}

// invalidatePostCaches は変更された投稿のキャッシュエントリを無効化する。
// 単一投稿のキーに加え、ページ境界をまたぐ影響があるため一覧ページは
// プレフィックスで全削除する。無効化の失敗はログに記録して処理を続ける。
func (s *Server) invalidatePostCaches(ctx context.Context, postID string) {
	if err := s.cache.Delete(ctx, "post:"+postID); err != nil {
		log.Printf("[Post] キャッシュ無効化エラー: key=post:%s, error=%v", postID, err)
	}
	if err := s.cache.DeleteByPrefix(ctx, "posts:"); err != nil {
		log.Printf("[Post] キャッシュ無効化エラー: prefix=posts:, error=%v", err)
	}
}

// publish は変更イベントをpublishする。
// publishの失敗で変更はロールバックしない。検索インデックスとの不整合の
// 窓が開くが、ログに記録して呼び出し元には成功を返す。
func (s *Server) publish(ctx context.Context, key event.RoutingKey, payload any) {
	body, err := event.Encode(payload)
	if err != nil {
		log.Printf("[Post] イベントのシリアライズに失敗: key=%s, error=%v", key, err)
		return
	}
	if err := s.bus.Publish(ctx, string(key), body); err != nil {
		log.Printf("[Post] イベントpublishに失敗: key=%s, error=%v", key, err)
	}
}
