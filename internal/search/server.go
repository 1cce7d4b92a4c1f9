package search

import (
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	_ "modernc.org/sqlite"

	"github.com/nao1215/sns/pkg/eventbus"
	"github.com/nao1215/sns/pkg/middleware"
)

// searchResultLimit は検索結果の最大件数。
const searchResultLimit = 10

// Server は検索サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// store は検索インデックスのストア。
	store *Store
	// db はSQLiteデータベース接続。
	db *sql.DB
	// bus は投稿変更イベントの購読元。
	bus eventbus.Bus
}

// Config は検索サーバーの設定。
type Config struct {
	// Port はリッスンポート。
	Port string
	// DBPath はSQLiteデータベースファイルのパス。
	DBPath string
	// Bus はイベントバス。
	Bus eventbus.Bus
}

// NewServer は新しい検索サーバーを生成する。
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
func (s *Server) setupRoutes() {
	api := s.router.Group("/api/search")
	api.Use(middleware.RequireUserID())
	{
		// 投稿検索
		api.GET("/posts", s.handleSearch())
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "search"})
	})
}

// searchResultResponse は検索結果1件のJSON構造。
type searchResultResponse struct {
	// PostID は投稿の一意識別子。
	PostID string `json:"post_id"`
	// UserID は投稿を作成したユーザーのID。
	UserID string `json:"user_id"`
	// Content は投稿の本文。
	Content string `json:"content"`
	// CreatedAt は投稿の作成日時。
	CreatedAt string `json:"created_at"`
}

// handleSearch は本文に部分一致する投稿を新しい順に返す。
func (s *Server) handleSearch() gin.HandlerFunc {
	return func(c *gin.Context) {
		query := strings.TrimSpace(c.Query("query"))
		if query == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "検索クエリを指定してください"})
			return
		}

		posts, err := s.store.Search(c.Request.Context(), query, searchResultLimit)
		if err != nil {
			log.Printf("[Search] 検索エラー: query=%s, error=%v", query, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "検索に失敗しました"})
			return
		}

		results := make([]searchResultResponse, 0, len(posts))
		for _, p := range posts {
			results = append(results, searchResultResponse{
				PostID:    p.PostID,
				UserID:    p.UserID,
				Content:   p.Content,
				CreatedAt: p.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
			})
		}
		c.JSON(http.StatusOK, gin.H{"results": results})
	}
}
