package media

import (
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/nao1215/sns/pkg/eventbus"
	"github.com/nao1215/sns/pkg/middleware"
)

// maxUploadSize はアップロード可能なファイルの最大サイズ（50MB）。
// テスト時に差し替え可能にするためvarとして宣言する。
var maxUploadSize int64 = 50 << 20

// Server はメディアサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// store はメディアメタデータの権威ストア。
	store *Store
	// db はSQLiteデータベース接続。
	db *sql.DB
	// blobs はメディアバイナリの保存先。
	blobs BlobStore
	// bus は投稿削除イベントの購読元。
	bus eventbus.Bus
}

// Config はメディアサーバーの設定。
type Config struct {
	// Port はリッスンポート。
	Port string
	// DBPath はSQLiteデータベースファイルのパス。
	DBPath string
	// BlobDir はメディアバイナリを配置するディレクトリ。
	BlobDir string
	// Bus はイベントバス。
	Bus eventbus.Bus
}

// NewServer は新しいメディアサーバーを生成する。
// SQLiteデータベースとブロブディレクトリの初期化を行う。
func NewServer(cfg Config) (*Server, error) {
	sqlDB, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	if err := initSchema(sqlDB); err != nil {
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	blobs, err := NewDiskBlobStore(cfg.BlobDir)
	if err != nil {
		return nil, fmt.Errorf("ブロブストア初期化に失敗: %w", err)
	}

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())

	// マルチパートフォームの最大メモリを設定する。
	router.MaxMultipartMemory = maxUploadSize

	s := &Server{
		router: router,
		port:   cfg.Port,
		store:  NewStore(sqlDB),
		db:     sqlDB,
		blobs:  blobs,
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
	api := s.router.Group("/api/media")
	api.Use(middleware.RequireUserID())
	{
		// メディアのアップロード（マルチパートフォーム）
		api.POST("/upload", s.handleUpload())
		// メディア一覧取得
		api.GET("", s.handleList())
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "media"})
	})
}

// mediaResponse はメディアレスポンスのJSON構造。
type mediaResponse struct {
	// ID はメディアの一意識別子。
	ID string `json:"id"`
	// UserID はアップロードしたユーザーのID。
	UserID string `json:"user_id"`
	// OriginalName はアップロード時の元ファイル名。
	OriginalName string `json:"original_name"`
	// MimeType はファイルのMIMEタイプ。
	MimeType string `json:"mime_type"`
	// CreatedAt はアップロード日時。
	CreatedAt time.Time `json:"created_at"`
}

// toResponse はメディアレコードをレスポンス構造に変換する。
func toResponse(m Media) mediaResponse {
	return mediaResponse{
		ID:           m.ID,
		UserID:       m.UserID,
		OriginalName: m.OriginalName,
		MimeType:     m.MimeType,
		CreatedAt:    m.CreatedAt,
	}
}

// handleUpload はマルチパートフォームからファイルを受け取り、
// ブロブストアに本体を、SQLiteにメタデータを保存する。
func (s *Server) handleUpload() gin.HandlerFunc {
	return func(c *gin.Context) {
		file, header, err := c.Request.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "ファイルの取得に失敗しました"})
			return
		}
		defer file.Close()

		if header.Size > maxUploadSize {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("ファイルサイズが上限を超えています（最大%dMB）", maxUploadSize/(1<<20))})
			return
		}

		contentType := header.Header.Get("Content-Type")
		if !isAllowedContentType(contentType) {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("許可されていないContent-Typeです: %s（image/*またはvideo/*のみ）", contentType)})
			return
		}

		m := Media{
			ID:           uuid.New().String(),
			UserID:       middleware.GetUserID(c),
			OriginalName: filepath.Base(header.Filename),
			MimeType:     contentType,
			CreatedAt:    time.Now().UTC(),
		}

		storagePath, err := s.blobs.Save(m.ID, m.OriginalName, file)
		if err != nil {
			log.Printf("[Media] ブロブ保存エラー: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ファイルの保存に失敗しました"})
			return
		}
		m.StoragePath = storagePath

		if err := s.store.Create(c.Request.Context(), m); err != nil {
			// メタデータの保存に失敗したら孤児ブロブを残さない
			if rmErr := s.blobs.Remove(m.ID); rmErr != nil {
				log.Printf("[Media] ブロブ巻き戻しエラー: id=%s, error=%v", m.ID, rmErr)
			}
			log.Printf("[Media] メタデータ保存エラー: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ファイルの保存に失敗しました"})
			return
		}

		c.JSON(http.StatusCreated, toResponse(m))
	}
}

// handleList はユーザーのメディア一覧を新しい順に返す。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := s.store.ListByUser(c.Request.Context(), middleware.GetUserID(c))
		if err != nil {
			log.Printf("[Media] メディア一覧取得エラー: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "メディア一覧の取得に失敗しました"})
			return
		}

		results := make([]mediaResponse, 0, len(list))
		for _, m := range list {
			results = append(results, toResponse(m))
		}
		c.JSON(http.StatusOK, gin.H{"media": results})
	}
}

// isAllowedContentType はアップロードを許可するMIMEタイプか判定する。
// image/* と video/* のみ許可する。
func isAllowedContentType(contentType string) bool {
	return strings.HasPrefix(contentType, "image/") || strings.HasPrefix(contentType, "video/")
}
