package post

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Post は投稿レコードを表す。
type Post struct {
	// ID は投稿の一意識別子（UUID）。
	ID string
	// UserID は投稿を作成したユーザーのID。
	UserID string
	// Content は投稿の本文。
	Content string
	// MediaIDs は投稿に関連付けられたメディアのID一覧。
	MediaIDs []string
	// CreatedAt は投稿の作成日時。
	CreatedAt time.Time
}

// Store は投稿の権威ストア。SQLiteをバックエンドとする。
type Store struct {
	// db はSQLiteデータベース接続。
	db *sql.DB
}

// NewStore は新しい投稿ストアを生成する。
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create は投稿を保存する。
func (s *Store) Create(ctx context.Context, p Post) error {
	mediaIDs, err := json.Marshal(p.MediaIDs)
	if err != nil {
		return fmt.Errorf("メディアID一覧のシリアライズに失敗: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO posts (id, user_id, content, media_ids, created_at) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.Content, string(mediaIDs), p.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("投稿の保存に失敗: %w", err)
	}
	return nil
}

// GetByID は投稿をIDで取得する。存在しない場合はsql.ErrNoRowsを返す。
func (s *Store) GetByID(ctx context.Context, id string) (*Post, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, content, media_ids, created_at FROM posts WHERE id = ?`, id)
	return scanPost(row)
}

// List は投稿を新しい順にページ単位で取得する。
func (s *Store) List(ctx context.Context, limit, offset int) ([]Post, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, content, media_ids, created_at FROM posts
		 ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("投稿一覧の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	posts := make([]Post, 0, limit)
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, *p)
	}
	return posts, rows.Err()
}

// Count は投稿の総数を返す。
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts`).Scan(&count); err != nil {
		return 0, fmt.Errorf("投稿数の取得に失敗: %w", err)
	}
	return count, nil
}

// DeleteOwned は所有者が一致する投稿を削除し、削除した投稿を返す。
// 投稿が存在しないか所有者が異なる場合はsql.ErrNoRowsを返す。
func (s *Store) DeleteOwned(ctx context.Context, id, userID string) (*Post, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, content, media_ids, created_at FROM posts WHERE id = ? AND user_id = ?`,
		id, userID)
	p, err := scanPost(row)
	if err != nil {
		return nil, err
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM posts WHERE id = ? AND user_id = ?`, id, userID); err != nil {
		return nil, fmt.Errorf("投稿の削除に失敗: %w", err)
	}
	return p, nil
}

// rowScanner はsql.Rowとsql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// scanPost は1行を投稿レコードに変換する。
func scanPost(row rowScanner) (*Post, error) {
	var p Post
	var mediaIDs string
	if err := row.Scan(&p.ID, &p.UserID, &p.Content, &mediaIDs, &p.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("投稿の読み取りに失敗: %w", err)
	}
	if err := json.Unmarshal([]byte(mediaIDs), &p.MediaIDs); err != nil {
		return nil, fmt.Errorf("メディアID一覧のデシリアライズに失敗: %w", err)
	}
	return &p, nil
}
