package search

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// IndexedPost は検索インデックス上の投稿エントリを表す。
type IndexedPost struct {
	// PostID は投稿の一意識別子。
	PostID string
	// UserID は投稿を作成したユーザーのID。
	UserID string
	// Content は投稿の本文。
	Content string
	// CreatedAt は投稿の作成日時。
	CreatedAt time.Time
}

// Store は検索インデックスのストア。投稿ストアの派生データを保持する。
type Store struct {
	// db はSQLiteデータベース接続。
	db *sql.DB
}

// NewStore は新しい検索インデックスストアを生成する。
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Upsert は投稿をインデックスに登録する。
// 同じ投稿IDのエントリが既に存在する場合は上書きする（冪等）。
func (s *Store) Upsert(ctx context.Context, p IndexedPost) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO search_posts (post_id, user_id, content, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(post_id) DO UPDATE SET user_id = excluded.user_id,
		 content = excluded.content, created_at = excluded.created_at`,
		p.PostID, p.UserID, p.Content, p.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("インデックスへの登録に失敗: %w", err)
	}
	return nil
}

// Delete は投稿をインデックスから削除する。
// 存在しない投稿IDも成功として扱う（冪等）。
func (s *Store) Delete(ctx context.Context, postID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM search_posts WHERE post_id = ?`, postID); err != nil {
		return fmt.Errorf("インデックスからの削除に失敗: %w", err)
	}
	return nil
}

// Search は本文に部分一致する投稿を新しい順に返す。
func (s *Store) Search(ctx context.Context, query string, limit int) ([]IndexedPost, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT post_id, user_id, content, created_at FROM search_posts
		 WHERE content LIKE ? ESCAPE '\'
		 ORDER BY created_at DESC LIMIT ?`,
		"%"+escapeLike(query)+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("インデックス検索に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	posts := make([]IndexedPost, 0, limit)
	for rows.Next() {
		var p IndexedPost
		if err := rows.Scan(&p.PostID, &p.UserID, &p.Content, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("インデックスエントリの読み取りに失敗: %w", err)
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// escapeLike はLIKEパターンのメタ文字をエスケープする。
// クエリ文字列を常にリテラルな部分文字列として扱うため。
func escapeLike(s string) string {
	var out []byte
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
