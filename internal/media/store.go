package media

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Media はメディアのメタデータレコードを表す。
type Media struct {
	// ID はメディアの一意識別子（UUID）。
	ID string
	// UserID はアップロードしたユーザーのID。
	UserID string
	// OriginalName はアップロード時の元ファイル名。
	OriginalName string
	// MimeType はファイルのMIMEタイプ。
	MimeType string
	// StoragePath はブロブストア上の保存パス。
	StoragePath string
	// CreatedAt はアップロード日時。
	CreatedAt time.Time
}

// Store はメディアメタデータの権威ストア。
type Store struct {
	// db はSQLiteデータベース接続。
	db *sql.DB
}

// NewStore は新しいメディアストアを生成する。
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create はメディアのメタデータを保存する。
func (s *Store) Create(ctx context.Context, m Media) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO media (id, user_id, original_name, mime_type, storage_path, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.UserID, m.OriginalName, m.MimeType, m.StoragePath, m.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("メディアの保存に失敗: %w", err)
	}
	return nil
}

// ListByUser はユーザーのメディアを新しい順に返す。
func (s *Store) ListByUser(ctx context.Context, userID string) ([]Media, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, original_name, mime_type, storage_path, created_at
		 FROM media WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("メディア一覧の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var list []Media
	for rows.Next() {
		var m Media
		if err := rows.Scan(&m.ID, &m.UserID, &m.OriginalName, &m.MimeType, &m.StoragePath, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("メディアの読み取りに失敗: %w", err)
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

// Delete はメディアのメタデータを削除する。存在しないIDも成功として扱う（冪等）。
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM media WHERE id = ?`, id); err != nil {
		return fmt.Errorf("メディアの削除に失敗: %w", err)
	}
	return nil
}

// Exists はメディアIDのレコードが存在するか返す。
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM media WHERE id = ?)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("メディアの存在確認に失敗: %w", err)
	}
	return exists, nil
}
