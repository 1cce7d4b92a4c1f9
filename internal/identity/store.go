package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrDuplicate はユーザー名またはメールアドレスが既に使用されている場合のエラー。
var ErrDuplicate = errors.New("identity: ユーザー名またはメールアドレスは既に使用されています")

// User はユーザーレコードを表す。
type User struct {
	// ID はユーザーの一意識別子（UUID）。
	ID string
	// Username はログインに使用するユーザー名。
	Username string
	// Email はメールアドレス。
	Email string
	// PasswordHash はbcryptでハッシュ化されたパスワード。
	PasswordHash string
	// CreatedAt はユーザーの作成日時。
	CreatedAt time.Time
}

// RefreshToken はサーバー側に保存されるリフレッシュトークン。
type RefreshToken struct {
	// Token はトークン本体（不透明なUUID）。
	Token string
	// UserID はトークンの所有者。
	UserID string
	// ExpiresAt はトークンの有効期限。
	ExpiresAt time.Time
}

// Store はユーザーとリフレッシュトークンの権威ストア。
type Store struct {
	// db はSQLiteデータベース接続。
	db *sql.DB
}

// NewStore は新しい認証ストアを生成する。
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateUser はユーザーを保存する。
// ユーザー名またはメールアドレスが重複している場合はErrDuplicateを返す。
func (s *Store) CreateUser(ctx context.Context, u User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, email, password_hash, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.Email, u.PasswordHash, u.CreatedAt.UTC(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicate
		}
		return fmt.Errorf("ユーザーの保存に失敗: %w", err)
	}
	return nil
}

// GetUserByUsername はユーザーをユーザー名で取得する。
// 存在しない場合はsql.ErrNoRowsを返す。
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, email, password_hash, created_at FROM users WHERE username = ?`,
		username,
	).Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("ユーザーの取得に失敗: %w", err)
	}
	return &u, nil
}

// CreateRefreshToken はリフレッシュトークンを保存する。
func (s *Store) CreateRefreshToken(ctx context.Context, t RefreshToken) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO refresh_tokens (token, user_id, expires_at, created_at) VALUES (?, ?, ?, ?)`,
		t.Token, t.UserID, t.ExpiresAt.UTC(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("リフレッシュトークンの保存に失敗: %w", err)
	}
	return nil
}

// GetRefreshToken はリフレッシュトークンを取得する。
// 存在しない場合はsql.ErrNoRowsを返す。
func (s *Store) GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error) {
	var t RefreshToken
	err := s.db.QueryRowContext(ctx,
		`SELECT token, user_id, expires_at FROM refresh_tokens WHERE token = ?`,
		token,
	).Scan(&t.Token, &t.UserID, &t.ExpiresAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("リフレッシュトークンの取得に失敗: %w", err)
	}
	return &t, nil
}

// DeleteRefreshToken はリフレッシュトークンを削除する。存在しない場合も成功とする。
func (s *Store) DeleteRefreshToken(ctx context.Context, token string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE token = ?`, token); err != nil {
		return fmt.Errorf("リフレッシュトークンの削除に失敗: %w", err)
	}
	return nil
}

// GetUserByID はユーザーをIDで取得する。存在しない場合はsql.ErrNoRowsを返す。
func (s *Store) GetUserByID(ctx context.Context, id string) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, email, password_hash, created_at FROM users WHERE id = ?`,
		id,
	).Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("ユーザーの取得に失敗: %w", err)
	}
	return &u, nil
}
