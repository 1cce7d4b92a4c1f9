package media

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// BlobStore はメディアバイナリの保存先インターフェース。
// 本番ではローカルディスク実装を使用し、外部オブジェクトストレージへの
// 差し替えはこのシームで行う。
type BlobStore interface {
	// Save はメディアIDに対応するブロブを保存し、保存パスを返す。
	Save(mediaID, filename string, r io.Reader) (string, error)
	// Remove はメディアIDに対応するブロブを削除する。
	// 既に存在しない場合は成功として扱う。
	Remove(mediaID string) error
}

// DiskBlobStore はローカルディスクにブロブを保存するBlobStore実装。
// メディアIDごとにサブディレクトリを作成してファイルを配置する。
type DiskBlobStore struct {
	// baseDir はブロブを配置するルートディレクトリ。
	baseDir string
}

// NewDiskBlobStore はbaseDir配下にブロブを保存するストアを生成する。
// ディレクトリが存在しない場合は作成する。
func NewDiskBlobStore(baseDir string) (*DiskBlobStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("ブロブディレクトリの作成に失敗: %w", err)
	}
	return &DiskBlobStore{baseDir: baseDir}, nil
}

// Save はブロブをディスクに保存して保存パスを返す。
func (s *DiskBlobStore) Save(mediaID, filename string, r io.Reader) (string, error) {
	mediaDir := filepath.Join(s.baseDir, mediaID)
	if err := os.MkdirAll(mediaDir, 0o755); err != nil {
		return "", fmt.Errorf("メディアディレクトリの作成に失敗: %w", err)
	}

	// パストラバーサルを防ぐためファイル名部分のみ使用する
	storagePath := filepath.Join(mediaDir, filepath.Base(filename))
	dst, err := os.Create(storagePath)
	if err != nil {
		return "", fmt.Errorf("ファイルの作成に失敗: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, r); err != nil {
		return "", fmt.Errorf("ファイルの書き込みに失敗: %w", err)
	}
	return storagePath, nil
}

// Remove はメディアIDのディレクトリごとブロブを削除する。
// 既に存在しないディレクトリも成功として扱う（冪等）。
func (s *DiskBlobStore) Remove(mediaID string) error {
	mediaDir := filepath.Join(s.baseDir, mediaID)
	if err := os.RemoveAll(mediaDir); err != nil {
		return fmt.Errorf("ブロブの削除に失敗: %w", err)
	}
	return nil
}
