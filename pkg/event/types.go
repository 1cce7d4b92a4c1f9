// Package event はサービス間で交換されるライフサイクルイベントの定義を提供する。
//
// イベントはルーティングキー（<リソース>.<ライフサイクル>形式）とJSONペイロードの
// 組で表現され、Event Busのトピックエクスチェンジを経由して配信される。
// コンシューマーは同じイベントが複数回配信される可能性（at-least-once配信）を
// 前提に、冪等に処理しなければならない。
package event

import "time"

// RoutingKey はトピックエクスチェンジでイベントを購読者にマッチングするためのラベル。
type RoutingKey string

const (
	// KeyPostCreated は投稿が作成されたことを表すルーティングキー。
	KeyPostCreated RoutingKey = "post.created"
	// KeyPostDeleted は投稿が削除されたことを表すルーティングキー。
	KeyPostDeleted RoutingKey = "post.deleted"
)

// PatternPostAll はすべての投稿ライフサイクルイベントにマッチする購読パターン。
const PatternPostAll = "post.*"

// PostCreated はpost.createdイベントのペイロード。
// 検索サービスがインデックスエントリを作成するために必要な情報を含む。
type PostCreated struct {
	// PostID は作成された投稿の一意識別子。
	PostID string `json:"post_id"`
	// UserID は投稿を作成したユーザーのID。
	UserID string `json:"user_id"`
	// Content は投稿の本文。
	Content string `json:"content"`
	// CreatedAt は投稿の作成日時。
	CreatedAt time.Time `json:"created_at"`
}

// PostDeleted はpost.deletedイベントのペイロード。
// メディアサービスが関連メディアをクリーンアップするために必要な情報を含む。
type PostDeleted struct {
	// PostID は削除された投稿の一意識別子。
	PostID string `json:"post_id"`
	// UserID は削除を実行したユーザーのID。
	UserID string `json:"user_id"`
	// MediaIDs は投稿に関連付けられていたメディアのID一覧。
	MediaIDs []string `json:"media_ids"`
}
