// Package media はメディアサービスの内部実装を提供する。
//
// アップロードされたファイルのメタデータをSQLiteに、バイナリ本体を
// ローカルディスクのブロブストアに保存する。投稿サービスがpublishする
// post.deletedイベントを購読し、投稿に関連付けられたメディアの本体と
// メタデータを掃除するコンシューマーでもある。
//
// 掃除は冪等に実装される。既に存在しないブロブや行は成功として扱い、
// イベントの再配信があってもエラーにならない。
package media
