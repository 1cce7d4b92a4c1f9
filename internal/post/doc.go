// Package post は投稿サービスの内部実装を提供する。
//
// 投稿の作成・取得・削除を処理するコンテンツの権威ストアであり、
// 変更の伝播元となるイベントプロデューサーでもある。変更は
// ストアへのコミット → キャッシュ無効化 → イベントpublish の順で処理され、
// この順序規律が検索インデックスやメディアストアとの結果整合性を支える
// 唯一のメカニズムとなる。publishの失敗で変更はロールバックされない
// （不整合の窓は許容された既知のギャップである）。
//
// 読み取りクエリはRedisキャッシュを前段に持ち、キャッシュ障害時は
// ミスとして扱い権威ストアへフォールバックする（フェイルオープン）。
package post
