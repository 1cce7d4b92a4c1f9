// Package search は検索サービスの内部実装を提供する。
//
// 投稿サービスがpublishする変更イベントを購読してローカルの検索インデックスを
// 更新するコンシューマーと、そのインデックスに対するクエリAPIを持つ。
// インデックスは投稿ストアの派生データであり、イベントの再配信に耐えるため
// 更新はすべて冪等に実装される（upsertと存在しない行の削除許容）。
//
// 購読していない期間のイベントは失われるため、インデックスは結果整合であり
// 一時的に権威ストアと食い違うことがある。
package search
