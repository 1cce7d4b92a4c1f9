// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// JWT認証トークンの検証、X-User-IDヘッダーによる内部サービス向けの認証、
// レート制限、パニックリカバリ、CORS設定など、全サービスで共通して使用する
// ミドルウェアを含む。
//
// gatewayのリクエスト許可パイプラインは レート制限 → 認証 → ルーティング の
// 順で適用する。レート制限と認証のエラーはその場で終端し、リトライされない。
package middleware
