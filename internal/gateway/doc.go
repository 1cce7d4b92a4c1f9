// Package gateway はAPI Gatewayサービスの内部実装を提供する。
//
// 外部からアクセス可能な唯一のサービスであり、セキュリティの境界線として
// 機能する。リクエストは レート制限 → JWT検証 → ルーティング の順の
// パイプラインを通過し、静的なルーティングルールに従って内部サービスに
// 転送される。検証済みのユーザーIDはX-User-IDヘッダーとして内部サービスに
// 伝播され、内部サービスはgatewayが唯一の入口であることを根拠に
// このヘッダーを信頼する。
package gateway
