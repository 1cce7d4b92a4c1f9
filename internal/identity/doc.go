// Package identity は認証サービスの内部実装を提供する。
//
// ユーザー登録・ログイン・トークン更新・ログアウトを処理する資格情報の
// 検証者であり、Gatewayが検証するJWTの発行元でもある。アクセストークンは
// 有効期限1時間のJWT、リフレッシュトークンはサーバー側に保存される
// 有効期限7日間の不透明なUUIDで、更新のたびにローテーションされる。
//
// 登録エンドポイントはアカウント列挙や総当たりを抑えるため、
// フェイルクローズドの厳格ポリシーでレート制限される。
package identity
