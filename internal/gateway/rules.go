package gateway

import "strings"

// RoutingRule は1つのパスプレフィックスに対する転送ルールを表す。
// ルールは起動時に読み込まれ、以降は読み取り専用となる。
type RoutingRule struct {
	// PathPrefix はこのルールがマッチする外部公開パスのプレフィックス。
	PathPrefix string
	// Target は転送先サービスのベースURL。
	Target string
	// AuthRequired はJWT検証を必要とするかどうか。
	AuthRequired bool
	// RawBody はリクエストボディを解析せずそのまま通すかどうか。
	// multipart/form-dataによるメディアアップロード等で使用する。
	RawBody bool
}

// externalPrefix は外部公開パスのプレフィックス。
const externalPrefix = "/v1"

// internalPrefix は内部サービス側のパスプレフィックス。
const internalPrefix = "/api"

// ServiceURLs は内部サービスのベースURL設定。
type ServiceURLs struct {
	// Identity はidentityサービスのURL。
	Identity string
	// Post はpostサービスのURL。
	Post string
	// Media はmediaサービスのURL。
	Media string
	// Search はsearchサービスのURL。
	Search string
}

// DefaultRules は標準のルーティングルール一覧を生成する。
// 認証エンドポイントのみ認証不要で、それ以外のルートはJWT検証を必須とする。
func DefaultRules(urls ServiceURLs) []RoutingRule {
	return []RoutingRule{
		{PathPrefix: "/v1/auth", Target: urls.Identity},
		{PathPrefix: "/v1/posts", Target: urls.Post, AuthRequired: true},
		{PathPrefix: "/v1/media", Target: urls.Media, AuthRequired: true, RawBody: true},
		{PathPrefix: "/v1/search", Target: urls.Search, AuthRequired: true},
	}
}

// ResolveRule はパスに最長一致するルールを返す。
// マッチするルールが無い場合はfalseを返す。
func ResolveRule(rules []RoutingRule, path string) (RoutingRule, bool) {
	var best RoutingRule
	found := false
	for _, rule := range rules {
		if !matchPrefix(path, rule.PathPrefix) {
			continue
		}
		if !found || len(rule.PathPrefix) > len(best.PathPrefix) {
			best = rule
			found = true
		}
	}
	return best, found
}

// matchPrefix はパスがプレフィックスにセグメント境界でマッチするか判定する。
// "/v1/posts" は "/v1/posts" と "/v1/posts/p1" にマッチするが
// "/v1/postscript" にはマッチしない。
func matchPrefix(path, prefix string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}

// rewritePath は外部公開パスを内部サービスのパスに書き換える。
// 例: "/v1/posts/p1" → "/api/posts/p1"
func rewritePath(path string) string {
	if strings.HasPrefix(path, externalPrefix) {
		return internalPrefix + strings.TrimPrefix(path, externalPrefix)
	}
	return path
}
