package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// JWTClaims はJWTトークンのクレーム（ペイロード）を表す。
// ユーザーID等の情報をサービス間で伝播するために使用する。
type JWTClaims struct {
	jwt.RegisteredClaims
	// UserID は認証済みユーザーの一意識別子。
	UserID string `json:"user_id"`
	// Username はユーザー名。
	Username string `json:"username"`
}

// HeaderUserID はサービス間でユーザーIDを伝播するためのHTTPヘッダーキー。
// gatewayが唯一の入口として検証を行うため、内部サービスはこのヘッダーを信頼する。
const HeaderUserID = "X-User-ID"

// tokenExpiry はアクセストークンの有効期間。
const tokenExpiry = time.Hour

// 認証エラーの種別コード。クライアントは code フィールドで失敗理由を判別できる。
const (
	// CodeMissingCredential はAuthorizationヘッダーが存在しないことを表す。
	CodeMissingCredential = "missing_credential"
	// CodeMalformedCredential はヘッダーは存在するがトークンが取り出せないことを表す。
	CodeMalformedCredential = "malformed_credential"
	// CodeInvalidCredential はトークンの検証に失敗した（期限切れを含む）ことを表す。
	CodeInvalidCredential = "invalid_credential"
)

// GenerateJWT はユーザー情報からJWTトークンを生成する。
// identityサービスが登録・ログイン成功後に呼び出す。
func GenerateJWT(secret, userID, username string) (string, error) {
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(tokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "sns-identity",
		},
		UserID:   userID,
		Username: username,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// JWTAuth はJWTトークンを検証するGinミドルウェアを返す。
// 検証に成功した場合、コンテキストに "user_id" と "username" を設定する。
// 失敗した場合は必ずその場でパイプラインを打ち切り、後段には進まない。
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  CodeMissingCredential,
				"error": "Authorizationヘッダーが必要です",
			})
			return
		}

		tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found || tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  CodeMalformedCredential,
				"error": "Bearer トークン形式が不正です",
			})
			return
		}

		claims := &JWTClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  CodeInvalidCredential,
				"error": "トークンが無効です",
			})
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("username", claims.Username)
		c.Next()
	}
}

// RequireUserID はX-User-IDヘッダーからユーザーIDを取り出すGinミドルウェアを返す。
// gatewayの後段に位置する内部サービスで使用する。ヘッダーが無い場合は401を返す。
func RequireUserID() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader(HeaderUserID)
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  CodeMissingCredential,
				"error": "ユーザーIDが設定されていません",
			})
			return
		}
		c.Set("user_id", userID)
		c.Next()
	}
}

// GetUserID はGinコンテキストからユーザーIDを取得する。
// JWTAuthまたはRequireUserIDミドルウェアが事前に適用されている必要がある。
func GetUserID(c *gin.Context) string {
	userID, _ := c.Get("user_id")
	if id, ok := userID.(string); ok {
		return id
	}
	return ""
}
