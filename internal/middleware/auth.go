// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/hitoshi/authhub/internal/model"
	"github.com/hitoshi/authhub/internal/token"
)

// accessTokenCookieName はアクセストークンを保持するCookieの名前。
// OAuthコールバック後のブラウザ遷移で使用される。
const accessTokenCookieName = "access_token"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
var userIDContextKey = contextKey("user_id")

// userRoleContextKey はリクエストコンテキストにユーザーロールを格納するためのキー。
var userRoleContextKey = contextKey("user_role")

// AccessVerifier はアクセストークンの検証に必要なインターフェース。
// token.Managerの部分集合として定義する。
type AccessVerifier interface {
	VerifyAccess(tokenString string) (*token.AccessClaims, error)
}

// NewAuthMiddleware はBearerヘッダーまたはCookieからアクセストークンを読み取り、
// 署名と有効期限を検証するミドルウェアを返す。
// 認証済みのユーザーIDとロールをリクエストコンテキストに注入する。
// 未認証リクエストには401 Unauthorizedを返す。
func NewAuthMiddleware(verifier AccessVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. Authorization: Bearer ヘッダー、なければCookieからトークンを取得
			tokenString := bearerToken(r)
			if tokenString == "" {
				if cookie, err := r.Cookie(accessTokenCookieName); err == nil {
					tokenString = cookie.Value
				}
			}
			if tokenString == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError("Missing access token"))
				return
			}

			// 2. 署名・有効期限を検証
			claims, err := verifier.VerifyAccess(tokenString)
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError("Invalid or expired token"))
				return
			}

			// 3. 認証済みユーザーをコンテキストに注入
			ctx := ContextWithUser(r.Context(), claims.Subject, model.Role(claims.Role))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewRequireRolesMiddleware は許可ロールのいずれかを持つリクエストのみ通過させる
// ミドルウェアを返す。認証ミドルウェアの後に配置すること。
// ロールが許可リストに含まれない場合は403 Forbiddenを返す。
func NewRequireRolesMiddleware(allowed ...model.Role) func(next http.Handler) http.Handler {
	allowedSet := make(map[model.Role]struct{}, len(allowed))
	for _, role := range allowed {
		allowedSet[role] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, err := RoleFromContext(r.Context())
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError(""))
				return
			}

			if _, ok := allowedSet[role]; !ok {
				WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError(role))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken はAuthorizationヘッダーからBearerトークンを取り出す。
// ヘッダーが存在しない、またはBearer形式でない場合は空文字列を返す。
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// RoleFromContext はリクエストコンテキストからユーザーロールを取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func RoleFromContext(ctx context.Context) (model.Role, error) {
	role, ok := ctx.Value(userRoleContextKey).(model.Role)
	if !ok || role == "" {
		return "", fmt.Errorf("user role not found in context")
	}
	return role, nil
}

// ContextWithUser はコンテキストに認証済みユーザーのIDとロールを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUser(ctx context.Context, userID string, role model.Role) context.Context {
	ctx = context.WithValue(ctx, userIDContextKey, userID)
	return context.WithValue(ctx, userRoleContextKey, role)
}
