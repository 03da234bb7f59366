// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/authhub/internal/auth"
	"github.com/hitoshi/authhub/internal/middleware"
	"github.com/hitoshi/authhub/internal/model"
	"github.com/hitoshi/authhub/internal/session"
)

const (
	refreshTokenCookie = "refresh_token"
	accessTokenCookie  = "access_token"
	oauthStateCookie   = "oauth_state"
)

// knownProviders は実装済みのOAuthプロバイダー名。
// 含まれないプロバイダーへのリクエストは404、
// 含まれるが未設定のプロバイダーへのリクエストは501となる。
var knownProviders = map[string]struct{}{
	"google": {},
	"github": {},
}

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Signup(ctx context.Context, input auth.SignupInput, meta auth.RequestMeta) (*session.TokenPair, *model.User, error)
	Login(ctx context.Context, email, password string, meta auth.RequestMeta) (*session.TokenPair, *model.User, error)
	Refresh(ctx context.Context, refreshToken string) (*session.TokenPair, error)
	Logout(ctx context.Context, refreshToken string) error
	CurrentUser(ctx context.Context, userID string) (*model.User, error)
	ProviderEnabled(name string) bool
	ProviderStatus() map[string]bool
	LoginURL(provider, state string) (string, error)
	HandleCallback(ctx context.Context, provider, code string, meta auth.RequestMeta) (*session.TokenPair, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	FrontendURL   string
	CookieDomain  string
	CookieSecure  bool
	RefreshMaxAge time.Duration // refresh_token Cookieの有効期間
	AccessMaxAge  time.Duration // access_token Cookieの有効期間（OAuthコールバックのみ）
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

// signupRequest はサインアップリクエストのボディ。
type signupRequest struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	Role        string `json:"role"`
	AdminSecret string `json:"adminSecret"`
}

// loginRequest はログインリクエストのボディ。
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// userResponse はユーザー情報のAPIレスポンス。
type userResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Provider  string    `json:"provider,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// toUserResponse はドメインのUserをAPIレスポンス型に変換する。
// パスワードハッシュとセッションバインディングは決して含めない。
func toUserResponse(user *model.User) userResponse {
	return userResponse{
		ID:        user.ID,
		Name:      user.Name,
		Email:     user.Email,
		Role:      string(user.Role),
		Provider:  user.OAuthProvider,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}
}

// Signup は新規アカウント作成を処理する。
// POST /api/auth/signup
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("Invalid request body"))
		return
	}

	pair, user, err := h.service.Signup(r.Context(), auth.SignupInput{
		Name:        req.Name,
		Email:       req.Email,
		Password:    req.Password,
		Role:        req.Role,
		AdminSecret: req.AdminSecret,
	}, requestMeta(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.setRefreshCookie(w, pair.RefreshToken)
	writeJSON(w, http.StatusCreated, map[string]any{
		"accessToken": pair.AccessToken,
		"user":        toUserResponse(user),
	})
}

// Login はメールアドレスとパスワードによるログインを処理する。
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("Invalid request body"))
		return
	}

	pair, user, err := h.service.Login(r.Context(), req.Email, req.Password, requestMeta(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.setRefreshCookie(w, pair.RefreshToken)
	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken": pair.AccessToken,
		"user":        toUserResponse(user),
	})
}

// Refresh はリフレッシュトークンの交換を処理する。
// POST /api/auth/refresh
// 成功時はCookieを新しいリフレッシュトークンに置き換える。
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(refreshTokenCookie)
	if err != nil || cookie.Value == "" {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError("Missing refresh token"))
		return
	}

	pair, err := h.service.Refresh(r.Context(), cookie.Value)
	if err != nil {
		// 失効・再利用トークンのCookieは保持しても無意味なため削除する
		h.clearCookie(w, refreshTokenCookie)
		handleServiceError(w, err)
		return
	}

	h.setRefreshCookie(w, pair.RefreshToken)
	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken": pair.AccessToken,
	})
}

// Logout はログアウトを処理する。
// POST /api/auth/logout
// バインディングのクリアはベストエフォートで、Cookie削除は常に行う。
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(refreshTokenCookie); err == nil && cookie.Value != "" {
		if logoutErr := h.service.Logout(r.Context(), cookie.Value); logoutErr != nil {
			slog.Error("failed to logout", slog.String("error", logoutErr.Error()))
		}
	}

	h.clearCookie(w, refreshTokenCookie)
	h.clearCookie(w, accessTokenCookie)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Logged out successfully",
	})
}

// Me は現在のログインユーザー情報を返す。
// GET /api/auth/me（要認証）
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError(""))
		return
	}

	user, err := h.service.CurrentUser(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if user == nil {
		// トークンは有効だがアカウントが削除済みのケース
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewUserNotFoundError())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user": toUserResponse(user),
	})
}

// OAuthLogin はOAuthフローを開始する。
// GET /api/auth/{provider}
func (h *AuthHandler) OAuthLogin(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	if _, known := knownProviders[provider]; !known {
		writeAPIErrorResponse(w, http.StatusNotFound, &model.APIError{
			Code:     "UNKNOWN_PROVIDER",
			Message:  "Unknown OAuth provider",
			Category: "auth",
		})
		return
	}
	if !h.service.ProviderEnabled(provider) {
		writeAPIErrorResponse(w, http.StatusNotImplemented, model.NewOAuthNotConfiguredError(provider))
		return
	}

	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
			Code:     model.ErrCodeInternal,
			Message:  "Internal server error",
			Category: "system",
		})
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600, // 10分
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	url, err := h.service.LoginURL(provider, state)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

// OAuthCallback はOAuthコールバックを処理する。
// GET /api/auth/{provider}/callback?code=xxx&state=yyy
// 成功時はCookieを設定してフロントエンドのダッシュボードへ、
// 失敗時は失敗エンドポイントへリダイレクトする。
func (h *AuthHandler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	if _, known := knownProviders[provider]; !known {
		writeAPIErrorResponse(w, http.StatusNotFound, &model.APIError{
			Code:     "UNKNOWN_PROVIDER",
			Message:  "Unknown OAuth provider",
			Category: "auth",
		})
		return
	}

	// 1. stateの検証（CSRF対策）
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch",
			slog.String("provider", provider),
		)
		h.redirectToFailure(w, r, provider)
		return
	}
	h.clearCookie(w, oauthStateCookie)

	// 2. プロバイダーからのエラー・認可コード欠落は失敗扱い
	if r.URL.Query().Get("error") != "" || r.URL.Query().Get("code") == "" {
		h.redirectToFailure(w, r, provider)
		return
	}

	// 3. コード交換とアカウント解決
	pair, err := h.service.HandleCallback(r.Context(), provider, r.URL.Query().Get("code"), requestMeta(r))
	if err != nil {
		slog.Error("oauth callback failed",
			slog.String("provider", provider),
			slog.String("error", err.Error()),
		)
		h.redirectToFailure(w, r, provider)
		return
	}

	// 4. Cookieを設定してフロントエンドへリダイレクト
	h.setRefreshCookie(w, pair.RefreshToken)
	http.SetCookie(w, &http.Cookie{
		Name:     accessTokenCookie,
		Value:    pair.AccessToken,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   int(h.config.AccessMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.config.FrontendURL+"/dashboard", http.StatusTemporaryRedirect)
}

// OAuthFail はOAuth失敗時の診断レスポンスを返す。
// GET /api/auth/{provider}/fail
func (h *AuthHandler) OAuthFail(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
		Code:     "OAUTH_FAILED",
		Message:  provider + " authentication failed",
		Category: "auth",
	})
}

// OAuthStatus は設定済みプロバイダーの一覧を返す。
// GET /api/auth/oauth/status
func (h *AuthHandler) OAuthStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"providers": h.service.ProviderStatus(),
	})
}

// setRefreshCookie はHTTP Onlyのリフレッシュトークンクッキーを設定する。
func (h *AuthHandler) setRefreshCookie(w http.ResponseWriter, refreshToken string) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshTokenCookie,
		Value:    refreshToken,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   int(h.config.RefreshMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearCookie は指定された名前のCookieを削除する。
func (h *AuthHandler) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// redirectToFailure は失敗エンドポイントへリダイレクトする。
func (h *AuthHandler) redirectToFailure(w http.ResponseWriter, r *http.Request, provider string) {
	http.Redirect(w, r, "/api/auth/"+provider+"/fail", http.StatusTemporaryRedirect)
}

// requestMeta はリクエストからログイン試行ログ用のメタ情報を取り出す。
func requestMeta(r *http.Request) auth.RequestMeta {
	return auth.RequestMeta{
		IP:        middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
	}
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
