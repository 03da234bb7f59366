package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/authhub/internal/model"
	"github.com/hitoshi/authhub/internal/token"
)

// mockAccessVerifier はテスト用のアクセストークン検証モック。
type mockAccessVerifier struct {
	verifyAccessFn func(tokenString string) (*token.AccessClaims, error)
}

var _ AccessVerifier = (*mockAccessVerifier)(nil)

func (m *mockAccessVerifier) VerifyAccess(tokenString string) (*token.AccessClaims, error) {
	if m.verifyAccessFn != nil {
		return m.verifyAccessFn(tokenString)
	}
	return nil, errors.New("not implemented")
}

func validClaims(userID string, role model.Role) *token.AccessClaims {
	return &token.AccessClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: userID,
		},
	}
}

func TestAuthMiddleware_BearerToken_InjectsUserIntoContext(t *testing.T) {
	verifier := &mockAccessVerifier{
		verifyAccessFn: func(tokenString string) (*token.AccessClaims, error) {
			if tokenString != "valid-token" {
				t.Errorf("token = %q, want %q", tokenString, "valid-token")
			}
			return validClaims("user-bearer", model.RoleUser), nil
		},
	}

	mw := NewAuthMiddleware(verifier)

	var capturedUserID string
	var capturedRole model.Role
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedUserID, _ = UserIDFromContext(r.Context())
		capturedRole, _ = RoleFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer valid-token")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
	if capturedUserID != "user-bearer" {
		t.Errorf("userID = %q, want %q", capturedUserID, "user-bearer")
	}
	if capturedRole != model.RoleUser {
		t.Errorf("role = %q, want %q", capturedRole, model.RoleUser)
	}
}

func TestAuthMiddleware_CookieFallback(t *testing.T) {
	verifier := &mockAccessVerifier{
		verifyAccessFn: func(tokenString string) (*token.AccessClaims, error) {
			if tokenString != "cookie-token" {
				return nil, token.ErrInvalidToken
			}
			return validClaims("user-cookie", model.RoleManager), nil
		},
	}

	mw := NewAuthMiddleware(verifier)

	var capturedUserID string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedUserID, _ = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	// Authorizationヘッダーなし、Cookieのみ
	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: "cookie-token"})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
	if capturedUserID != "user-cookie" {
		t.Errorf("userID = %q, want %q", capturedUserID, "user-cookie")
	}
}

func TestAuthMiddleware_BearerTakesPrecedenceOverCookie(t *testing.T) {
	verifier := &mockAccessVerifier{
		verifyAccessFn: func(tokenString string) (*token.AccessClaims, error) {
			if tokenString != "header-token" {
				t.Errorf("token = %q, want header token to win", tokenString)
			}
			return validClaims("user-header", model.RoleUser), nil
		},
	}

	mw := NewAuthMiddleware(verifier)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer header-token")
	req.AddCookie(&http.Cookie{Name: "access_token", Value: "cookie-token"})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
}

func TestAuthMiddleware_MissingToken_Returns401(t *testing.T) {
	verifier := &mockAccessVerifier{}

	mw := NewAuthMiddleware(verifier)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Code != model.ErrCodeUnauthorized {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeUnauthorized)
	}
}

func TestAuthMiddleware_InvalidToken_Returns401(t *testing.T) {
	verifier := &mockAccessVerifier{
		verifyAccessFn: func(tokenString string) (*token.AccessClaims, error) {
			return nil, token.ErrInvalidToken
		},
	}

	mw := NewAuthMiddleware(verifier)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer tampered-token")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestAuthMiddleware_ExpiredToken_Returns401(t *testing.T) {
	verifier := &mockAccessVerifier{
		verifyAccessFn: func(tokenString string) (*token.AccessClaims, error) {
			return nil, token.ErrExpiredToken
		},
	}

	mw := NewAuthMiddleware(verifier)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer expired-token")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestAuthMiddleware_MalformedAuthorizationHeader_Returns401(t *testing.T) {
	verifier := &mockAccessVerifier{}

	mw := NewAuthMiddleware(verifier)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	// Bearer形式でないヘッダーは無視され、トークンなし扱いになる
	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}

// --- NewRequireRolesMiddleware のテスト ---

func TestRequireRolesMiddleware_AllowedRole_PassesThrough(t *testing.T) {
	mw := NewRequireRolesMiddleware(model.RoleAdmin)

	handlerCalled := false
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/admin/data", nil)
	req = req.WithContext(ContextWithUser(req.Context(), "admin-1", model.RoleAdmin))
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
	if !handlerCalled {
		t.Error("handler should have been called")
	}
}

func TestRequireRolesMiddleware_DisallowedRole_Returns403(t *testing.T) {
	mw := NewRequireRolesMiddleware(model.RoleAdmin)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	for _, role := range []model.Role{model.RoleManager, model.RoleUser} {
		req := httptest.NewRequest(http.MethodGet, "/api/admin/data", nil)
		req = req.WithContext(ContextWithUser(req.Context(), "user-1", role))
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		resp := w.Result()
		if resp.StatusCode != http.StatusForbidden {
			t.Errorf("role %s: status = %d, want %d", role, resp.StatusCode, http.StatusForbidden)
		}

		var body ErrorResponseBody
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if body.Code != model.ErrCodeForbidden {
			t.Errorf("code = %q, want %q", body.Code, model.ErrCodeForbidden)
		}
	}
}

func TestRequireRolesMiddleware_MultipleAllowedRoles(t *testing.T) {
	mw := NewRequireRolesMiddleware(model.RoleAdmin, model.RoleManager)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		role       model.Role
		wantStatus int
	}{
		{model.RoleAdmin, http.StatusOK},
		{model.RoleManager, http.StatusOK},
		{model.RoleUser, http.StatusForbidden},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
		req = req.WithContext(ContextWithUser(req.Context(), "user-1", tt.role))
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		if w.Result().StatusCode != tt.wantStatus {
			t.Errorf("role %s: status = %d, want %d", tt.role, w.Result().StatusCode, tt.wantStatus)
		}
	}
}

func TestRequireRolesMiddleware_NoRoleInContext_Returns401(t *testing.T) {
	mw := NewRequireRolesMiddleware(model.RoleAdmin)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	// 認証ミドルウェアを通過していないリクエスト
	req := httptest.NewRequest(http.MethodGet, "/api/admin/data", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}

// --- コンテキストヘルパーのテスト ---

func TestUserIDFromContext_NotSet_ReturnsError(t *testing.T) {
	_, err := UserIDFromContext(context.Background())
	if err == nil {
		t.Error("expected error for missing user ID")
	}
}

func TestRoleFromContext_NotSet_ReturnsError(t *testing.T) {
	_, err := RoleFromContext(context.Background())
	if err == nil {
		t.Error("expected error for missing role")
	}
}

func TestContextWithUser_RoundTrip(t *testing.T) {
	ctx := ContextWithUser(context.Background(), "user-42", model.RoleManager)

	userID, err := UserIDFromContext(ctx)
	if err != nil {
		t.Fatalf("UserIDFromContext returned error: %v", err)
	}
	if userID != "user-42" {
		t.Errorf("userID = %q, want %q", userID, "user-42")
	}

	role, err := RoleFromContext(ctx)
	if err != nil {
		t.Fatalf("RoleFromContext returned error: %v", err)
	}
	if role != model.RoleManager {
		t.Errorf("role = %q, want %q", role, model.RoleManager)
	}
}
