package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/authhub/internal/auth"
	"github.com/hitoshi/authhub/internal/middleware"
	"github.com/hitoshi/authhub/internal/model"
	"github.com/hitoshi/authhub/internal/session"
)

// mockAuthService はAuthServiceInterfaceの関数フィールドモック。
type mockAuthService struct {
	signupFn          func(ctx context.Context, input auth.SignupInput, meta auth.RequestMeta) (*session.TokenPair, *model.User, error)
	loginFn           func(ctx context.Context, email, password string, meta auth.RequestMeta) (*session.TokenPair, *model.User, error)
	refreshFn         func(ctx context.Context, refreshToken string) (*session.TokenPair, error)
	logoutFn          func(ctx context.Context, refreshToken string) error
	currentUserFn     func(ctx context.Context, userID string) (*model.User, error)
	providerEnabledFn func(name string) bool
	providerStatusFn  func() map[string]bool
	loginURLFn        func(provider, state string) (string, error)
	handleCallbackFn  func(ctx context.Context, provider, code string, meta auth.RequestMeta) (*session.TokenPair, error)
}

var _ AuthServiceInterface = (*mockAuthService)(nil)

func (m *mockAuthService) Signup(ctx context.Context, input auth.SignupInput, meta auth.RequestMeta) (*session.TokenPair, *model.User, error) {
	return m.signupFn(ctx, input, meta)
}

func (m *mockAuthService) Login(ctx context.Context, email, password string, meta auth.RequestMeta) (*session.TokenPair, *model.User, error) {
	return m.loginFn(ctx, email, password, meta)
}

func (m *mockAuthService) Refresh(ctx context.Context, refreshToken string) (*session.TokenPair, error) {
	return m.refreshFn(ctx, refreshToken)
}

func (m *mockAuthService) Logout(ctx context.Context, refreshToken string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, refreshToken)
	}
	return nil
}

func (m *mockAuthService) CurrentUser(ctx context.Context, userID string) (*model.User, error) {
	return m.currentUserFn(ctx, userID)
}

func (m *mockAuthService) ProviderEnabled(name string) bool {
	if m.providerEnabledFn != nil {
		return m.providerEnabledFn(name)
	}
	return false
}

func (m *mockAuthService) ProviderStatus() map[string]bool {
	if m.providerStatusFn != nil {
		return m.providerStatusFn()
	}
	return map[string]bool{}
}

func (m *mockAuthService) LoginURL(provider, state string) (string, error) {
	return m.loginURLFn(provider, state)
}

func (m *mockAuthService) HandleCallback(ctx context.Context, provider, code string, meta auth.RequestMeta) (*session.TokenPair, error) {
	return m.handleCallbackFn(ctx, provider, code, meta)
}

func testAuthConfig() AuthHandlerConfig {
	return AuthHandlerConfig{
		FrontendURL:   "http://localhost:3000",
		CookieSecure:  false,
		RefreshMaxAge: 7 * 24 * time.Hour,
		AccessMaxAge:  15 * time.Minute,
	}
}

func handlerTestUser() *model.User {
	return &model.User{
		ID:        "user-1",
		Name:      "Handler Test",
		Email:     "handler@example.com",
		Role:      model.RoleUser,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

func findCookie(t *testing.T, rec *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	return body
}

func TestSignup_Success(t *testing.T) {
	svc := &mockAuthService{
		signupFn: func(ctx context.Context, input auth.SignupInput, meta auth.RequestMeta) (*session.TokenPair, *model.User, error) {
			if input.Email != "new@example.com" {
				t.Errorf("email = %q", input.Email)
			}
			return &session.TokenPair{AccessToken: "access-1", RefreshToken: "refresh-1"}, handlerTestUser(), nil
		},
	}
	h := NewAuthHandler(svc, testAuthConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/auth/signup",
		strings.NewReader(`{"name":"New","email":"new@example.com","password":"secret1"}`))
	rec := httptest.NewRecorder()

	h.Signup(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}

	body := decodeBody(t, rec)
	if body["accessToken"] != "access-1" {
		t.Errorf("accessToken = %v", body["accessToken"])
	}
	user, ok := body["user"].(map[string]any)
	if !ok {
		t.Fatal("response should contain user object")
	}
	if user["email"] != "handler@example.com" {
		t.Errorf("user email = %v", user["email"])
	}
	// パスワード関連フィールドはレスポンスに含めない
	if _, leaked := user["passwordHash"]; leaked {
		t.Error("response must not contain password hash")
	}

	cookie := findCookie(t, rec, "refresh_token")
	if cookie == nil {
		t.Fatal("refresh_token cookie should be set")
	}
	if cookie.Value != "refresh-1" {
		t.Errorf("cookie value = %q", cookie.Value)
	}
	if !cookie.HttpOnly {
		t.Error("refresh cookie must be HttpOnly")
	}
}

func TestSignup_InvalidBody(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, testAuthConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/auth/signup", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()

	h.Signup(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if body := decodeBody(t, rec); body["code"] != model.ErrCodeValidation {
		t.Errorf("code = %v, want VALIDATION_FAILED", body["code"])
	}
}

func TestSignup_ServiceError_MapsStatus(t *testing.T) {
	svc := &mockAuthService{
		signupFn: func(ctx context.Context, input auth.SignupInput, meta auth.RequestMeta) (*session.TokenPair, *model.User, error) {
			return nil, nil, model.NewEmailTakenError()
		},
	}
	h := NewAuthHandler(svc, testAuthConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/auth/signup",
		strings.NewReader(`{"email":"dup@example.com","password":"secret1","name":"Dup"}`))
	rec := httptest.NewRecorder()

	h.Signup(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if body := decodeBody(t, rec); body["code"] != model.ErrCodeEmailTaken {
		t.Errorf("code = %v, want EMAIL_TAKEN", body["code"])
	}
}

func TestLogin_Success(t *testing.T) {
	svc := &mockAuthService{
		loginFn: func(ctx context.Context, email, password string, meta auth.RequestMeta) (*session.TokenPair, *model.User, error) {
			return &session.TokenPair{AccessToken: "access-2", RefreshToken: "refresh-2"}, handlerTestUser(), nil
		},
	}
	h := NewAuthHandler(svc, testAuthConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"email":"handler@example.com","password":"secret1"}`))
	rec := httptest.NewRecorder()

	h.Login(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if cookie := findCookie(t, rec, "refresh_token"); cookie == nil || cookie.Value != "refresh-2" {
		t.Error("refresh_token cookie should be rotated to the new token")
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	svc := &mockAuthService{
		loginFn: func(ctx context.Context, email, password string, meta auth.RequestMeta) (*session.TokenPair, *model.User, error) {
			return nil, nil, model.NewInvalidCredentialsError()
		},
	}
	h := NewAuthHandler(svc, testAuthConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"email":"x@example.com","password":"wrong"}`))
	rec := httptest.NewRecorder()

	h.Login(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if body := decodeBody(t, rec); body["code"] != model.ErrCodeInvalidCredentials {
		t.Errorf("code = %v, want INVALID_CREDENTIALS", body["code"])
	}
}

func TestRefresh_MissingCookie(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, testAuthConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil)
	rec := httptest.NewRecorder()

	h.Refresh(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestRefresh_RotatesCookie(t *testing.T) {
	svc := &mockAuthService{
		refreshFn: func(ctx context.Context, refreshToken string) (*session.TokenPair, error) {
			if refreshToken != "old-refresh" {
				t.Errorf("refreshToken = %q, want old-refresh", refreshToken)
			}
			return &session.TokenPair{AccessToken: "new-access", RefreshToken: "new-refresh"}, nil
		},
	}
	h := NewAuthHandler(svc, testAuthConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: "old-refresh"})
	rec := httptest.NewRecorder()

	h.Refresh(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body := decodeBody(t, rec); body["accessToken"] != "new-access" {
		t.Errorf("accessToken = %v", body["accessToken"])
	}
	if cookie := findCookie(t, rec, "refresh_token"); cookie == nil || cookie.Value != "new-refresh" {
		t.Error("refresh_token cookie should hold the rotated token")
	}
}

func TestRefresh_RejectedToken_ClearsCookie(t *testing.T) {
	svc := &mockAuthService{
		refreshFn: func(ctx context.Context, refreshToken string) (*session.TokenPair, error) {
			return nil, session.ErrUnauthorized
		},
	}
	h := NewAuthHandler(svc, testAuthConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: "replayed"})
	rec := httptest.NewRecorder()

	h.Refresh(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	cookie := findCookie(t, rec, "refresh_token")
	if cookie == nil || cookie.MaxAge >= 0 {
		t.Error("rejected refresh should clear the cookie")
	}
}

func TestLogout_ClearsCookies(t *testing.T) {
	var logoutCalled bool
	svc := &mockAuthService{
		logoutFn: func(ctx context.Context, refreshToken string) error {
			logoutCalled = true
			return nil
		},
	}
	h := NewAuthHandler(svc, testAuthConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: "refresh-3"})
	rec := httptest.NewRecorder()

	h.Logout(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !logoutCalled {
		t.Error("Logout should invalidate the server-side binding")
	}
	for _, name := range []string{"refresh_token", "access_token"} {
		cookie := findCookie(t, rec, name)
		if cookie == nil || cookie.MaxAge >= 0 {
			t.Errorf("%s cookie should be cleared", name)
		}
	}
}

func TestLogout_ServiceFailure_StillClearsCookies(t *testing.T) {
	svc := &mockAuthService{
		logoutFn: func(ctx context.Context, refreshToken string) error {
			return errors.New("store down")
		},
	}
	h := NewAuthHandler(svc, testAuthConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: "refresh-4"})
	rec := httptest.NewRecorder()

	h.Logout(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 even when invalidation fails", rec.Code)
	}
	if cookie := findCookie(t, rec, "refresh_token"); cookie == nil || cookie.MaxAge >= 0 {
		t.Error("cookie should be cleared despite service failure")
	}
}

func TestMe_ReturnsCurrentUser(t *testing.T) {
	svc := &mockAuthService{
		currentUserFn: func(ctx context.Context, userID string) (*model.User, error) {
			if userID != "user-1" {
				t.Errorf("userID = %q, want user-1", userID)
			}
			return handlerTestUser(), nil
		},
	}
	h := NewAuthHandler(svc, testAuthConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req = req.WithContext(middleware.ContextWithUser(req.Context(), "user-1", model.RoleUser))
	rec := httptest.NewRecorder()

	h.Me(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	user, ok := body["user"].(map[string]any)
	if !ok || user["id"] != "user-1" {
		t.Errorf("user = %v", body["user"])
	}
}

func TestMe_DeletedAccount_Returns404(t *testing.T) {
	svc := &mockAuthService{
		currentUserFn: func(ctx context.Context, userID string) (*model.User, error) {
			return nil, nil
		},
	}
	h := NewAuthHandler(svc, testAuthConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req = req.WithContext(middleware.ContextWithUser(req.Context(), "gone", model.RoleUser))
	rec := httptest.NewRecorder()

	h.Me(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestMe_NoAuthContext_Returns401(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, testAuthConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	rec := httptest.NewRecorder()

	h.Me(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

// newProviderRequest はchiのURLパラメータ{provider}を設定したリクエストを作る。
func newProviderRequest(method, target, provider string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("provider", provider)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestOAuthLogin_UnknownProvider_Returns404(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, testAuthConfig())

	req := newProviderRequest(http.MethodGet, "/api/auth/twitter", "twitter")
	rec := httptest.NewRecorder()

	h.OAuthLogin(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if body := decodeBody(t, rec); body["code"] != "UNKNOWN_PROVIDER" {
		t.Errorf("code = %v, want UNKNOWN_PROVIDER", body["code"])
	}
}

func TestOAuthLogin_DisabledProvider_Returns501(t *testing.T) {
	svc := &mockAuthService{
		providerEnabledFn: func(name string) bool { return false },
	}
	h := NewAuthHandler(svc, testAuthConfig())

	req := newProviderRequest(http.MethodGet, "/api/auth/google", "google")
	rec := httptest.NewRecorder()

	h.OAuthLogin(rec, req)

	if rec.Code != http.StatusNotImplemented {
		t.Errorf("status = %d, want 501", rec.Code)
	}
	if body := decodeBody(t, rec); body["code"] != model.ErrCodeOAuthNotConfigured {
		t.Errorf("code = %v, want OAUTH_NOT_CONFIGURED", body["code"])
	}
}

func TestOAuthLogin_RedirectsWithStateCookie(t *testing.T) {
	var gotState string
	svc := &mockAuthService{
		providerEnabledFn: func(name string) bool { return true },
		loginURLFn: func(provider, state string) (string, error) {
			gotState = state
			return "https://accounts.google.com/o/oauth2/v2/auth?state=" + state, nil
		},
	}
	h := NewAuthHandler(svc, testAuthConfig())

	req := newProviderRequest(http.MethodGet, "/api/auth/google", "google")
	rec := httptest.NewRecorder()

	h.OAuthLogin(rec, req)

	if rec.Code != http.StatusTemporaryRedirect {
		t.Fatalf("status = %d, want 307", rec.Code)
	}
	cookie := findCookie(t, rec, "oauth_state")
	if cookie == nil {
		t.Fatal("oauth_state cookie should be set")
	}
	if cookie.Value != gotState || gotState == "" {
		t.Errorf("state cookie = %q, provider state = %q", cookie.Value, gotState)
	}
	if location := rec.Header().Get("Location"); !strings.Contains(location, gotState) {
		t.Errorf("redirect location %q should carry the state", location)
	}
}

func TestOAuthCallback_StateMismatch_RedirectsToFailure(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, testAuthConfig())

	req := newProviderRequest(http.MethodGet, "/api/auth/google/callback?code=c&state=attacker", "google")
	req.AddCookie(&http.Cookie{Name: "oauth_state", Value: "expected"})
	rec := httptest.NewRecorder()

	h.OAuthCallback(rec, req)

	if rec.Code != http.StatusTemporaryRedirect {
		t.Fatalf("status = %d, want 307", rec.Code)
	}
	if location := rec.Header().Get("Location"); location != "/api/auth/google/fail" {
		t.Errorf("location = %q, want failure endpoint", location)
	}
}

func TestOAuthCallback_MissingCode_RedirectsToFailure(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, testAuthConfig())

	req := newProviderRequest(http.MethodGet, "/api/auth/google/callback?state=s1", "google")
	req.AddCookie(&http.Cookie{Name: "oauth_state", Value: "s1"})
	rec := httptest.NewRecorder()

	h.OAuthCallback(rec, req)

	if location := rec.Header().Get("Location"); location != "/api/auth/google/fail" {
		t.Errorf("location = %q, want failure endpoint", location)
	}
}

func TestOAuthCallback_Success_SetsCookiesAndRedirects(t *testing.T) {
	svc := &mockAuthService{
		handleCallbackFn: func(ctx context.Context, provider, code string, meta auth.RequestMeta) (*session.TokenPair, error) {
			if provider != "github" || code != "gh-code" {
				t.Errorf("provider/code = %q/%q", provider, code)
			}
			return &session.TokenPair{AccessToken: "cb-access", RefreshToken: "cb-refresh"}, nil
		},
	}
	h := NewAuthHandler(svc, testAuthConfig())

	req := newProviderRequest(http.MethodGet, "/api/auth/github/callback?code=gh-code&state=s2", "github")
	req.AddCookie(&http.Cookie{Name: "oauth_state", Value: "s2"})
	rec := httptest.NewRecorder()

	h.OAuthCallback(rec, req)

	if rec.Code != http.StatusTemporaryRedirect {
		t.Fatalf("status = %d, want 307", rec.Code)
	}
	if location := rec.Header().Get("Location"); location != "http://localhost:3000/dashboard" {
		t.Errorf("location = %q, want frontend dashboard", location)
	}
	if cookie := findCookie(t, rec, "refresh_token"); cookie == nil || cookie.Value != "cb-refresh" {
		t.Error("refresh_token cookie should be set")
	}
	if cookie := findCookie(t, rec, "access_token"); cookie == nil || cookie.Value != "cb-access" {
		t.Error("access_token cookie should be set")
	}
}

func TestOAuthCallback_ExchangeFailure_RedirectsToFailure(t *testing.T) {
	svc := &mockAuthService{
		handleCallbackFn: func(ctx context.Context, provider, code string, meta auth.RequestMeta) (*session.TokenPair, error) {
			return nil, errors.New("exchange failed")
		},
	}
	h := NewAuthHandler(svc, testAuthConfig())

	req := newProviderRequest(http.MethodGet, "/api/auth/google/callback?code=bad&state=s3", "google")
	req.AddCookie(&http.Cookie{Name: "oauth_state", Value: "s3"})
	rec := httptest.NewRecorder()

	h.OAuthCallback(rec, req)

	if location := rec.Header().Get("Location"); location != "/api/auth/google/fail" {
		t.Errorf("location = %q, want failure endpoint", location)
	}
}

func TestOAuthStatus(t *testing.T) {
	svc := &mockAuthService{
		providerStatusFn: func() map[string]bool {
			return map[string]bool{"google": true, "github": false}
		},
	}
	h := NewAuthHandler(svc, testAuthConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/auth/oauth/status", nil)
	rec := httptest.NewRecorder()

	h.OAuthStatus(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	providers, ok := body["providers"].(map[string]any)
	if !ok {
		t.Fatal("response should contain providers map")
	}
	if providers["google"] != true || providers["github"] != false {
		t.Errorf("providers = %v", providers)
	}
}
