package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/authhub/internal/model"
	"github.com/hitoshi/authhub/internal/password"
	"github.com/hitoshi/authhub/internal/repository"
	"github.com/hitoshi/authhub/internal/session"
)

// minPasswordLength はパスワードの最小文字数。
const minPasswordLength = 6

// RequestMeta はログイン試行ログに記録するリクエスト情報。
type RequestMeta struct {
	IP        string
	UserAgent string
}

// SignupInput はサインアップの入力。
type SignupInput struct {
	Name        string
	Email       string
	Password    string
	Role        string
	AdminSecret string
}

// Hasher はパスワードのハッシュ化と検証に必要なインターフェース。
type Hasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, digest string) bool
}

// NameSanitizer はプロバイダー由来の表示名のサニタイズに必要なインターフェース。
type NameSanitizer interface {
	SanitizeName(name string) string
}

// Collector は認証イベントのメトリクス記録インターフェース。
type Collector interface {
	RecordLoginAttempt(provider string, success bool)
	RecordSignup()
	RecordRefreshRotation()
	RecordRefreshRejected()
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	providers   map[string]OAuthProvider
	users       repository.UserRepository
	logs        repository.LoginLogRepository
	hasher      Hasher
	sessions    *session.Engine
	sanitizer   NameSanitizer
	collector   Collector
	adminSecret string
}

// NewService はServiceを生成する。
// providersには設定済みプロバイダーのみを渡す（能力セット）。
// adminSecretが空の場合、Adminロールでのサインアップは常に拒否される。
func NewService(
	providers map[string]OAuthProvider,
	users repository.UserRepository,
	logs repository.LoginLogRepository,
	hasher Hasher,
	sessions *session.Engine,
	sanitizer NameSanitizer,
	collector Collector,
	adminSecret string,
) *Service {
	return &Service{
		providers:   providers,
		users:       users,
		logs:        logs,
		hasher:      hasher,
		sessions:    sessions,
		sanitizer:   sanitizer,
		collector:   collector,
		adminSecret: adminSecret,
	}
}

// Signup は新規アカウントを作成し、トークンペアを発行する。
// Adminロールの指定には共有シークレットの一致が必要。
// RoleにAdmin以外が指定された場合はUserとして作成する。
func (s *Service) Signup(ctx context.Context, input SignupInput, meta RequestMeta) (*session.TokenPair, *model.User, error) {
	name := strings.TrimSpace(input.Name)
	email := normalizeEmail(input.Email)

	if name == "" || email == "" || input.Password == "" {
		return nil, nil, model.NewValidationError("Missing required fields")
	}
	if len(input.Password) < minPasswordLength {
		return nil, nil, model.NewValidationError("Password must be at least 6 characters")
	}

	role := model.RoleUser
	if input.Role == string(model.RoleAdmin) {
		if !s.adminSecretMatches(input.AdminSecret) {
			return nil, nil, model.NewInvalidAdminSecretError()
		}
		role = model.RoleAdmin
	}

	passwordHash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now()
	user := &model.User{
		ID:           uuid.New().String(),
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, nil, model.NewEmailTakenError()
		}
		return nil, nil, fmt.Errorf("failed to create user: %w", err)
	}

	pair, err := s.sessions.Issue(ctx, user)
	if err != nil {
		return nil, nil, err
	}

	s.writeLoginLog(ctx, user.ID, email, "local", meta, true)
	s.collector.RecordSignup()
	s.collector.RecordLoginAttempt("local", true)

	slog.Info("user signed up",
		slog.String("user_id", user.ID),
		slog.String("role", string(user.Role)),
	)

	return pair, user, nil
}

// Login はメールアドレスとパスワードで認証し、トークンペアを発行する。
// 成功・失敗を問わずログイン試行ログを記録する。
// メールアドレス不明とパスワード不一致は区別せず、統一の認証失敗を返す。
func (s *Service) Login(ctx context.Context, email, plaintext string, meta RequestMeta) (*session.TokenPair, *model.User, error) {
	email = normalizeEmail(email)
	if email == "" || plaintext == "" {
		return nil, nil, model.NewValidationError("Missing credentials")
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find user: %w", err)
	}

	if user == nil || !s.hasher.Verify(plaintext, user.PasswordHash) {
		userID := ""
		if user != nil {
			userID = user.ID
		}
		s.writeLoginLog(ctx, userID, email, "local", meta, false)
		s.collector.RecordLoginAttempt("local", false)
		slog.Warn("login failed",
			slog.String("email", email),
			slog.String("ip", meta.IP),
		)
		return nil, nil, model.NewInvalidCredentialsError()
	}

	pair, err := s.sessions.Issue(ctx, user)
	if err != nil {
		return nil, nil, err
	}

	s.writeLoginLog(ctx, user.ID, email, "local", meta, true)
	s.collector.RecordLoginAttempt("local", true)

	return pair, user, nil
}

// Refresh はリフレッシュトークンを新しいトークンペアに交換する。
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*session.TokenPair, error) {
	pair, _, err := s.sessions.Refresh(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, session.ErrUnauthorized) {
			s.collector.RecordRefreshRejected()
		}
		return nil, err
	}
	s.collector.RecordRefreshRotation()
	return pair, nil
}

// Logout はセッションバインディングをベストエフォートでクリアする。
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	return s.sessions.Logout(ctx, refreshToken)
}

// CurrentUser は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (s *Service) CurrentUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// ProviderEnabled は指定プロバイダーが設定済みかを返す。
func (s *Service) ProviderEnabled(name string) bool {
	_, ok := s.providers[name]
	return ok
}

// ProviderStatus は全プロバイダーの設定状況を返す。
func (s *Service) ProviderStatus() map[string]bool {
	return map[string]bool{
		"google": s.ProviderEnabled("google"),
		"github": s.ProviderEnabled("github"),
	}
}

// LoginURL は指定プロバイダーのOAuth認証URLを生成する。
func (s *Service) LoginURL(providerName, state string) (string, error) {
	provider, ok := s.providers[providerName]
	if !ok {
		return "", model.NewOAuthNotConfiguredError(providerName)
	}
	return provider.GetLoginURL(state), nil
}

// HandleCallback はOAuthコールバックを処理し、アカウントを解決してトークンペアを発行する。
//
// アカウント解決の優先順位:
//  1. (provider, provider_user_id) の完全一致
//  2. メールアドレス一致 — 既存アカウントにIdP紐付けを追加（既存パスワードは維持）
//  3. 新規作成 — ロールUser、ログイン不可能な生成プレースホルダーパスワード
//
// いずれの経路でも成功時はセッションエンジンのログイン成功遷移へ進む。
func (s *Service) HandleCallback(ctx context.Context, providerName, code string, meta RequestMeta) (*session.TokenPair, error) {
	provider, ok := s.providers[providerName]
	if !ok {
		return nil, model.NewOAuthNotConfiguredError(providerName)
	}

	userInfo, err := provider.ExchangeCode(ctx, code)
	if err != nil {
		s.collector.RecordLoginAttempt(providerName, false)
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	user, err := s.resolveOAuthUser(ctx, userInfo)
	if err != nil {
		s.collector.RecordLoginAttempt(providerName, false)
		return nil, err
	}

	pair, err := s.sessions.Issue(ctx, user)
	if err != nil {
		return nil, err
	}

	s.writeLoginLog(ctx, user.ID, user.Email, providerName, meta, true)
	s.collector.RecordLoginAttempt(providerName, true)

	return pair, nil
}

// resolveOAuthUser はプロバイダーのユーザー情報を既存または新規のアカウントに解決する。
func (s *Service) resolveOAuthUser(ctx context.Context, info *OAuthUserInfo) (*model.User, error) {
	// 1. (provider, provider_user_id) の完全一致
	user, err := s.users.FindByOAuth(ctx, info.Provider, info.ProviderUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by oauth identity: %w", err)
	}

	// 2. メールアドレス一致
	if user == nil && info.Email != "" {
		user, err = s.users.FindByEmail(ctx, normalizeEmail(info.Email))
		if err != nil {
			return nil, fmt.Errorf("failed to find user by email: %w", err)
		}
	}

	if user != nil {
		// 既存アカウント: 紐付けを追加し、更新日時を進める。既存パスワードには触れない。
		if err := s.users.LinkOAuth(ctx, user.ID, info.Provider, info.ProviderUserID); err != nil {
			return nil, err
		}
		slog.Info("existing user logged in via oauth",
			slog.String("user_id", user.ID),
			slog.String("provider", info.Provider),
		)
		return user, nil
	}

	// 3. 新規作成
	placeholder, err := password.GeneratePlaceholder()
	if err != nil {
		return nil, err
	}
	passwordHash, err := s.hasher.Hash(placeholder)
	if err != nil {
		return nil, fmt.Errorf("failed to hash placeholder password: %w", err)
	}

	name := s.sanitizer.SanitizeName(info.Name)
	if name == "" {
		name = "User"
	}

	// プロバイダーがメールアドレスを返さない場合でも、一意制約に衝突しない
	// 決定的なプレースホルダーでアカウント作成を継続する。
	// 同一サブジェクトの再ログインは経路1の (provider, provider_user_id) 一致で解決される。
	email := normalizeEmail(info.Email)
	if email == "" {
		email = placeholderEmail(info.Provider, info.ProviderUserID)
	}

	now := time.Now()
	user = &model.User{
		ID:            uuid.New().String(),
		Name:          name,
		Email:         email,
		PasswordHash:  passwordHash,
		Role:          model.RoleUser,
		OAuthProvider: info.Provider,
		OAuthID:       info.ProviderUserID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create oauth user: %w", err)
	}

	slog.Info("new user created via oauth",
		slog.String("user_id", user.ID),
		slog.String("provider", info.Provider),
	)

	return user, nil
}

// writeLoginLog はログイン試行ログをベストエフォートで追記する。
// 書き込み失敗は元の操作を失敗させない。
func (s *Service) writeLoginLog(ctx context.Context, userID, email, provider string, meta RequestMeta, success bool) {
	entry := &model.LoginLog{
		ID:        uuid.New().String(),
		UserID:    userID,
		Email:     email,
		Provider:  provider,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		Success:   success,
		CreatedAt: time.Now(),
	}
	if err := s.logs.Create(ctx, entry); err != nil {
		slog.Error("failed to write login log",
			slog.String("error", err.Error()),
			slog.String("email", email),
		)
	}
}

// adminSecretMatches は管理者シークレットを定数時間で比較する。
func (s *Service) adminSecretMatches(candidate string) bool {
	if s.adminSecret == "" || candidate == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(s.adminSecret), []byte(candidate)) == 1
}

// normalizeEmail はメールアドレスを小文字・前後空白除去で正規化する。
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// placeholderEmail はメールアドレスを提供しないIdPサブジェクト用の
// プレースホルダーアドレスを生成する。プロバイダー名とサブジェクトIDから
// 決定的に導出されるため、サブジェクトごとに一意で再現可能な値になる。
func placeholderEmail(provider, subjectID string) string {
	return normalizeEmail(fmt.Sprintf("%s-%s@users.noreply.authhub.local", provider, subjectID))
}
