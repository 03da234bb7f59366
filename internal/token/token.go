// Package token は署名付きアクセストークンとリフレッシュトークンの発行・検証を提供する。
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/authhub/internal/model"
)

const issuer = "authhub"

var (
	// ErrInvalidToken は署名不正・形式不正・対象違いのトークンを示す。
	// 不正入力の詳細は区別せず、一律にこのエラーを返す。
	ErrInvalidToken = errors.New("token: invalid token")
	// ErrExpiredToken は有効期限切れのトークンを示す。
	ErrExpiredToken = errors.New("token: expired token")
)

// Config はトークンマネージャーの設定。
// アクセストークンとリフレッシュトークンは異なるシークレットで署名する。
type Config struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration // デフォルト15分
	RefreshTTL    time.Duration // デフォルト7日
}

// AccessClaims はアクセストークンのクレームセット。
type AccessClaims struct {
	Role model.Role `json:"role"`
	jwt.RegisteredClaims
}

// RefreshClaims はリフレッシュトークンのクレームセット。
// アカウントIDのみを含む。
type RefreshClaims struct {
	jwt.RegisteredClaims
}

// Manager はトークンの発行と検証を提供する。
// 検証は純粋でステートレス（I/Oなし）。
type Manager struct {
	config Config
}

// NewManager はManagerを生成する。
// シークレット未設定やTTL不正の場合はエラーを返す。
func NewManager(config Config) (*Manager, error) {
	if len(config.AccessSecret) == 0 {
		return nil, fmt.Errorf("access secret is required")
	}
	if len(config.RefreshSecret) == 0 {
		return nil, fmt.Errorf("refresh secret is required")
	}
	if config.AccessTTL <= 0 {
		config.AccessTTL = 15 * time.Minute
	}
	if config.RefreshTTL <= 0 {
		config.RefreshTTL = 7 * 24 * time.Hour
	}
	return &Manager{config: config}, nil
}

// AccessTTL はアクセストークンの有効期間を返す。
func (m *Manager) AccessTTL() time.Duration {
	return m.config.AccessTTL
}

// RefreshTTL はリフレッシュトークンの有効期間を返す。
func (m *Manager) RefreshTTL() time.Duration {
	return m.config.RefreshTTL
}

// IssueAccess はユーザーのアクセストークンを発行する。
// クレームにはアカウントIDとロールを含む。
func (m *Manager) IssueAccess(user *model.User) (string, error) {
	now := time.Now().UTC()
	claims := AccessClaims{
		Role: user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.AccessTTL)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.config.AccessSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

// IssueRefresh はユーザーのリフレッシュトークンを発行する。
// クレームにはアカウントIDのみを含む。
func (m *Manager) IssueRefresh(user *model.User) (string, error) {
	now := time.Now().UTC()
	claims := RefreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.RefreshTTL)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.config.RefreshSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign refresh token: %w", err)
	}
	return signed, nil
}

// VerifyAccess はアクセストークンを検証し、クレームを返す。
// 署名不正・形式不正はErrInvalidToken、期限切れはErrExpiredTokenを返す。
// 不正入力でpanicは発生しない。
func (m *Manager) VerifyAccess(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := m.verify(tokenString, m.config.AccessSecret, claims); err != nil {
		return nil, err
	}
	if claims.Subject == "" || !claims.Role.IsValid() {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// VerifyRefresh はリフレッシュトークンを検証し、クレームを返す。
func (m *Manager) VerifyRefresh(tokenString string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := m.verify(tokenString, m.config.RefreshSecret, claims); err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// verify は共通のトークン検証処理。
// HS256以外の署名メソッドは拒否する。
func (m *Manager) verify(tokenString string, secret []byte, claims jwt.Claims) error {
	if tokenString == "" {
		return ErrInvalidToken
	}

	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return secret, nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpiredToken
		}
		return ErrInvalidToken
	}
	if !parsed.Valid {
		return ErrInvalidToken
	}
	return nil
}
