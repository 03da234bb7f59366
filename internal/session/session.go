// Package session はリフレッシュトークンのローテーションによるセッション管理を提供する。
//
// アカウントごとに有効なリフレッシュトークンは常に1つだけであり、
// ログイン成功時とリフレッシュ交換時に無条件で置き換えられる。
// ストアにはトークンのハッシュのみを保持し、生値は保存しない。
// これによりストア漏洩から直接セッションを復元できず、
// ローテーション後の旧トークン再利用はハッシュ不一致として検出される。
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/authhub/internal/model"
	"github.com/hitoshi/authhub/internal/token"
)

// ErrUnauthorized はリフレッシュトークンの検証・照合失敗を示す。
// 署名不正、期限切れ、バインディング不在、ハッシュ不一致を区別せずに返す。
var ErrUnauthorized = errors.New("session: unauthorized")

// UserStore はセッションエンジンが必要とするユーザー永続化の部分インターフェース。
type UserStore interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)
	// UpdateRefreshHash はセッションバインディングを置き換える。
	// 空文字列を渡すとバインディングをクリアする。
	UpdateRefreshHash(ctx context.Context, userID, hash string) error
}

// Hasher はバインディングハッシュの生成と検証に必要なインターフェース。
// password.Hasherの部分集合として定義する。
type Hasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, digest string) bool
}

// TokenPair はアクセストークンとリフレッシュトークンの組。
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// Engine はアカウントごとのセッションローテーションを実装する。
type Engine struct {
	users  UserStore
	hasher Hasher
	tokens *token.Manager
}

// NewEngine はEngineを生成する。
func NewEngine(users UserStore, hasher Hasher, tokens *token.Manager) *Engine {
	return &Engine{
		users:  users,
		hasher: hasher,
		tokens: tokens,
	}
}

// Issue はログイン成功時の遷移を実行する。
// 新しいアクセス・リフレッシュトークンの組を発行し、
// リフレッシュトークンのハッシュを新しいバインディングとして保存する。
// 既存のバインディングは無条件に破棄される（重複期間なし）。
func (e *Engine) Issue(ctx context.Context, user *model.User) (*TokenPair, error) {
	accessToken, err := e.tokens.IssueAccess(user)
	if err != nil {
		return nil, fmt.Errorf("failed to issue access token: %w", err)
	}

	refreshToken, err := e.tokens.IssueRefresh(user)
	if err != nil {
		return nil, fmt.Errorf("failed to issue refresh token: %w", err)
	}

	hash, err := e.hashBinding(refreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to hash refresh binding: %w", err)
	}

	if err := e.users.UpdateRefreshHash(ctx, user.ID, hash); err != nil {
		return nil, fmt.Errorf("failed to store refresh binding: %w", err)
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}

// Refresh はリフレッシュトークン交換を実行する。
// 提示されたトークンの署名・期限を検証し、保存済みバインディングと照合した上で、
// 新しいトークンペアを発行してバインディングを置き換える。
// 旧トークンは以後恒久的に無効となる。
// 検証・照合のいずれかが失敗した場合はErrUnauthorizedを返す。
func (e *Engine) Refresh(ctx context.Context, presented string) (*TokenPair, *model.User, error) {
	claims, err := e.tokens.VerifyRefresh(presented)
	if err != nil {
		return nil, nil, ErrUnauthorized
	}

	user, err := e.users.FindByID(ctx, claims.Subject)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil || !user.HasActiveSession() {
		return nil, nil, ErrUnauthorized
	}

	// 保存しているのはハッシュのみのため、ハッシャーのVerifyで照合する。
	// ローテーション後に再提示された旧トークンはここで不一致となる。
	if !e.hasher.Verify(bindingDigest(presented), user.RefreshTokenHash) {
		slog.Warn("refresh token reuse or mismatch detected",
			slog.String("user_id", user.ID),
		)
		return nil, nil, ErrUnauthorized
	}

	pair, err := e.Issue(ctx, user)
	if err != nil {
		return nil, nil, err
	}

	return pair, user, nil
}

// Logout はセッションバインディングをクリアする。
// 提示されたトークン自体の有効性に関わらずベストエフォートで動作し、
// トークン検証に失敗してもエラーを返さない（クライアント側のCookie削除を妨げない）。
func (e *Engine) Logout(ctx context.Context, presented string) error {
	claims, err := e.tokens.VerifyRefresh(presented)
	if err != nil {
		return nil
	}

	user, err := e.users.FindByID(ctx, claims.Subject)
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil
	}

	if err := e.users.UpdateRefreshHash(ctx, user.ID, ""); err != nil {
		return fmt.Errorf("failed to clear refresh binding: %w", err)
	}

	slog.Info("user logged out", slog.String("user_id", user.ID))
	return nil
}

// hashBinding はリフレッシュトークンのバインディングハッシュを生成する。
func (e *Engine) hashBinding(refreshToken string) (string, error) {
	return e.hasher.Hash(bindingDigest(refreshToken))
}

// bindingDigest はトークンをbcryptの72バイト入力上限に収めるため、
// SHA-256ダイジェストの16進表現に変換する。
func bindingDigest(refreshToken string) string {
	sum := sha256.Sum256([]byte(refreshToken))
	return hex.EncodeToString(sum[:])
}
