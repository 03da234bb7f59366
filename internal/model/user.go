// Package model はドメインモデルを定義する。
package model

import "time"

// Role はユーザーの権限ロールを表す。
// 全ユーザーはちょうど1つのロールを持つ。
type Role string

const (
	// RoleAdmin は管理操作（ユーザー一覧、ロール変更、削除等）を許可するロール。
	RoleAdmin Role = "Admin"
	// RoleManager は中間権限のロール。
	RoleManager Role = "Manager"
	// RoleUser はデフォルトのロール。
	RoleUser Role = "User"
)

// IsValid はロールが定義済みの3値のいずれかであるかを判定する。
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleUser:
		return true
	}
	return false
}

// User はサービス利用ユーザーを表す。
// ローカル認証とOAuth認証の両方のアカウントを同一レコードで扱う。
// OAuth経由で作成されたアカウントのPasswordHashには、
// ログインに使用できない生成プレースホルダーのハッシュが入る（空にはならない）。
type User struct {
	ID           string
	Name         string
	Email        string // 小文字正規化済み、全アカウントで一意
	PasswordHash string
	Role         Role

	// 外部IdP紐付け。ローカルアカウントでは空。
	OAuthProvider string
	OAuthID       string

	// RefreshTokenHash は現在有効なリフレッシュトークンのハッシュ。
	// セッションが存在しない場合は空。アカウントごとに同時に1つだけ有効。
	RefreshTokenHash string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasActiveSession はアカウントに有効なセッションバインディングが存在するかを返す。
func (u *User) HasActiveSession() bool {
	return u.RefreshTokenHash != ""
}
