// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/authhub/internal/model"
)

// ErrDuplicateEmail はメールアドレスの一意制約違反を示す。
var ErrDuplicateEmail = errors.New("repository: duplicate email")

// ProfileUpdate はプロフィールの部分更新内容を表す。
// nilフィールドは変更しない。
type ProfileUpdate struct {
	Name  *string
	Email *string
}

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail は小文字正規化済みメールアドレスでユーザーを検索する。
	// 見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// FindByOAuth はproviderとoauth_idでユーザーを検索する。見つからない場合はnilを返す。
	FindByOAuth(ctx context.Context, provider, oauthID string) (*model.User, error)

	// Create はユーザーを作成する。
	// メールアドレスが既に存在する場合はErrDuplicateEmailを返す。
	Create(ctx context.Context, user *model.User) error

	// UpdateRefreshHash はセッションバインディングを置き換える。
	// 空文字列を渡すとバインディングをクリアする。
	UpdateRefreshHash(ctx context.Context, userID, hash string) error

	// UpdateRole は指定ユーザーのロールを更新する。
	// 対象が存在しない場合はfalseを返す。
	UpdateRole(ctx context.Context, userID string, role model.Role) (bool, error)

	// UpdatePassword は指定ユーザーのパスワードハッシュを更新する。
	// パスワードフィールドの明示的な変更時のみ呼び出すこと。
	// 対象が存在しない場合はfalseを返す。
	UpdatePassword(ctx context.Context, userID, passwordHash string) (bool, error)

	// UpdateProfile は指定ユーザーの名前・メールアドレスを部分更新する。
	// メールアドレスが他ユーザーと重複する場合はErrDuplicateEmailを返す。
	// 対象が存在しない場合はfalseを返す。
	UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) (bool, error)

	// LinkOAuth は既存ユーザーに外部IdP紐付けを設定する。
	// 既に紐付けが存在する場合は上書きしない。
	LinkOAuth(ctx context.Context, userID, provider, oauthID string) error

	// Delete は指定IDのユーザーを削除する。対象が存在しない場合はfalseを返す。
	Delete(ctx context.Context, id string) (bool, error)

	// List はユーザー一覧をcreated_at降順で取得する。
	List(ctx context.Context, offset, limit int) ([]*model.User, error)

	// Count は全ユーザー数を返す。
	Count(ctx context.Context) (int, error)

	// EmailInUseByOther は指定ユーザー以外がそのメールアドレスを使用しているかを返す。
	EmailInUseByOther(ctx context.Context, email, excludeUserID string) (bool, error)
}

// LoginLogRepository はログイン試行ログの永続化インターフェース。
// ログは追記専用であり、コアからの更新操作は提供しない。
type LoginLogRepository interface {
	// Create はログエントリを追記する。
	Create(ctx context.Context, entry *model.LoginLog) error

	// List はログ一覧をユーザー情報付き・created_at降順で取得する。
	// successがnilの場合は全件、非nilの場合は成否でフィルタする。
	List(ctx context.Context, success *bool, offset, limit int) ([]model.LoginLogWithUser, error)

	// Count はフィルタ条件に一致するログ数を返す。
	Count(ctx context.Context, success *bool) (int, error)

	// CountSuccessSince は指定時刻以降の成功ログ数を返す。
	CountSuccessSince(ctx context.Context, since time.Time) (int, error)

	// CountFailures は失敗ログの総数を返す。
	CountFailures(ctx context.Context) (int, error)

	// DeleteOlderThan は指定時刻より古いログを削除し、削除件数を返す。
	// 保持期間運用のワーカーからのみ呼び出される。
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// AdminActivityRepository は管理操作の監査レコードの永続化インターフェース。
type AdminActivityRepository interface {
	// Create は監査レコードを追記する。
	Create(ctx context.Context, activity *model.AdminActivity) error
}
