// Package admin は管理者向けのユーザー管理・監査ログ機能を提供する。
package admin

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/authhub/internal/model"
	"github.com/hitoshi/authhub/internal/repository"
)

const (
	// defaultPageLimit は一覧取得のデフォルト件数。
	defaultPageLimit = 5
	// maxPageLimit は一覧取得の最大件数。
	maxPageLimit = 100
	// minPasswordLength はパスワードの最小文字数。
	minPasswordLength = 6
	// recentLoginWindow はダッシュボードの「最近のログイン」の集計期間。
	recentLoginWindow = 24 * time.Hour
)

// Pagination はページ分割されたレスポンスのメタ情報。
type Pagination struct {
	Page       int
	Limit      int
	Total      int
	TotalPages int
}

// DashboardStats は管理ダッシュボードの集計値。
type DashboardStats struct {
	TotalUsers     int
	RecentLogins   int // 直近24時間の成功ログイン数
	SecurityAlerts int // 失敗ログイン試行の総数
}

// ProfileInput はプロフィール部分更新の入力。nilフィールドは変更しない。
type ProfileInput struct {
	Name  *string
	Email *string
}

// Hasher はパスワード更新に必要なハッシュ化インターフェース。
type Hasher interface {
	Hash(plaintext string) (string, error)
}

// Service は管理操作のビジネスロジックを提供する。
// 破壊的な操作（ロール変更・削除）には自己対象ガードを適用し、
// 成功した全ての変更操作を監査レコードとして追記する。
type Service struct {
	users      repository.UserRepository
	logs       repository.LoginLogRepository
	activities repository.AdminActivityRepository
	hasher     Hasher
}

// NewService はServiceを生成する。
func NewService(
	users repository.UserRepository,
	logs repository.LoginLogRepository,
	activities repository.AdminActivityRepository,
	hasher Hasher,
) *Service {
	return &Service{
		users:      users,
		logs:       logs,
		activities: activities,
		hasher:     hasher,
	}
}

// DashboardStats はダッシュボードの集計値を返す。
func (s *Service) DashboardStats(ctx context.Context) (*DashboardStats, error) {
	totalUsers, err := s.users.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}

	recentLogins, err := s.logs.CountSuccessSince(ctx, time.Now().Add(-recentLoginWindow))
	if err != nil {
		return nil, fmt.Errorf("failed to count recent logins: %w", err)
	}

	securityAlerts, err := s.logs.CountFailures(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count login failures: %w", err)
	}

	return &DashboardStats{
		TotalUsers:     totalUsers,
		RecentLogins:   recentLogins,
		SecurityAlerts: securityAlerts,
	}, nil
}

// ListUsers はユーザー一覧を作成日時降順・ページ分割で取得する。
// ページ・件数は範囲外の値を安全な値に丸める。
func (s *Service) ListUsers(ctx context.Context, page, limit int) ([]*model.User, *Pagination, error) {
	page, limit = clampPage(page, limit)

	total, err := s.users.Count(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to count users: %w", err)
	}

	users, err := s.users.List(ctx, (page-1)*limit, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list users: %w", err)
	}

	return users, newPagination(page, limit, total), nil
}

// UpdateRole は指定ユーザーのロールを変更する。
// 未定義のロールは拒否し、自分自身のロール変更はブロックする。
func (s *Service) UpdateRole(ctx context.Context, adminID, targetID, newRole string) (*model.User, error) {
	role := model.Role(newRole)
	if !role.IsValid() {
		return nil, model.NewInvalidRoleError()
	}
	if adminID == targetID {
		return nil, model.NewSelfActionError("You cannot change your own role")
	}

	target, err := s.users.FindByID(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if target == nil {
		return nil, model.NewUserNotFoundError()
	}

	oldRole := target.Role
	found, err := s.users.UpdateRole(ctx, targetID, role)
	if err != nil {
		return nil, fmt.Errorf("failed to update role: %w", err)
	}
	if !found {
		return nil, model.NewUserNotFoundError()
	}

	s.recordActivity(ctx, adminID, targetID, model.ActionRoleChange, map[string]string{
		"old_role": string(oldRole),
		"new_role": string(role),
	})

	slog.Info("user role updated",
		slog.String("admin_id", adminID),
		slog.String("target_user_id", targetID),
		slog.String("old_role", string(oldRole)),
		slog.String("new_role", string(role)),
	)

	target.Role = role
	return target, nil
}

// UpdatePassword は指定ユーザーのパスワードを更新する。
// 平文はハッシュ化してから保存し、監査レコードには含めない。
func (s *Service) UpdatePassword(ctx context.Context, adminID, targetID, newPassword string) error {
	if len(newPassword) < minPasswordLength {
		return model.NewValidationError("Password must be at least 6 characters")
	}

	passwordHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	found, err := s.users.UpdatePassword(ctx, targetID, passwordHash)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if !found {
		return model.NewUserNotFoundError()
	}

	s.recordActivity(ctx, adminID, targetID, model.ActionPasswordUpdate, nil)

	slog.Info("user password updated",
		slog.String("admin_id", adminID),
		slog.String("target_user_id", targetID),
	)

	return nil
}

// UpdateProfile は指定ユーザーの名前・メールアドレスを部分更新する。
// メールアドレスは小文字正規化し、他ユーザーとの重複を拒否する。
func (s *Service) UpdateProfile(ctx context.Context, adminID, targetID string, input ProfileInput) (*model.User, error) {
	update := repository.ProfileUpdate{}
	changed := []string{}

	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return nil, model.NewValidationError("Name cannot be empty")
		}
		update.Name = &name
		changed = append(changed, "name")
	}

	if input.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*input.Email))
		if email == "" {
			return nil, model.NewValidationError("Email cannot be empty")
		}
		inUse, err := s.users.EmailInUseByOther(ctx, email, targetID)
		if err != nil {
			return nil, fmt.Errorf("failed to check email: %w", err)
		}
		if inUse {
			return nil, model.NewEmailTakenError()
		}
		update.Email = &email
		changed = append(changed, "email")
	}

	if update.Name == nil && update.Email == nil {
		return nil, model.NewValidationError("No fields to update")
	}

	found, err := s.users.UpdateProfile(ctx, targetID, update)
	if err != nil {
		if err == repository.ErrDuplicateEmail {
			return nil, model.NewEmailTakenError()
		}
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	if !found {
		return nil, model.NewUserNotFoundError()
	}

	s.recordActivity(ctx, adminID, targetID, model.ActionUserUpdate, map[string]string{
		"fields": strings.Join(changed, ","),
	})

	user, err := s.users.FindByID(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload user: %w", err)
	}
	return user, nil
}

// DeleteUser は指定ユーザーを削除する。自分自身の削除はブロックする。
func (s *Service) DeleteUser(ctx context.Context, adminID, targetID string) error {
	if adminID == targetID {
		return model.NewSelfActionError("You cannot delete your own account")
	}

	found, err := s.users.Delete(ctx, targetID)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if !found {
		return model.NewUserNotFoundError()
	}

	s.recordActivity(ctx, adminID, targetID, model.ActionUserDelete, nil)

	slog.Info("user deleted",
		slog.String("admin_id", adminID),
		slog.String("target_user_id", targetID),
	)

	return nil
}

// ListLogs はログイン試行ログをユーザー情報付き・作成日時降順・ページ分割で取得する。
// successがnilの場合は全件、非nilの場合は成否でフィルタする。
func (s *Service) ListLogs(ctx context.Context, success *bool, page, limit int) ([]model.LoginLogWithUser, *Pagination, error) {
	page, limit = clampPage(page, limit)

	total, err := s.logs.Count(ctx, success)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to count logs: %w", err)
	}

	logs, err := s.logs.List(ctx, success, (page-1)*limit, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list logs: %w", err)
	}

	return logs, newPagination(page, limit, total), nil
}

// recordActivity は監査レコードをベストエフォートで追記する。
// 書き込み失敗は元の操作を失敗させず、エラーログのみ残す。
func (s *Service) recordActivity(ctx context.Context, adminID, targetID string, action model.AdminAction, metadata map[string]string) {
	activity := &model.AdminActivity{
		ID:           uuid.New().String(),
		AdminID:      adminID,
		TargetUserID: targetID,
		Action:       action,
		Metadata:     metadata,
		CreatedAt:    time.Now(),
	}
	if err := s.activities.Create(ctx, activity); err != nil {
		slog.Error("failed to record admin activity",
			slog.String("error", err.Error()),
			slog.String("action", string(action)),
			slog.String("admin_id", adminID),
		)
	}
}

// clampPage はページ番号と件数を有効範囲に丸める。
func clampPage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return page, limit
}

// newPagination はページ分割メタ情報を計算する。
func newPagination(page, limit, total int) *Pagination {
	totalPages := (total + limit - 1) / limit
	if totalPages < 1 {
		totalPages = 1
	}
	return &Pagination{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: totalPages,
	}
}
