package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/authhub/internal/model"
)

// PostgresAdminActivityRepo はPostgreSQLを使用した管理操作監査リポジトリ。
type PostgresAdminActivityRepo struct {
	db *sql.DB
}

// NewPostgresAdminActivityRepo はPostgresAdminActivityRepoを生成する。
func NewPostgresAdminActivityRepo(db *sql.DB) *PostgresAdminActivityRepo {
	return &PostgresAdminActivityRepo{db: db}
}

// Create は監査レコードを追記する。
// メタデータはJSONBとして保存する。
func (r *PostgresAdminActivityRepo) Create(ctx context.Context, activity *model.AdminActivity) error {
	metadata, err := json.Marshal(activity.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal activity metadata: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO admin_activities (id, admin_id, target_user_id, action, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		activity.ID, activity.AdminID, activity.TargetUserID,
		activity.Action, metadata, activity.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert admin activity: %w", err)
	}
	return nil
}

// compile-time interface check
var _ AdminActivityRepository = (*PostgresAdminActivityRepo)(nil)
