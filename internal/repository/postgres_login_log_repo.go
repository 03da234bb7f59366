package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/authhub/internal/model"
)

// PostgresLoginLogRepo はPostgreSQLを使用したログイン試行ログリポジトリ。
type PostgresLoginLogRepo struct {
	db *sql.DB
}

// NewPostgresLoginLogRepo はPostgresLoginLogRepoを生成する。
func NewPostgresLoginLogRepo(db *sql.DB) *PostgresLoginLogRepo {
	return &PostgresLoginLogRepo{db: db}
}

// Create はログエントリを追記する。
func (r *PostgresLoginLogRepo) Create(ctx context.Context, entry *model.LoginLog) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO login_logs (id, user_id, email, provider, ip, user_agent, success, created_at)
		 VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8)`,
		entry.ID, entry.UserID, entry.Email, entry.Provider,
		entry.IP, entry.UserAgent, entry.Success, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert login log: %w", err)
	}
	return nil
}

// List はログ一覧をユーザー情報付き・created_at降順で取得する。
// successがnilの場合は全件、非nilの場合は成否でフィルタする。
func (r *PostgresLoginLogRepo) List(ctx context.Context, success *bool, offset, limit int) ([]model.LoginLogWithUser, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT l.id, COALESCE(l.user_id, ''), l.email, l.provider, l.ip, l.user_agent, l.success, l.created_at,
		        COALESCE(u.email, ''), COALESCE(u.role, '')
		 FROM login_logs l
		 LEFT JOIN users u ON u.id = l.user_id
		 WHERE $1::boolean IS NULL OR l.success = $1
		 ORDER BY l.created_at DESC
		 OFFSET $2 LIMIT $3`,
		nullableBool(success), offset, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list login logs: %w", err)
	}
	defer rows.Close()

	var logs []model.LoginLogWithUser
	for rows.Next() {
		var entry model.LoginLogWithUser
		if err := rows.Scan(
			&entry.ID, &entry.UserID, &entry.Email, &entry.Provider,
			&entry.IP, &entry.UserAgent, &entry.Success, &entry.CreatedAt,
			&entry.UserEmail, &entry.UserRole,
		); err != nil {
			return nil, fmt.Errorf("failed to scan login log row: %w", err)
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate login log rows: %w", err)
	}
	return logs, nil
}

// Count はフィルタ条件に一致するログ数を返す。
func (r *PostgresLoginLogRepo) Count(ctx context.Context, success *bool) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM login_logs WHERE $1::boolean IS NULL OR success = $1`,
		nullableBool(success),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count login logs: %w", err)
	}
	return count, nil
}

// CountSuccessSince は指定時刻以降の成功ログ数を返す。
func (r *PostgresLoginLogRepo) CountSuccessSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM login_logs WHERE success AND created_at >= $1`,
		since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count recent logins: %w", err)
	}
	return count, nil
}

// CountFailures は失敗ログの総数を返す。
func (r *PostgresLoginLogRepo) CountFailures(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM login_logs WHERE NOT success`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count failed logins: %w", err)
	}
	return count, nil
}

// DeleteOlderThan は指定時刻より古いログを削除し、削除件数を返す。
func (r *PostgresLoginLogRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM login_logs WHERE created_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old login logs: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// nullableBool は*boolをsql.NullBoolに変換する。
func nullableBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}

// compile-time interface check
var _ LoginLogRepository = (*PostgresLoginLogRepo)(nil)
