package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/authhub/internal/model"
)

// uniqueViolation はPostgreSQLの一意制約違反のエラーコード。
const uniqueViolation = "23505"

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const userColumns = `id, name, email, password_hash, role, oauth_provider, oauth_id, refresh_token_hash, created_at, updated_at`

// scanUser は1行をmodel.Userに読み込む。
func scanUser(row *sql.Row) (*model.User, error) {
	user := &model.User{}
	var provider, oauthID, refreshHash sql.NullString
	err := row.Scan(
		&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.Role,
		&provider, &oauthID, &refreshHash, &user.CreatedAt, &user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	user.OAuthProvider = provider.String
	user.OAuthID = oauthID.String
	user.RefreshTokenHash = refreshHash.String
	return user, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByEmail は小文字正規化済みメールアドレスでユーザーを検索する。
// 見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// FindByOAuth はproviderとoauth_idでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByOAuth(ctx context.Context, provider, oauthID string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE oauth_provider = $1 AND oauth_id = $2`,
		provider, oauthID,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to find user by oauth identity: %w", err)
	}
	return user, nil
}

// Create はユーザーを作成する。
// メールアドレスが既に存在する場合はErrDuplicateEmailを返す。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, name, email, password_hash, role, oauth_provider, oauth_id, refresh_token_hash, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), $9, $10)`,
		user.ID, user.Name, user.Email, user.PasswordHash, user.Role,
		user.OAuthProvider, user.OAuthID, user.RefreshTokenHash,
		user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// UpdateRefreshHash はセッションバインディングを置き換える。
// 空文字列を渡すとバインディングをクリアする。
// 同一アカウントへの同時更新はラストライター勝ちで解決される。
func (r *PostgresUserRepo) UpdateRefreshHash(ctx context.Context, userID, hash string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET refresh_token_hash = NULLIF($2, ''), updated_at = $3 WHERE id = $1`,
		userID, hash, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to update refresh hash: %w", err)
	}
	return nil
}

// UpdateRole は指定ユーザーのロールを更新する。対象が存在しない場合はfalseを返す。
func (r *PostgresUserRepo) UpdateRole(ctx context.Context, userID string, role model.Role) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET role = $2, updated_at = $3 WHERE id = $1`,
		userID, role, time.Now(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to update role: %w", err)
	}
	return affected(result)
}

// UpdatePassword は指定ユーザーのパスワードハッシュを更新する。
// 対象が存在しない場合はfalseを返す。
func (r *PostgresUserRepo) UpdatePassword(ctx context.Context, userID, passwordHash string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`,
		userID, passwordHash, time.Now(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to update password: %w", err)
	}
	return affected(result)
}

// UpdateProfile は指定ユーザーの名前・メールアドレスを部分更新する。
// nilフィールドは既存値を維持する。
func (r *PostgresUserRepo) UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET
			name = COALESCE($2, name),
			email = COALESCE($3, email),
			updated_at = $4
		 WHERE id = $1`,
		userID, update.Name, update.Email, time.Now(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return false, ErrDuplicateEmail
		}
		return false, fmt.Errorf("failed to update profile: %w", err)
	}
	return affected(result)
}

// LinkOAuth は既存ユーザーに外部IdP紐付けを設定する。
// 既に紐付けが存在する場合は上書きしない。
func (r *PostgresUserRepo) LinkOAuth(ctx context.Context, userID, provider, oauthID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET
			oauth_provider = COALESCE(oauth_provider, $2),
			oauth_id = COALESCE(oauth_id, $3),
			updated_at = $4
		 WHERE id = $1`,
		userID, provider, oauthID, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to link oauth identity: %w", err)
	}
	return nil
}

// Delete は指定IDのユーザーを削除する。対象が存在しない場合はfalseを返す。
func (r *PostgresUserRepo) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete user: %w", err)
	}
	return affected(result)
}

// List はユーザー一覧をcreated_at降順で取得する。
func (r *PostgresUserRepo) List(ctx context.Context, offset, limit int) ([]*model.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at DESC OFFSET $1 LIMIT $2`,
		offset, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		user := &model.User{}
		var provider, oauthID, refreshHash sql.NullString
		if err := rows.Scan(
			&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.Role,
			&provider, &oauthID, &refreshHash, &user.CreatedAt, &user.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		user.OAuthProvider = provider.String
		user.OAuthID = oauthID.String
		user.RefreshTokenHash = refreshHash.String
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate user rows: %w", err)
	}
	return users, nil
}

// Count は全ユーザー数を返す。
func (r *PostgresUserRepo) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return count, nil
}

// EmailInUseByOther は指定ユーザー以外がそのメールアドレスを使用しているかを返す。
func (r *PostgresUserRepo) EmailInUseByOther(ctx context.Context, email, excludeUserID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE email = $1 AND id <> $2)`,
		email, excludeUserID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check email usage: %w", err)
	}
	return exists, nil
}

// isUniqueViolation はエラーがPostgreSQLの一意制約違反かを判定する。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}

// affected は更新・削除が1行以上に作用したかを返す。
func affected(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
