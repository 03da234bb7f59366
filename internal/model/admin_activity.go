package model

import "time"

// AdminAction は管理操作の種別を表す。
type AdminAction string

const (
	// ActionRoleChange はロール変更操作。
	ActionRoleChange AdminAction = "ROLE_CHANGE"
	// ActionUserDelete はユーザー削除操作。
	ActionUserDelete AdminAction = "USER_DELETE"
	// ActionPasswordUpdate はパスワード更新操作。
	ActionPasswordUpdate AdminAction = "PASSWORD_UPDATE"
	// ActionUserUpdate はプロフィール更新操作。
	ActionUserUpdate AdminAction = "USER_UPDATE"
)

// AdminActivity は管理操作の監査レコードを表す。
// 管理操作の成功時に追記される。書き込み失敗は元の操作を失敗させない（ベストエフォート）。
type AdminActivity struct {
	ID           string
	AdminID      string
	TargetUserID string
	Action       AdminAction
	Metadata     map[string]string
	CreatedAt    time.Time
}
