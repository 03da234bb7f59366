package model

import "time"

// LoginLog はログイン試行の監査ログエントリを表す。
// 成功・失敗を問わず全てのログイン試行とOAuthコールバック完了時に作成される。
// 追記専用であり、コアからは更新・削除されない。
type LoginLog struct {
	ID        string
	UserID    string // 該当アカウントが特定できない場合は空
	Email     string
	Provider  string // "local", "google", "github" 等
	IP        string
	UserAgent string
	Success   bool
	CreatedAt time.Time
}

// LoginLogWithUser はログエントリに該当ユーザーの情報を結合した構造体。
// 管理画面のログ一覧表示用。
type LoginLogWithUser struct {
	LoginLog
	UserEmail string
	UserRole  Role
}
