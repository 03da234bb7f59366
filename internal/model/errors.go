// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// HTTPレスポンスに含めるエラーコードとメッセージを保持する。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ（APIクライアント向け、英語）
	Category string // カテゴリ: auth, validation, admin, system
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidation         = "VALIDATION_FAILED"
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeEmailTaken         = "EMAIL_TAKEN"
	ErrCodeInvalidRole        = "INVALID_ROLE"
	ErrCodeSelfAction         = "SELF_ACTION_BLOCKED"
	ErrCodeUserNotFound       = "USER_NOT_FOUND"
	ErrCodeInvalidAdminSecret = "INVALID_ADMIN_SECRET"
	ErrCodeOAuthNotConfigured = "OAUTH_NOT_CONFIGURED"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// NewValidationError は入力不備エラーを生成する。
func NewValidationError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  message,
		Category: "validation",
	}
}

// NewInvalidCredentialsError は認証失敗エラーを生成する。
// メールアドレスとパスワードのどちらが誤っていたかを明かさない
// 統一メッセージを返す（アカウント列挙対策）。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "Invalid credentials",
		Category: "auth",
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError(message string) *APIError {
	if message == "" {
		message = "Not authorized"
	}
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  message,
		Category: "auth",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError(role Role) *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  fmt.Sprintf("Role %s is not authorized", role),
		Category: "auth",
	}
}

// NewEmailTakenError はメールアドレス重複エラーを生成する。
func NewEmailTakenError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailTaken,
		Message:  "Email already registered",
		Category: "validation",
	}
}

// NewInvalidRoleError は無効なロール指定エラーを生成する。
func NewInvalidRoleError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRole,
		Message:  "Invalid role",
		Category: "validation",
	}
}

// NewSelfActionError は自己対象操作のブロックエラーを生成する。
// ロール変更と削除を自分自身に対して実行しようとした場合に返す。
func NewSelfActionError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeSelfAction,
		Message:  message,
		Category: "admin",
	}
}

// NewUserNotFoundError はユーザー未検出エラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "User not found",
		Category: "admin",
	}
}

// NewInvalidAdminSecretError は管理者シークレット不一致エラーを生成する。
func NewInvalidAdminSecretError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidAdminSecret,
		Message:  "Invalid Admin Secret Key",
		Category: "auth",
	}
}

// NewOAuthNotConfiguredError は未設定プロバイダーへのOAuth要求エラーを生成する。
func NewOAuthNotConfiguredError(provider string) *APIError {
	return &APIError{
		Code:     ErrCodeOAuthNotConfigured,
		Message:  fmt.Sprintf("%s OAuth not configured", provider),
		Category: "auth",
	}
}
