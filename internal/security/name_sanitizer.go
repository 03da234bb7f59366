// Package security はアプリケーションのセキュリティ機能を提供する。
//
// NameSanitizerService はOAuthプロバイダー由来の表示名をサニタイズし、
// 格納値へのHTML混入からユーザーを保護する。
// bluemondayのStrictPolicyで全てのタグを除去し、テキストのみを残す。
package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// maxDisplayNameLength は表示名の最大文字数。
// プロバイダーが返す異常に長い名前を格納前に切り詰める。
const maxDisplayNameLength = 100

// NameSanitizerService は表示名のサニタイズ機能のインターフェースを定義する。
// OAuthコールバックでの新規アカウント作成時に使用される。
type NameSanitizerService interface {
	// SanitizeName は表示名から全てのHTMLタグを除去し、
	// 前後の空白を取り除いたテキストを返す。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	SanitizeName(name string) string
}

// nameSanitizer はNameSanitizerServiceの実装。
// bluemondayのポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type nameSanitizer struct {
	policy *bluemonday.Policy
}

// NewNameSanitizer はNameSanitizerServiceの新しいインスタンスを生成する。
// StrictPolicyは許可タグを一切持たないため、全てのHTMLタグと
// on*イベント属性を含む要素が除去され、テキストのみが残る。
func NewNameSanitizer() *nameSanitizer {
	return &nameSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// SanitizeName は表示名をサニタイズして安全なテキストを返す。
// 切り詰めはルーン境界で行い、マルチバイト文字を分断しない。
func (s *nameSanitizer) SanitizeName(name string) string {
	cleaned := strings.TrimSpace(s.policy.Sanitize(name))
	if runes := []rune(cleaned); len(runes) > maxDisplayNameLength {
		cleaned = string(runes[:maxDisplayNameLength])
	}
	return cleaned
}
