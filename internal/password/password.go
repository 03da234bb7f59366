// Package password はパスワードの一方向ハッシュ化と検証を提供する。
package password

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// bcryptCost はbcryptのワークファクター。固定値として扱う。
const bcryptCost = 10

// Hasher はソルト付き一方向ハッシュの生成と検証を提供する。
type Hasher struct{}

// NewHasher はHasherを生成する。
func NewHasher() *Hasher {
	return &Hasher{}
}

// Hash は平文パスワードをbcryptでハッシュ化する。
// 平文は保存もログ出力もしない。
func (h *Hasher) Hash(plaintext string) (string, error) {
	if plaintext == "" {
		return "", fmt.Errorf("password is empty")
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(digest), nil
}

// Verify は平文パスワードとハッシュの一致を検証する。
// bcrypt内部の定数時間比較を使用する。
func (h *Hasher) Verify(plaintext, digest string) bool {
	if digest == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext)) == nil
}

// GeneratePlaceholder はOAuthアカウント用の推測不可能なプレースホルダーパスワードを生成する。
// 生成された値は返却後に破棄され、誰もこの値でログインできない。
func GeneratePlaceholder() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate placeholder password: %w", err)
	}
	return hex.EncodeToString(b), nil
}
