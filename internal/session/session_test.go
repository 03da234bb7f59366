package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/authhub/internal/model"
	"github.com/hitoshi/authhub/internal/token"
)

// mockUserStore はテスト用のユーザーストアモック。
// ユーザー1件のRefreshTokenHashをインメモリで保持し、ローテーションを観測できる。
type mockUserStore struct {
	user            *model.User
	findByIDFn      func(ctx context.Context, id string) (*model.User, error)
	updateHashCalls []string
	updateHashErr   error
}

var _ UserStore = (*mockUserStore)(nil)

func (m *mockUserStore) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	if m.user != nil && m.user.ID == id {
		return m.user, nil
	}
	return nil, nil
}

func (m *mockUserStore) UpdateRefreshHash(ctx context.Context, userID, hash string) error {
	if m.updateHashErr != nil {
		return m.updateHashErr
	}
	m.updateHashCalls = append(m.updateHashCalls, hash)
	if m.user != nil && m.user.ID == userID {
		m.user.RefreshTokenHash = hash
	}
	return nil
}

// fakeHasher はテスト用の決定的ハッシャー。
// Engineはダイジェストを不透明な値として扱うため、bcryptの実体は不要。
type fakeHasher struct{}

var _ Hasher = (*fakeHasher)(nil)

func (fakeHasher) Hash(plaintext string) (string, error) { return "hashed:" + plaintext, nil }
func (fakeHasher) Verify(plaintext, digest string) bool  { return digest == "hashed:"+plaintext }

func testTokenManager(t *testing.T) *token.Manager {
	t.Helper()
	m, err := token.NewManager(token.Config{
		AccessSecret:  []byte("session-test-access"),
		RefreshSecret: []byte("session-test-refresh"),
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("NewManager returned error: %v", err)
	}
	return m
}

func testEngine(t *testing.T, store *mockUserStore) *Engine {
	t.Helper()
	return NewEngine(store, fakeHasher{}, testTokenManager(t))
}

func sessionTestUser() *model.User {
	return &model.User{
		ID:    "user-session-test",
		Name:  "Session Test",
		Email: "session@example.com",
		Role:  model.RoleUser,
	}
}

func TestIssue_StoresBindingAndReturnsPair(t *testing.T) {
	user := sessionTestUser()
	store := &mockUserStore{user: user}
	engine := testEngine(t, store)

	pair, err := engine.Issue(context.Background(), user)
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected non-empty token pair")
	}
	if len(store.updateHashCalls) != 1 {
		t.Fatalf("UpdateRefreshHash calls = %d, want 1", len(store.updateHashCalls))
	}
	// 生のリフレッシュトークンは保存されない
	if store.updateHashCalls[0] == pair.RefreshToken {
		t.Error("stored binding must not be the raw refresh token")
	}
	if !user.HasActiveSession() {
		t.Error("user should have an active session after Issue")
	}
}

func TestIssue_ReplacesExistingBinding(t *testing.T) {
	user := sessionTestUser()
	store := &mockUserStore{user: user}
	engine := testEngine(t, store)

	if _, err := engine.Issue(context.Background(), user); err != nil {
		t.Fatalf("first Issue returned error: %v", err)
	}
	firstHash := user.RefreshTokenHash

	if _, err := engine.Issue(context.Background(), user); err != nil {
		t.Fatalf("second Issue returned error: %v", err)
	}

	if user.RefreshTokenHash == firstHash {
		t.Error("second Issue should replace the stored binding")
	}
	if len(store.updateHashCalls) != 2 {
		t.Errorf("UpdateRefreshHash calls = %d, want 2", len(store.updateHashCalls))
	}
}

func TestRefresh_RotatesTokenPair(t *testing.T) {
	user := sessionTestUser()
	store := &mockUserStore{user: user}
	engine := testEngine(t, store)

	pair, err := engine.Issue(context.Background(), user)
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	newPair, refreshedUser, err := engine.Refresh(context.Background(), pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}

	if refreshedUser.ID != user.ID {
		t.Errorf("user ID = %q, want %q", refreshedUser.ID, user.ID)
	}
	if newPair.RefreshToken == pair.RefreshToken {
		t.Error("Refresh should issue a new refresh token")
	}
	if newPair.AccessToken == "" {
		t.Error("expected a new access token")
	}
}

func TestRefresh_OldTokenRejectedAfterRotation(t *testing.T) {
	user := sessionTestUser()
	store := &mockUserStore{user: user}
	engine := testEngine(t, store)

	pair, err := engine.Issue(context.Background(), user)
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	// 1回目の交換は成功する
	if _, _, err := engine.Refresh(context.Background(), pair.RefreshToken); err != nil {
		t.Fatalf("first Refresh returned error: %v", err)
	}

	// ローテーション後の旧トークン再提示はハッシュ不一致で拒否される
	if _, _, err := engine.Refresh(context.Background(), pair.RefreshToken); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("replayed token error = %v, want ErrUnauthorized", err)
	}
}

func TestRefresh_InvalidToken_ReturnsUnauthorized(t *testing.T) {
	store := &mockUserStore{user: sessionTestUser()}
	engine := testEngine(t, store)

	for _, presented := range []string{"", "garbage", "a.b.c"} {
		if _, _, err := engine.Refresh(context.Background(), presented); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("Refresh(%q) error = %v, want ErrUnauthorized", presented, err)
		}
	}
}

func TestRefresh_NoStoredBinding_ReturnsUnauthorized(t *testing.T) {
	user := sessionTestUser()
	store := &mockUserStore{user: user}
	engine := testEngine(t, store)

	pair, err := engine.Issue(context.Background(), user)
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	// ログアウト等でバインディングがクリアされた状態
	user.RefreshTokenHash = ""

	if _, _, err := engine.Refresh(context.Background(), pair.RefreshToken); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("error = %v, want ErrUnauthorized", err)
	}
}

func TestRefresh_UnknownUser_ReturnsUnauthorized(t *testing.T) {
	user := sessionTestUser()
	store := &mockUserStore{user: user}
	engine := testEngine(t, store)

	pair, err := engine.Issue(context.Background(), user)
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	// ユーザーが削除された状態
	store.user = nil

	if _, _, err := engine.Refresh(context.Background(), pair.RefreshToken); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("error = %v, want ErrUnauthorized", err)
	}
}

func TestLogout_ClearsBinding(t *testing.T) {
	user := sessionTestUser()
	store := &mockUserStore{user: user}
	engine := testEngine(t, store)

	pair, err := engine.Issue(context.Background(), user)
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	if err := engine.Logout(context.Background(), pair.RefreshToken); err != nil {
		t.Fatalf("Logout returned error: %v", err)
	}

	if user.HasActiveSession() {
		t.Error("binding should be cleared after Logout")
	}

	// ログアウト済みトークンでのリフレッシュは拒否される
	if _, _, err := engine.Refresh(context.Background(), pair.RefreshToken); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("error = %v, want ErrUnauthorized", err)
	}
}

func TestLogout_InvalidToken_IsBestEffort(t *testing.T) {
	store := &mockUserStore{user: sessionTestUser()}
	engine := testEngine(t, store)

	// 無効なトークンでもエラーを返さない（クライアントのCookie削除を妨げない）
	if err := engine.Logout(context.Background(), "garbage"); err != nil {
		t.Errorf("Logout with invalid token returned error: %v", err)
	}
	if len(store.updateHashCalls) != 0 {
		t.Error("UpdateRefreshHash should not be called for an invalid token")
	}
}

func TestLogout_UnknownUser_IsNoOp(t *testing.T) {
	user := sessionTestUser()
	store := &mockUserStore{user: user}
	engine := testEngine(t, store)

	pair, err := engine.Issue(context.Background(), user)
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	store.user = nil
	calls := len(store.updateHashCalls)

	if err := engine.Logout(context.Background(), pair.RefreshToken); err != nil {
		t.Errorf("Logout returned error: %v", err)
	}
	if len(store.updateHashCalls) != calls {
		t.Error("UpdateRefreshHash should not be called when user is missing")
	}
}
