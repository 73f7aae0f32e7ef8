package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/estate/internal/identity"
	"github.com/hitoshi/estate/internal/model"
	"github.com/hitoshi/estate/internal/session"
)

// --- モック定義 ---

// mockBackend はidentity.Backendのモック。未設定の操作は呼び出されない前提で埋め込みに委譲する。
type mockBackend struct {
	identity.Backend
	getSessionFn func(ctx context.Context, token string) (*identity.AuthResult, bool, error)
	signOutFn    func(ctx context.Context, token string) error
}

func (m *mockBackend) GetSession(ctx context.Context, token string) (*identity.AuthResult, bool, error) {
	if m.getSessionFn != nil {
		return m.getSessionFn(ctx, token)
	}
	return nil, false, nil
}

func (m *mockBackend) SignOut(ctx context.Context, token string) error {
	if m.signOutFn != nil {
		return m.signOutFn(ctx, token)
	}
	return nil
}

type mockProfileFinder struct {
	findByUserIDFn func(ctx context.Context, userID string) (*model.Profile, error)
}

func (m *mockProfileFinder) FindByUserID(ctx context.Context, userID string) (*model.Profile, error) {
	if m.findByUserIDFn != nil {
		return m.findByUserIDFn(ctx, userID)
	}
	return nil, nil
}

// backendWithSession は指定トークンに対してidentityを返すバックエンドを生成する。
func backendWithSession(token, userID string) *mockBackend {
	return &mockBackend{
		getSessionFn: func(_ context.Context, got string) (*identity.AuthResult, bool, error) {
			if got != token {
				return nil, false, nil
			}
			return &identity.AuthResult{
				Identity: &model.Identity{ID: userID, Email: userID + "@example.com"},
				Session: &model.AuthSession{
					AccessToken: token,
					IdentityID:  userID,
					ExpiresAt:   time.Now().Add(time.Hour),
				},
			}, false, nil
		},
	}
}

// withUser はリクエストに認証済みユーザーの状態を注入する。
func withUser(r *http.Request, userID string) *http.Request {
	state := session.State{User: &model.Identity{ID: userID}}
	return r.WithContext(session.WithView(r.Context(), state))
}
