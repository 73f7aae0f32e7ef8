// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/hitoshi/estate/internal/identity"
	"github.com/hitoshi/estate/internal/session"
)

// SessionCookieName はセッショントークンを保持するCookieの名前。
const SessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var clientContextKey = contextKey("identity_client")

// SessionConfig はセッションCookieの設定。
type SessionConfig struct {
	CookieSecure bool
	CookieDomain string
}

// cookieTokenStore はリクエストのCookieを読み取り、レスポンスのSet-Cookieで更新するTokenStore。
// レスポンスボディの書き込み前に更新する必要がある。
type cookieTokenStore struct {
	w      http.ResponseWriter
	config SessionConfig

	mu    sync.Mutex
	token string
}

func newCookieTokenStore(w http.ResponseWriter, r *http.Request, config SessionConfig) *cookieTokenStore {
	s := &cookieTokenStore{w: w, config: config}
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		s.token = cookie.Value
	}
	return s
}

func (s *cookieTokenStore) Load() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *cookieTokenStore) Save(token string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	http.SetCookie(s.w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		Domain:   s.config.CookieDomain,
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   s.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *cookieTokenStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	http.SetCookie(s.w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   s.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// NewSessionMiddleware はリクエストごとに認証クライアントとSession Managerを生成するミドルウェアを返す。
// セッショントークンはHTTP Only Cookieから読み取り、初期化済みのManagerと認証クライアントを
// リクエストコンテキストに注入する。未認証のリクエストもそのまま通し、可否はゲートで判定する。
func NewSessionMiddleware(backend identity.Backend, profiles session.ProfileFinder, config SessionConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			client := identity.NewClient(backend, newCookieTokenStore(w, r, config))
			manager := session.NewManager(client, profiles)
			manager.Start(ctx)
			defer manager.Close()

			// セッションを解決できない場合は未認証として扱う（ログはManagerが出力する）
			_ = manager.Initialize(ctx)

			if user := manager.CurrentUser(); user != nil {
				annotateUser(r, user.ID)
			}

			ctx = session.WithManager(ctx, manager)
			ctx = context.WithValue(ctx, clientContextKey, client)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientFromContext はリクエストコンテキストから認証クライアントを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func ClientFromContext(ctx context.Context) (*identity.Client, bool) {
	c, ok := ctx.Value(clientContextKey).(*identity.Client)
	return c, ok && c != nil
}

// ContextWithClient はコンテキストに認証クライアントを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithClient(ctx context.Context, client *identity.Client) context.Context {
	return context.WithValue(ctx, clientContextKey, client)
}

// UserIDFromContext はリクエストコンテキストから認証済みユーザーのIDを取得する。
// 未認証の場合は空文字列とfalseを返す。
func UserIDFromContext(ctx context.Context) (string, bool) {
	user := session.ViewFromContext(ctx).CurrentUser()
	if user == nil || user.ID == "" {
		return "", false
	}
	return user.ID, true
}
