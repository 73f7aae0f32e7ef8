package identity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/estate/internal/model"
)

// Event は認証状態の変化を表す。
type Event string

const (
	EventSignedIn       Event = "SIGNED_IN"
	EventSignedOut      Event = "SIGNED_OUT"
	EventTokenRefreshed Event = "TOKEN_REFRESHED"
	EventUserUpdated    Event = "USER_UPDATED"
)

// Session はクライアントから見た認証セッション。
type Session struct {
	AccessToken string
	ExpiresAt   time.Time
	User        *model.Identity
}

// Listener は認証状態の変化を受け取るコールバック。SIGNED_OUTではsessionはnil。
type Listener func(event Event, session *Session)

// Backend はClientが利用するIdentity Storeの操作。*Storeが実装する。
type Backend interface {
	SignUp(ctx context.Context, email, password string) (*AuthResult, error)
	SignInWithPassword(ctx context.Context, email, password string) (*AuthResult, error)
	GetSession(ctx context.Context, token string) (*AuthResult, bool, error)
	SignOut(ctx context.Context, token string) error
	ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error
	UpdatePassword(ctx context.Context, resetToken, newPassword string) (*AuthResult, error)
	ConfirmEmail(ctx context.Context, token string) (*AuthResult, error)
}

// TokenStore はクライアント側でセッショントークンを永続化する。
// HTTPではCookie、テストではメモリに保持する。
type TokenStore interface {
	Load() string
	Save(token string, expiresAt time.Time)
	Clear()
}

// MemoryTokenStore はメモリ上にトークンを保持するTokenStore。
type MemoryTokenStore struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// Load は保存済みトークンを返す。
func (m *MemoryTokenStore) Load() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// Save はトークンを保存する。
func (m *MemoryTokenStore) Save(token string, expiresAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	m.expiresAt = expiresAt
}

// Clear はトークンを破棄する。
func (m *MemoryTokenStore) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
	m.expiresAt = time.Time{}
}

type subscription struct {
	id int
	fn Listener
}

// Client は1クライアント（ブラウザやリクエスト）単位の認証クライアント。
// トークンの保持と、認証状態変化の購読者への通知を行う。
// 通知は呼び出し元のゴルーチンで登録順に同期的に配信する。
type Client struct {
	backend Backend
	tokens  TokenStore

	mu        sync.Mutex
	nextID    int
	listeners []subscription
}

// NewClient はClientを生成する。
func NewClient(backend Backend, tokens TokenStore) *Client {
	return &Client{backend: backend, tokens: tokens}
}

// OnAuthStateChange は認証状態変化のリスナーを登録し、解除関数を返す。
// 解除関数は複数回呼び出してもよい。
func (c *Client) OnAuthStateChange(fn Listener) (unsubscribe func()) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners = append(c.listeners, subscription{id: id, fn: fn})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, l := range c.listeners {
			if l.id == id {
				c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
				return
			}
		}
	}
}

// emit はリスナーに通知する。ロックを保持したままコールバックを呼ばない。
func (c *Client) emit(event Event, session *Session) {
	c.mu.Lock()
	listeners := make([]Listener, len(c.listeners))
	for i, l := range c.listeners {
		listeners[i] = l.fn
	}
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(event, session)
	}
}

// SignUp はクレデンシャルを作成する。
// セッションが発行された場合はSIGNED_INを通知する。メール確認待ちの場合はsessionがnilになる。
func (c *Client) SignUp(ctx context.Context, email, password string) (*model.Identity, *Session, error) {
	result, err := c.backend.SignUp(ctx, email, password)
	if err != nil {
		return nil, nil, err
	}
	if result.Session == nil {
		return result.Identity, nil, nil
	}
	session := c.establish(result)
	c.emit(EventSignedIn, session)
	return result.Identity, session, nil
}

// SignInWithPassword はパスワード認証を行い、SIGNED_INを通知する。
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	result, err := c.backend.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}
	session := c.establish(result)
	c.emit(EventSignedIn, session)
	return session, nil
}

// GetSession は保存済みトークンのセッションを取得する。
// 無効なトークンは破棄する。期限が延長された場合はTOKEN_REFRESHEDを通知する。
func (c *Client) GetSession(ctx context.Context) (*Session, error) {
	token := c.tokens.Load()
	if token == "" {
		return nil, nil
	}

	result, refreshed, err := c.backend.GetSession(ctx, token)
	if err != nil {
		return nil, err
	}
	if result == nil {
		c.tokens.Clear()
		return nil, nil
	}

	session := toSession(result)
	if refreshed {
		c.tokens.Save(session.AccessToken, session.ExpiresAt)
		c.emit(EventTokenRefreshed, session)
	}
	return session, nil
}

// SignOut はローカルのトークンを破棄してSIGNED_OUTを通知した後、リモートのセッションを破棄する。
// リモートの破棄に失敗してもローカル状態はクリアされる。
func (c *Client) SignOut(ctx context.Context) error {
	token := c.tokens.Load()
	c.tokens.Clear()
	c.emit(EventSignedOut, nil)

	if err := c.backend.SignOut(ctx, token); err != nil {
		slog.Warn("remote sign out failed", slog.String("error", err.Error()))
		return err
	}
	return nil
}

// ResetPasswordForEmail はパスワード再設定メールの送信を依頼する。
func (c *Client) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	return c.backend.ResetPasswordForEmail(ctx, email, redirectTo)
}

// UpdatePassword は再設定トークンでパスワードを更新し、USER_UPDATEDを通知する。
func (c *Client) UpdatePassword(ctx context.Context, resetToken, newPassword string) (*Session, error) {
	result, err := c.backend.UpdatePassword(ctx, resetToken, newPassword)
	if err != nil {
		return nil, err
	}
	session := c.establish(result)
	c.emit(EventUserUpdated, session)
	return session, nil
}

// ConfirmEmail はメールアドレスを確認し、SIGNED_INを通知する。
func (c *Client) ConfirmEmail(ctx context.Context, token string) (*Session, error) {
	result, err := c.backend.ConfirmEmail(ctx, token)
	if err != nil {
		return nil, err
	}
	session := c.establish(result)
	c.emit(EventSignedIn, session)
	return session, nil
}

func (c *Client) establish(result *AuthResult) *Session {
	session := toSession(result)
	c.tokens.Save(session.AccessToken, session.ExpiresAt)
	return session
}

func toSession(result *AuthResult) *Session {
	return &Session{
		AccessToken: result.Session.AccessToken,
		ExpiresAt:   result.Session.ExpiresAt,
		User:        result.Identity,
	}
}

// compile-time interface check
var (
	_ Backend    = (*Store)(nil)
	_ TokenStore = (*MemoryTokenStore)(nil)
)
