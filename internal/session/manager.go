// Package session は現在の認証済みidentityと解決済みプロフィールを保持するSession Managerを提供する。
// Managerが唯一の書き込み手となり、他のコンポーネントには読み取り専用のViewを渡す。
package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hitoshi/estate/internal/identity"
	"github.com/hitoshi/estate/internal/model"
)

// IdentityClient はManagerが購読する認証クライアント。*identity.Clientが実装する。
type IdentityClient interface {
	GetSession(ctx context.Context) (*identity.Session, error)
	OnAuthStateChange(fn identity.Listener) (unsubscribe func())
}

// ProfileFinder はプロフィール検索のインターフェース。
// repository.ProfileRepositoryの部分集合として定義する。
type ProfileFinder interface {
	FindByUserID(ctx context.Context, userID string) (*model.Profile, error)
}

// Manager はクライアント単位の認証状態を管理する。
// 認証状態の変化を受けるたびにidentityを置き換え、プロフィールを再解決する。
// 最後に配信されたイベントが最終状態になる。
type Manager struct {
	client   IdentityClient
	profiles ProfileFinder

	mu          sync.Mutex
	state       State
	gen         uint64
	ctx         context.Context
	unsubscribe func()
	closed      bool
	observers   []func(State)

	closeOnce sync.Once
}

// NewManager はManagerを生成する。Initializeが完了するまでは初期化中の状態になる。
func NewManager(client IdentityClient, profiles ProfileFinder) *Manager {
	return &Manager{
		client:   client,
		profiles: profiles,
		state:    State{Initializing: true},
		ctx:      context.Background(),
	}
}

// Start は認証状態変化の購読を開始する。
// ctxはイベント起因のプロフィール解決に使用する。
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.unsubscribe != nil {
		return
	}
	m.ctx = ctx
	m.unsubscribe = m.client.OnAuthStateChange(func(event identity.Event, session *identity.Session) {
		m.mu.Lock()
		closed, ctx := m.closed, m.ctx
		m.mu.Unlock()
		if closed {
			return
		}
		slog.Debug("auth state changed", slog.String("event", string(event)))
		m.apply(ctx, session)
	})
}

// Initialize は永続化済みセッションを取得し、存在すればidentityとプロフィールを設定する。
// 取得やプロフィール解決の結果にかかわらず、初期化完了の状態にする。
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	startGen := m.gen
	m.mu.Unlock()

	session, err := m.client.GetSession(ctx)
	if err != nil {
		slog.Warn("failed to restore session", slog.String("error", err.Error()))
		m.finishInitializing()
		return err
	}

	// GetSession中に届いたイベント（TOKEN_REFRESHED等）で既に適用済みの場合は再解決しない
	m.mu.Lock()
	applied := m.gen != startGen
	m.mu.Unlock()
	if !applied {
		m.apply(ctx, session)
	}

	m.finishInitializing()
	return nil
}

// ResolveProfile はuser_idに対応するプロフィールを取得する。
// 見つからない場合はnilを返す。
func (m *Manager) ResolveProfile(ctx context.Context, userID string) (*model.Profile, error) {
	return m.profiles.FindByUserID(ctx, userID)
}

// Reload は現在のidentityのプロフィールを再解決する。
// オンボーディング完了直後など、イベントを伴わずにプロフィールが作成された場合に使用する。
func (m *Manager) Reload(ctx context.Context) {
	m.mu.Lock()
	session := m.state.Session
	m.mu.Unlock()
	m.apply(ctx, session)
}

// Clear はローカルのidentityとプロフィールを無条件に破棄する。
func (m *Manager) Clear() {
	m.mu.Lock()
	m.gen++
	m.state.User = nil
	m.state.Session = nil
	m.state.Profile = nil
	m.mu.Unlock()
	m.notify()
}

// Close は購読を解除する。複数回呼び出してもよい。
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		unsubscribe := m.unsubscribe
		m.unsubscribe = nil
		m.observers = nil
		m.mu.Unlock()

		if unsubscribe != nil {
			unsubscribe()
		}
	})
}

// OnChange は状態変化の監視者を登録する。
func (m *Manager) OnChange(fn func(State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// State は現在の状態のスナップショットを返す。
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// apply はセッションを反映し、ユーザーが存在すればプロフィールを解決する。
// プロフィール解決中に新しいイベントが適用された場合、古い解決結果は破棄する。
func (m *Manager) apply(ctx context.Context, session *identity.Session) {
	m.mu.Lock()
	m.gen++
	gen := m.gen
	prev := m.state.User
	m.state.Session = session
	if session == nil || session.User == nil {
		m.state.User = nil
		m.state.Profile = nil
	} else {
		m.state.User = session.User
		if prev == nil || prev.ID != session.User.ID {
			m.state.Profile = nil
		}
	}
	user := m.state.User
	m.mu.Unlock()

	if user != nil {
		profile, err := m.ResolveProfile(ctx, user.ID)
		if err != nil {
			slog.Warn("failed to resolve profile",
				slog.String("user_id", user.ID),
				slog.String("error", err.Error()),
			)
			profile = nil
		}

		m.mu.Lock()
		if m.gen == gen {
			m.state.Profile = profile
		}
		m.mu.Unlock()
	}

	m.notify()
}

func (m *Manager) finishInitializing() {
	m.mu.Lock()
	m.state.Initializing = false
	m.mu.Unlock()
	m.notify()
}

func (m *Manager) notify() {
	m.mu.Lock()
	state := m.state
	observers := make([]func(State), len(m.observers))
	copy(observers, m.observers)
	m.mu.Unlock()

	for _, fn := range observers {
		fn(state)
	}
}

// CurrentUser は現在のidentityを返す。
func (m *Manager) CurrentUser() *model.Identity { return m.State().User }

// CurrentProfile は解決済みのプロフィールを返す。
func (m *Manager) CurrentProfile() *model.Profile { return m.State().Profile }

// CurrentSession は現在のセッションを返す。
func (m *Manager) CurrentSession() *identity.Session { return m.State().Session }

// IsInitializing は初期化中かどうかを返す。
func (m *Manager) IsInitializing() bool { return m.State().Initializing }

// IsAuthenticated は認証済みかどうかを返す。
func (m *Manager) IsAuthenticated() bool { return m.State().IsAuthenticated() }

// IsAdmin は管理者プロフィールを持つかどうかを返す。
func (m *Manager) IsAdmin() bool { return m.State().IsAdmin() }

// OnboardingRequired は認証済みだがプロフィール未作成かどうかを返す。
func (m *Manager) OnboardingRequired() bool { return m.State().OnboardingRequired() }

// compile-time interface check
var (
	_ View = (*Manager)(nil)
	_ View = State{}
)
