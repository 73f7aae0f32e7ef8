package session

import (
	"context"

	"github.com/hitoshi/estate/internal/identity"
	"github.com/hitoshi/estate/internal/model"
)

// View はSession Managerの状態を読み取り専用で参照するインターフェース。
type View interface {
	CurrentUser() *model.Identity
	CurrentProfile() *model.Profile
	CurrentSession() *identity.Session
	IsInitializing() bool
	IsAuthenticated() bool
	IsAdmin() bool
	OnboardingRequired() bool
}

// State はSession Managerの状態のスナップショット。
type State struct {
	User         *model.Identity
	Session      *identity.Session
	Profile      *model.Profile
	Initializing bool
}

func (s State) CurrentUser() *model.Identity { return s.User }
func (s State) CurrentProfile() *model.Profile { return s.Profile }
func (s State) CurrentSession() *identity.Session { return s.Session }
func (s State) IsInitializing() bool { return s.Initializing }

// IsAuthenticated は認証済みかどうかを返す。
func (s State) IsAuthenticated() bool {
	return s.User != nil
}

// IsAdmin は管理者かどうかを返す。プロフィールがない場合はfalse。
func (s State) IsAdmin() bool {
	return s.User != nil && s.Profile != nil && s.Profile.IsAdmin
}

// OnboardingRequired は認証済みだがプロフィールが存在しないかどうかを返す。
func (s State) OnboardingRequired() bool {
	return s.User != nil && s.Profile == nil && !s.Initializing
}

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	managerContextKey = contextKey("session_manager")
	viewContextKey    = contextKey("session_view")
)

// WithManager はコンテキストにManagerを注入する。
func WithManager(ctx context.Context, m *Manager) context.Context {
	return context.WithValue(ctx, managerContextKey, m)
}

// ManagerFromContext はコンテキストからManagerを取得する。
func ManagerFromContext(ctx context.Context) (*Manager, bool) {
	m, ok := ctx.Value(managerContextKey).(*Manager)
	return m, ok && m != nil
}

// WithView はManagerを介さずに固定のViewを注入する。
func WithView(ctx context.Context, v View) context.Context {
	return context.WithValue(ctx, viewContextKey, v)
}

// ViewFromContext はコンテキストから読み取り専用のViewを取得する。
// Managerも固定のViewもない場合は未認証の状態を返す。
func ViewFromContext(ctx context.Context) View {
	if m, ok := ManagerFromContext(ctx); ok {
		return m
	}
	if v, ok := ctx.Value(viewContextKey).(View); ok && v != nil {
		return v
	}
	return State{}
}
