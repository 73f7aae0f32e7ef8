package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/estate/internal/auth"
	"github.com/hitoshi/estate/internal/identity"
	"github.com/hitoshi/estate/internal/inquiry"
	"github.com/hitoshi/estate/internal/middleware"
	"github.com/hitoshi/estate/internal/model"
	"github.com/hitoshi/estate/internal/profile"
	"github.com/hitoshi/estate/internal/property"
	"github.com/hitoshi/estate/internal/session"
)

// --- モック定義 ---

// mockBackend はidentity.Backendのモック。
type mockBackend struct {
	signInFn     func(ctx context.Context, email, password string) (*identity.AuthResult, error)
	getSessionFn func(ctx context.Context, token string) (*identity.AuthResult, bool, error)
	signOutFn    func(ctx context.Context, token string) error
	confirmFn    func(ctx context.Context, token string) (*identity.AuthResult, error)
}

func (m *mockBackend) SignUp(context.Context, string, string) (*identity.AuthResult, error) {
	return nil, model.NewTransientError(errors.New("sign up not supported"))
}

func (m *mockBackend) SignInWithPassword(ctx context.Context, email, password string) (*identity.AuthResult, error) {
	if m.signInFn != nil {
		return m.signInFn(ctx, email, password)
	}
	return nil, model.NewAuthenticationError("Invalid login credentials")
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

func (m *mockBackend) ResetPasswordForEmail(context.Context, string, string) error {
	return nil
}

func (m *mockBackend) UpdatePassword(context.Context, string, string) (*identity.AuthResult, error) {
	return nil, model.NewInvalidTokenError()
}

func (m *mockBackend) ConfirmEmail(ctx context.Context, token string) (*identity.AuthResult, error) {
	if m.confirmFn != nil {
		return m.confirmFn(ctx, token)
	}
	return nil, model.NewInvalidTokenError()
}

type mockProfileFinder struct {
	profiles map[string]*model.Profile
}

func (m *mockProfileFinder) FindByUserID(_ context.Context, userID string) (*model.Profile, error) {
	return m.profiles[userID], nil
}

type mockAuthService struct {
	registerFn       func(ctx context.Context, ic auth.IdentityClient, local auth.ProfileReloader, req auth.RegisterRequest) (*auth.RegisterResult, error)
	signInFn         func(ctx context.Context, ic auth.IdentityClient, identifier, password string) (*identity.Session, error)
	signOutFn        func(ctx context.Context, ic auth.IdentityClient, local auth.LocalSession)
	resetPasswordFn  func(ctx context.Context, ic auth.IdentityClient, email, redirectTo string) error
	updatePasswordFn func(ctx context.Context, ic auth.IdentityClient, req auth.UpdatePasswordRequest) (*identity.Session, error)
	confirmEmailFn   func(ctx context.Context, ic auth.IdentityClient, token string) (*identity.Session, error)
}

func (m *mockAuthService) Register(ctx context.Context, ic auth.IdentityClient, local auth.ProfileReloader, req auth.RegisterRequest) (*auth.RegisterResult, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, ic, local, req)
	}
	return &auth.RegisterResult{}, nil
}

func (m *mockAuthService) SignIn(ctx context.Context, ic auth.IdentityClient, identifier, password string) (*identity.Session, error) {
	if m.signInFn != nil {
		return m.signInFn(ctx, ic, identifier, password)
	}
	return ic.SignInWithPassword(ctx, identifier, password)
}

func (m *mockAuthService) SignOut(ctx context.Context, ic auth.IdentityClient, local auth.LocalSession) {
	if m.signOutFn != nil {
		m.signOutFn(ctx, ic, local)
		return
	}
	_ = ic.SignOut(ctx)
	if local != nil {
		local.Clear()
	}
}

func (m *mockAuthService) ResetPassword(ctx context.Context, ic auth.IdentityClient, email, redirectTo string) error {
	if m.resetPasswordFn != nil {
		return m.resetPasswordFn(ctx, ic, email, redirectTo)
	}
	return nil
}

func (m *mockAuthService) UpdatePassword(ctx context.Context, ic auth.IdentityClient, req auth.UpdatePasswordRequest) (*identity.Session, error) {
	if m.updatePasswordFn != nil {
		return m.updatePasswordFn(ctx, ic, req)
	}
	return ic.UpdatePassword(ctx, req.Token, req.Password)
}

func (m *mockAuthService) ConfirmEmail(ctx context.Context, ic auth.IdentityClient, token string) (*identity.Session, error) {
	if m.confirmEmailFn != nil {
		return m.confirmEmailFn(ctx, ic, token)
	}
	return ic.ConfirmEmail(ctx, token)
}

type mockPropertyService struct {
	listFn   func(ctx context.Context, limit, offset int) ([]*model.Property, error)
	searchFn func(ctx context.Context, query string, limit int) ([]*model.Property, error)
	getFn    func(ctx context.Context, id string) (*model.Property, error)
	createFn func(ctx context.Context, createdBy string, in property.Input) (*model.Property, error)
	updateFn func(ctx context.Context, id string, in property.Input) (*model.Property, error)
	deleteFn func(ctx context.Context, id string) error
}

func (m *mockPropertyService) List(ctx context.Context, limit, offset int) ([]*model.Property, error) {
	if m.listFn != nil {
		return m.listFn(ctx, limit, offset)
	}
	return nil, nil
}

func (m *mockPropertyService) Search(ctx context.Context, query string, limit int) ([]*model.Property, error) {
	if m.searchFn != nil {
		return m.searchFn(ctx, query, limit)
	}
	return nil, nil
}

func (m *mockPropertyService) Get(ctx context.Context, id string) (*model.Property, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return nil, model.NewPropertyNotFoundError(id)
}

func (m *mockPropertyService) Create(ctx context.Context, createdBy string, in property.Input) (*model.Property, error) {
	if m.createFn != nil {
		return m.createFn(ctx, createdBy, in)
	}
	return &model.Property{}, nil
}

func (m *mockPropertyService) Update(ctx context.Context, id string, in property.Input) (*model.Property, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, id, in)
	}
	return &model.Property{ID: id}, nil
}

func (m *mockPropertyService) SoftDelete(ctx context.Context, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return nil
}

type mockProfileService struct {
	onboardingFn func(ctx context.Context, user *model.Identity, req profile.OnboardingRequest) (*model.Profile, error)
	updateMeFn   func(ctx context.Context, userID string, req profile.UpdateRequest) (*model.Profile, error)
	setAdminFn   func(ctx context.Context, userID string, isAdmin bool) error
}

func (m *mockProfileService) CompleteOnboarding(ctx context.Context, user *model.Identity, req profile.OnboardingRequest) (*model.Profile, error) {
	if m.onboardingFn != nil {
		return m.onboardingFn(ctx, user, req)
	}
	return &model.Profile{UserID: user.ID}, nil
}

func (m *mockProfileService) UpdateMe(ctx context.Context, userID string, req profile.UpdateRequest) (*model.Profile, error) {
	if m.updateMeFn != nil {
		return m.updateMeFn(ctx, userID, req)
	}
	return &model.Profile{UserID: userID}, nil
}

func (m *mockProfileService) SetAdmin(ctx context.Context, userID string, isAdmin bool) error {
	if m.setAdminFn != nil {
		return m.setAdminFn(ctx, userID, isAdmin)
	}
	return nil
}

type mockInquiryService struct {
	createFn       func(ctx context.Context, req inquiry.CreateRequest) (*model.Inquiry, error)
	listForUserFn  func(ctx context.Context, userID string) ([]model.InquiryWithProperty, error)
	listForAdminFn func(ctx context.Context, filter string) ([]model.InquiryWithPropertyAndProfile, error)
	approveFn      func(ctx context.Context, req inquiry.ApproveRequest) (*inquiry.DecisionResult, error)
	denyFn         func(ctx context.Context, req inquiry.DenyRequest) (*inquiry.DecisionResult, error)
}

func (m *mockInquiryService) CreateInquiry(ctx context.Context, req inquiry.CreateRequest) (*model.Inquiry, error) {
	if m.createFn != nil {
		return m.createFn(ctx, req)
	}
	return &model.Inquiry{PropertyID: req.PropertyID, UserID: req.UserID, Status: model.InquiryStatusPending}, nil
}

func (m *mockInquiryService) ListForUser(ctx context.Context, userID string) ([]model.InquiryWithProperty, error) {
	if m.listForUserFn != nil {
		return m.listForUserFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockInquiryService) ListForAdmin(ctx context.Context, filter string) ([]model.InquiryWithPropertyAndProfile, error) {
	if m.listForAdminFn != nil {
		return m.listForAdminFn(ctx, filter)
	}
	return nil, nil
}

func (m *mockInquiryService) Approve(ctx context.Context, req inquiry.ApproveRequest) (*inquiry.DecisionResult, error) {
	if m.approveFn != nil {
		return m.approveFn(ctx, req)
	}
	return &inquiry.DecisionResult{Inquiry: &model.Inquiry{ID: req.InquiryID, Status: model.InquiryStatusApproved}}, nil
}

func (m *mockInquiryService) Deny(ctx context.Context, req inquiry.DenyRequest) (*inquiry.DecisionResult, error) {
	if m.denyFn != nil {
		return m.denyFn(ctx, req)
	}
	return &inquiry.DecisionResult{Inquiry: &model.Inquiry{ID: req.InquiryID, Status: model.InquiryStatusDenied}}, nil
}

// compile-time interface check
var (
	_ identity.Backend          = (*mockBackend)(nil)
	_ AuthServiceInterface     = (*mockAuthService)(nil)
	_ PropertyServiceInterface = (*mockPropertyService)(nil)
	_ ProfileServiceInterface  = (*mockProfileService)(nil)
	_ InquiryServiceInterface  = (*mockInquiryService)(nil)
	_ AuthServiceInterface     = (*auth.Service)(nil)
	_ PropertyServiceInterface = (*property.Service)(nil)
	_ ProfileServiceInterface  = (*profile.Service)(nil)
	_ InquiryServiceInterface  = (*inquiry.Service)(nil)
)

// --- ヘルパー ---

// authResult は指定ユーザーのセッション付き認証結果を生成する。
func authResult(userID, token string) *identity.AuthResult {
	now := time.Now()
	return &identity.AuthResult{
		Identity: &model.Identity{ID: userID, Email: userID + "@example.com", EmailConfirmedAt: &now},
		Session: &model.AuthSession{
			AccessToken: token,
			IdentityID:  userID,
			ExpiresAt:   now.Add(time.Hour),
		},
	}
}

// withSessionMiddleware はハンドラーをセッションミドルウェアで包む。
func withSessionMiddleware(h http.Handler, backend identity.Backend, profiles session.ProfileFinder) http.Handler {
	if profiles == nil {
		profiles = &mockProfileFinder{}
	}
	return middleware.NewSessionMiddleware(backend, profiles, middleware.SessionConfig{})(h)
}

// withUser はリクエストに認証済みユーザーの状態を注入する。profileがnilの場合はオンボーディング前。
func withUser(r *http.Request, userID string, p *model.Profile) *http.Request {
	state := session.State{User: &model.Identity{ID: userID, Email: userID + "@example.com"}, Profile: p}
	return r.WithContext(session.WithView(r.Context(), state))
}

// withURLParam はchiのURLパラメータを設定する。
func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func decodeErrorBody(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return body
}

func sessionCookie(resp *http.Response) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == middleware.SessionCookieName {
			return c
		}
	}
	return nil
}
