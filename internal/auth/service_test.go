package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/hitoshi/estate/internal/identity"
	"github.com/hitoshi/estate/internal/model"
	"github.com/hitoshi/estate/internal/security"
	"github.com/hitoshi/estate/internal/validation"
)

// --- モック定義 ---

type mockIdentityClient struct {
	signUpFn         func(ctx context.Context, email, password string) (*model.Identity, *identity.Session, error)
	signInFn         func(ctx context.Context, email, password string) (*identity.Session, error)
	signOutFn        func(ctx context.Context) error
	resetFn          func(ctx context.Context, email, redirectTo string) error
	updatePasswordFn func(ctx context.Context, resetToken, newPassword string) (*identity.Session, error)
	confirmFn        func(ctx context.Context, token string) (*identity.Session, error)

	signUpCalls int
	signInCalls int
}

func (m *mockIdentityClient) SignUp(ctx context.Context, email, password string) (*model.Identity, *identity.Session, error) {
	m.signUpCalls++
	if m.signUpFn != nil {
		return m.signUpFn(ctx, email, password)
	}
	return &model.Identity{ID: "user-1", Email: email}, &identity.Session{AccessToken: "tok"}, nil
}

func (m *mockIdentityClient) SignInWithPassword(ctx context.Context, email, password string) (*identity.Session, error) {
	m.signInCalls++
	if m.signInFn != nil {
		return m.signInFn(ctx, email, password)
	}
	return &identity.Session{AccessToken: "tok", User: &model.Identity{Email: email}}, nil
}

func (m *mockIdentityClient) SignOut(ctx context.Context) error {
	if m.signOutFn != nil {
		return m.signOutFn(ctx)
	}
	return nil
}

func (m *mockIdentityClient) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	if m.resetFn != nil {
		return m.resetFn(ctx, email, redirectTo)
	}
	return nil
}

func (m *mockIdentityClient) UpdatePassword(ctx context.Context, resetToken, newPassword string) (*identity.Session, error) {
	if m.updatePasswordFn != nil {
		return m.updatePasswordFn(ctx, resetToken, newPassword)
	}
	return &identity.Session{AccessToken: "tok"}, nil
}

func (m *mockIdentityClient) ConfirmEmail(ctx context.Context, token string) (*identity.Session, error) {
	if m.confirmFn != nil {
		return m.confirmFn(ctx, token)
	}
	return &identity.Session{AccessToken: "tok"}, nil
}

type mockProfileStore struct {
	findByMobileFn func(ctx context.Context, mobile string) (*model.Profile, error)
	createFn       func(ctx context.Context, profile *model.Profile) error
	created        []*model.Profile
}

func (m *mockProfileStore) FindByMobile(ctx context.Context, mobile string) (*model.Profile, error) {
	if m.findByMobileFn != nil {
		return m.findByMobileFn(ctx, mobile)
	}
	return nil, nil
}

func (m *mockProfileStore) Create(ctx context.Context, profile *model.Profile) error {
	if m.createFn != nil {
		if err := m.createFn(ctx, profile); err != nil {
			return err
		}
	}
	m.created = append(m.created, profile)
	return nil
}

type mockMetrics struct {
	signUps           []string
	signIns           []string
	bootstrapFailures int
}

func (m *mockMetrics) RecordSignUp(outcome string) { m.signUps = append(m.signUps, outcome) }
func (m *mockMetrics) RecordSignIn(method, outcome string) {
	m.signIns = append(m.signIns, method+":"+outcome)
}
func (m *mockMetrics) RecordProfileBootstrapFailure() { m.bootstrapFailures++ }

type mockLocalSession struct{ cleared bool }

func (m *mockLocalSession) Clear() { m.cleared = true }

type mockReloader struct{ reloads int }

func (m *mockReloader) Reload(context.Context) { m.reloads++ }

func newTestService(profiles ProfileStore, m Metrics) *Service {
	return NewService(profiles, validation.New(), security.NewSanitizer(), m)
}

func validRegisterRequest() RegisterRequest {
	return RegisterRequest{
		Name:            "Asha Verma",
		Mobile:          "9876543210",
		Email:           "a@b.com",
		Address:         "12 MG Road, Kota",
		Password:        "Passw0rd",
		ConfirmPassword: "Passw0rd",
	}
}

func apiCode(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

// --- テスト ---

func TestRegister_Success(t *testing.T) {
	profiles := &mockProfileStore{}
	m := &mockMetrics{}
	svc := newTestService(profiles, m)
	ic := &mockIdentityClient{}

	result, err := svc.Register(context.Background(), ic, nil, validRegisterRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.UserID != "user-1" || result.Session == nil || result.ConfirmationRequired {
		t.Errorf("result = %+v", result)
	}
	if len(profiles.created) != 1 {
		t.Fatalf("profiles created = %d, want 1", len(profiles.created))
	}
	p := profiles.created[0]
	if p.UserID != "user-1" || p.Mobile != "9876543210" || p.Email != "a@b.com" || p.IsAdmin {
		t.Errorf("profile = %+v", p)
	}
	if result.Profile != p {
		t.Error("result should carry the created profile")
	}
	if len(m.signUps) != 1 || m.signUps[0] != "success" {
		t.Errorf("signUp metrics = %v", m.signUps)
	}
}

func TestRegister_ValidationBeforeRemoteCall(t *testing.T) {
	tests := []struct {
		name   string
		modify func(r *RegisterRequest)
		field  string
	}{
		{"氏名なし", func(r *RegisterRequest) { r.Name = "" }, "name"},
		{"タグのみの氏名", func(r *RegisterRequest) { r.Name = "<b></b>" }, "name"},
		{"住所なし", func(r *RegisterRequest) { r.Address = "   " }, "address"},
		{"携帯番号が短い", func(r *RegisterRequest) { r.Mobile = "123" }, "mobile"},
		{"携帯番号が長い", func(r *RegisterRequest) { r.Mobile = "12345678901" }, "mobile"},
		{"メールアドレス不正", func(r *RegisterRequest) { r.Email = "not-an-email" }, "email"},
		{"パスワードが短い", func(r *RegisterRequest) { r.Password, r.ConfirmPassword = "Kota20", "Kota20" }, "password"},
		{"パスワードに数字なし", func(r *RegisterRequest) { r.Password, r.ConfirmPassword = "Password", "Password" }, "password"},
		{"確認パスワード不一致", func(r *RegisterRequest) { r.ConfirmPassword = "Passw0rd!" }, "confirm_password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			profiles := &mockProfileStore{
				findByMobileFn: func(context.Context, string) (*model.Profile, error) {
					t.Fatal("profile lookup should not happen before validation passes")
					return nil, nil
				},
			}
			ic := &mockIdentityClient{}
			svc := newTestService(profiles, nil)

			req := validRegisterRequest()
			tt.modify(&req)
			_, err := svc.Register(context.Background(), ic, nil, req)

			if model.KindOf(err) != model.KindValidation {
				t.Fatalf("kind = %q, want validation (err=%v)", model.KindOf(err), err)
			}
			var apiErr *model.APIError
			errors.As(err, &apiErr)
			var fields *validation.FieldErrors
			if !errors.As(apiErr.Err, &fields) {
				t.Fatalf("cause = %T, want *validation.FieldErrors", apiErr.Err)
			}
			if _, ok := fields.Fields[tt.field]; !ok {
				t.Errorf("fields = %v, want an error on %q", fields.Fields, tt.field)
			}
			if ic.signUpCalls != 0 {
				t.Error("credential creation should not be attempted")
			}
		})
	}
}

func TestRegister_DuplicateMobile(t *testing.T) {
	profiles := &mockProfileStore{
		findByMobileFn: func(context.Context, string) (*model.Profile, error) {
			return &model.Profile{UserID: "other"}, nil
		},
	}
	ic := &mockIdentityClient{}
	svc := newTestService(profiles, nil)

	_, err := svc.Register(context.Background(), ic, nil, validRegisterRequest())
	if model.KindOf(err) != model.KindDuplicateAccount {
		t.Fatalf("kind = %q, want duplicate_account", model.KindOf(err))
	}
	if ic.signUpCalls != 0 {
		t.Error("credential creation should not be attempted")
	}
}

func TestRegister_DuplicateEmailIsRemapped(t *testing.T) {
	profiles := &mockProfileStore{}
	ic := &mockIdentityClient{
		signUpFn: func(context.Context, string, string) (*model.Identity, *identity.Session, error) {
			return nil, nil, model.NewDuplicateAccountError("User already registered")
		},
	}
	svc := newTestService(profiles, nil)

	_, err := svc.Register(context.Background(), ic, nil, validRegisterRequest())
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeDuplicateAccount {
		t.Fatalf("err = %v, want DUPLICATE_ACCOUNT", err)
	}
	if apiErr.Message != "This email is already registered. Please try logging in instead." {
		t.Errorf("Message = %q", apiErr.Message)
	}
	if len(profiles.created) != 0 {
		t.Error("no profile should be created")
	}
}

func TestRegister_TransientFailureCreatesNoProfile(t *testing.T) {
	profiles := &mockProfileStore{}
	ic := &mockIdentityClient{
		signUpFn: func(context.Context, string, string) (*model.Identity, *identity.Session, error) {
			return nil, nil, model.NewTransientError(errors.New("connection refused"))
		},
	}
	svc := newTestService(profiles, nil)

	_, err := svc.Register(context.Background(), ic, nil, validRegisterRequest())
	if model.KindOf(err) != model.KindTransient {
		t.Fatalf("kind = %q, want transient", model.KindOf(err))
	}
	if len(profiles.created) != 0 {
		t.Error("no profile should be created")
	}
}

func TestRegister_ProfileFailureStillSucceeds(t *testing.T) {
	profiles := &mockProfileStore{
		createFn: func(context.Context, *model.Profile) error {
			return errors.New("insert failed")
		},
	}
	m := &mockMetrics{}
	svc := newTestService(profiles, m)

	result, err := svc.Register(context.Background(), &mockIdentityClient{}, nil, validRegisterRequest())
	if err != nil {
		t.Fatalf("registration should succeed, got %v", err)
	}
	if result.Profile != nil {
		t.Error("profile should be nil after a failed insert")
	}
	if m.bootstrapFailures != 1 {
		t.Errorf("bootstrap failures = %d, want 1", m.bootstrapFailures)
	}
}

func TestRegister_ConfirmationPending(t *testing.T) {
	ic := &mockIdentityClient{
		signUpFn: func(_ context.Context, email, _ string) (*model.Identity, *identity.Session, error) {
			return &model.Identity{ID: "user-1", Email: email}, nil, nil
		},
	}
	profiles := &mockProfileStore{}
	svc := newTestService(profiles, nil)

	result, err := svc.Register(context.Background(), ic, nil, validRegisterRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.ConfirmationRequired || result.Session != nil {
		t.Errorf("result = %+v", result)
	}
	if len(profiles.created) != 1 {
		t.Error("profile should still be created while confirmation is pending")
	}
}

func TestRegister_ReloadsLocalSession(t *testing.T) {
	confirmationPending := func(_ context.Context, email, _ string) (*model.Identity, *identity.Session, error) {
		return &model.Identity{ID: "user-1", Email: email}, nil, nil
	}
	insertFailed := func(context.Context, *model.Profile) error { return errors.New("insert failed") }

	tests := []struct {
		name        string
		signUpFn    func(ctx context.Context, email, password string) (*model.Identity, *identity.Session, error)
		createFn    func(ctx context.Context, profile *model.Profile) error
		wantReloads int
	}{
		{"即時サインイン", nil, nil, 1},
		{"メール確認待ち", confirmationPending, nil, 0},
		{"プロフィール作成失敗", nil, insertFailed, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			local := &mockReloader{}
			svc := newTestService(&mockProfileStore{createFn: tt.createFn}, nil)
			ic := &mockIdentityClient{signUpFn: tt.signUpFn}

			if _, err := svc.Register(context.Background(), ic, local, validRegisterRequest()); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if local.reloads != tt.wantReloads {
				t.Errorf("reloads = %d, want %d", local.reloads, tt.wantReloads)
			}
		})
	}
}

func TestSignIn_UnregisteredMobile(t *testing.T) {
	m := &mockMetrics{}
	svc := newTestService(&mockProfileStore{}, m)
	ic := &mockIdentityClient{}

	_, err := svc.SignIn(context.Background(), ic, "9123456780", "anything1")
	if model.KindOf(err) != model.KindNotFound {
		t.Fatalf("kind = %q, want not_found", model.KindOf(err))
	}
	if apiCode(err) != model.ErrCodeAccountNotFound {
		t.Errorf("code = %q", apiCode(err))
	}
	if ic.signInCalls != 0 {
		t.Error("authentication should not be attempted")
	}
	if len(m.signIns) != 1 || m.signIns[0] != "mobile:failure" {
		t.Errorf("signIn metrics = %v", m.signIns)
	}
}

func TestSignIn_MobileResolvesEmail(t *testing.T) {
	profiles := &mockProfileStore{
		findByMobileFn: func(_ context.Context, mobile string) (*model.Profile, error) {
			if mobile == "9876543210" {
				return &model.Profile{Email: "a@b.com"}, nil
			}
			return nil, nil
		},
	}
	var gotEmail string
	ic := &mockIdentityClient{
		signInFn: func(_ context.Context, email, _ string) (*identity.Session, error) {
			gotEmail = email
			return &identity.Session{AccessToken: "tok"}, nil
		},
	}
	svc := newTestService(profiles, nil)

	if _, err := svc.SignIn(context.Background(), ic, " 9876543210 ", "Passw0rd"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotEmail != "a@b.com" {
		t.Errorf("email = %q, want a@b.com", gotEmail)
	}
}

func TestSignIn_EmailAndFailures(t *testing.T) {
	tests := []struct {
		name       string
		identifier string
		password   string
		signInErr  error
		wantKind   model.ErrorKind
		wantCalls  int
	}{
		{"メールアドレスで成功", "a@b.com", "Passw0rd", nil, "", 1},
		{"認証失敗", "a@b.com", "wrong", model.NewAuthenticationError("Invalid login credentials"), model.KindAuthentication, 1},
		{"メール未確認", "a@b.com", "Passw0rd", model.NewEmailNotConfirmedError(), model.KindAuthentication, 1},
		{"識別子が不正", "abc", "Passw0rd", nil, model.KindValidation, 0},
		{"パスワード未入力", "a@b.com", "", nil, model.KindValidation, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ic := &mockIdentityClient{
				signInFn: func(context.Context, string, string) (*identity.Session, error) {
					if tt.signInErr != nil {
						return nil, tt.signInErr
					}
					return &identity.Session{AccessToken: "tok"}, nil
				},
			}
			svc := newTestService(&mockProfileStore{}, nil)

			_, err := svc.SignIn(context.Background(), ic, tt.identifier, tt.password)
			if model.KindOf(err) != tt.wantKind {
				t.Errorf("kind = %q, want %q (err=%v)", model.KindOf(err), tt.wantKind, err)
			}
			if ic.signInCalls != tt.wantCalls {
				t.Errorf("sign in calls = %d, want %d", ic.signInCalls, tt.wantCalls)
			}
		})
	}
}

func TestSignOut_ClearsLocalOnRemoteFailure(t *testing.T) {
	ic := &mockIdentityClient{
		signOutFn: func(context.Context) error { return errors.New("network error") },
	}
	local := &mockLocalSession{}
	svc := newTestService(&mockProfileStore{}, nil)

	svc.SignOut(context.Background(), ic, local)

	if !local.cleared {
		t.Error("local state should be cleared unconditionally")
	}
}

func TestResetPassword(t *testing.T) {
	var gotEmail, gotRedirect string
	ic := &mockIdentityClient{
		resetFn: func(_ context.Context, email, redirectTo string) error {
			gotEmail, gotRedirect = email, redirectTo
			return nil
		},
	}
	svc := newTestService(&mockProfileStore{}, nil)

	if err := svc.ResetPassword(context.Background(), ic, "A@B.com", "https://estate.example.com/reset-password"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotEmail != "a@b.com" || gotRedirect != "https://estate.example.com/reset-password" {
		t.Errorf("got %q, %q", gotEmail, gotRedirect)
	}

	if err := svc.ResetPassword(context.Background(), ic, "bad", ""); model.KindOf(err) != model.KindValidation {
		t.Errorf("kind = %q, want validation", model.KindOf(err))
	}
}

func TestResetPassword_SurfacesFailure(t *testing.T) {
	ic := &mockIdentityClient{
		resetFn: func(context.Context, string, string) error {
			return model.NewTransientError(errors.New("smtp down"))
		},
	}
	svc := newTestService(&mockProfileStore{}, nil)

	if err := svc.ResetPassword(context.Background(), ic, "a@b.com", ""); model.KindOf(err) != model.KindTransient {
		t.Errorf("kind = %q, want transient", model.KindOf(err))
	}
}

func TestUpdatePassword_Validation(t *testing.T) {
	called := false
	ic := &mockIdentityClient{
		updatePasswordFn: func(context.Context, string, string) (*identity.Session, error) {
			called = true
			return &identity.Session{}, nil
		},
	}
	svc := newTestService(&mockProfileStore{}, nil)

	_, err := svc.UpdatePassword(context.Background(), ic, UpdatePasswordRequest{
		Token: "t", Password: "Passw0rd", ConfirmPassword: "Passw0rd1",
	})
	if model.KindOf(err) != model.KindValidation {
		t.Fatalf("kind = %q, want validation", model.KindOf(err))
	}
	if called {
		t.Error("update should not be attempted")
	}

	if _, err := svc.UpdatePassword(context.Background(), ic, UpdatePasswordRequest{
		Token: "t", Password: "Passw0rd", ConfirmPassword: "Passw0rd",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("update should be attempted")
	}
}

func TestConfirmEmail_EmptyToken(t *testing.T) {
	svc := newTestService(&mockProfileStore{}, nil)
	_, err := svc.ConfirmEmail(context.Background(), &mockIdentityClient{}, "")
	if apiCode(err) != model.ErrCodeInvalidToken {
		t.Errorf("code = %q, want INVALID_TOKEN", apiCode(err))
	}
}
