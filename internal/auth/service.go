// Package auth は登録・ログインフロー（アカウント登録、メールアドレスまたは携帯番号でのサインイン、
// サインアウト、パスワード再設定、メールアドレス確認）を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/estate/internal/identity"
	"github.com/hitoshi/estate/internal/metrics"
	"github.com/hitoshi/estate/internal/model"
	"github.com/hitoshi/estate/internal/security"
	"github.com/hitoshi/estate/internal/validation"
)

// IdentityClient はクライアント単位の認証操作。*identity.Clientが実装する。
// 操作の結果はクライアントの購読者（Session Manager）に通知される。
type IdentityClient interface {
	SignUp(ctx context.Context, email, password string) (*model.Identity, *identity.Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*identity.Session, error)
	SignOut(ctx context.Context) error
	ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error
	UpdatePassword(ctx context.Context, resetToken, newPassword string) (*identity.Session, error)
	ConfirmEmail(ctx context.Context, token string) (*identity.Session, error)
}

// ProfileStore はフローが使用するプロフィール操作。
// repository.ProfileRepositoryの部分集合として定義する。
type ProfileStore interface {
	FindByMobile(ctx context.Context, mobile string) (*model.Profile, error)
	Create(ctx context.Context, profile *model.Profile) error
}

// LocalSession はサインアウト時に無条件でクリアするローカル状態。*session.Managerが実装する。
type LocalSession interface {
	Clear()
}

// ProfileReloader は登録直後にプロフィールを再解決するローカル状態。*session.Managerが実装する。
// メール確認が不要な場合、サインイン通知はプロフィール作成より先に届く。
type ProfileReloader interface {
	Reload(ctx context.Context)
}

// Metrics は認証フローのメトリクス。
type Metrics interface {
	RecordSignUp(outcome string)
	RecordSignIn(method, outcome string)
	RecordProfileBootstrapFailure()
}

// RegisterRequest はアカウント登録の入力。
type RegisterRequest struct {
	Name            string `json:"name" validate:"required,max=100"`
	Mobile          string `json:"mobile" validate:"required,mobile"`
	Email           string `json:"email" validate:"required,simple_email"`
	Address         string `json:"address" validate:"required,max=500"`
	Password        string `json:"password" validate:"required,password"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=Password"`
}

// RegisterResult はアカウント登録の結果。
// Profileはプロフィール作成に失敗した場合nil、Sessionはメール確認待ちの場合nilになる。
type RegisterResult struct {
	UserID               string
	Session              *identity.Session
	Profile              *model.Profile
	ConfirmationRequired bool
}

// UpdatePasswordRequest はパスワード再設定の完了入力。
type UpdatePasswordRequest struct {
	Token           string `json:"token" validate:"required"`
	Password        string `json:"password" validate:"required,password"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=Password"`
}

// Service は登録・ログインフローを提供する。
// 認証クライアントはリクエスト（クライアント）ごとに異なるため、各操作の引数で受け取る。
type Service struct {
	profiles  ProfileStore
	validator *validation.Validator
	sanitizer security.TextSanitizer
	metrics   Metrics
	now       func() time.Time
}

// NewService はServiceを生成する。mがnilの場合はメトリクスを記録しない。
func NewService(profiles ProfileStore, v *validation.Validator, sanitizer security.TextSanitizer, m Metrics) *Service {
	if m == nil {
		m = metrics.Nop{}
	}
	return &Service{
		profiles:  profiles,
		validator: v,
		sanitizer: sanitizer,
		metrics:   m,
		now:       time.Now,
	}
}

// Register はアカウントを登録する。
// 入力検証はすべて認証クライアントの呼び出し前に行う。
// クレデンシャル作成後のプロフィール作成に失敗しても登録は成功として返す。
// 即時サインインした場合はプロフィール作成後にlocalを再読み込みする。
func (s *Service) Register(ctx context.Context, ic IdentityClient, local ProfileReloader, req RegisterRequest) (*RegisterResult, error) {
	req.Name = s.sanitizer.Text(req.Name)
	req.Address = s.sanitizer.Text(req.Address)
	req.Mobile = strings.TrimSpace(req.Mobile)
	req.Email = validation.NormalizeEmail(req.Email)

	if err := s.validator.Validate(req); err != nil {
		s.metrics.RecordSignUp(metrics.OutcomeFailure)
		return nil, err
	}

	existing, err := s.profiles.FindByMobile(ctx, req.Mobile)
	if err != nil {
		s.metrics.RecordSignUp(metrics.OutcomeFailure)
		return nil, model.NewTransientError(fmt.Errorf("failed to check mobile number: %w", err))
	}
	if existing != nil {
		s.metrics.RecordSignUp(metrics.OutcomeFailure)
		return nil, model.NewDuplicateAccountError("This mobile number is already registered. Please try logging in instead.")
	}

	user, sess, err := ic.SignUp(ctx, req.Email, req.Password)
	if err != nil {
		s.metrics.RecordSignUp(metrics.OutcomeFailure)
		return nil, remapSignUpError(err)
	}
	s.metrics.RecordSignUp(metrics.OutcomeSuccess)

	result := &RegisterResult{
		UserID:               user.ID,
		Session:              sess,
		ConfirmationRequired: sess == nil,
	}

	profile := &model.Profile{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		Name:      req.Name,
		Mobile:    req.Mobile,
		Email:     user.Email,
		Address:   req.Address,
		IsAdmin:   false,
		CreatedAt: s.now(),
	}
	if err := s.profiles.Create(ctx, profile); err != nil {
		// アカウントは作成済みのため失敗を返さない。オンボーディングで回復する。
		bootstrapErr := model.NewProfileBootstrapError(user.ID, err)
		slog.Error("profile bootstrap failed",
			slog.String("user_id", user.ID),
			slog.String("kind", string(model.KindPartialFailure)),
			slog.String("error", bootstrapErr.Error()),
		)
		s.metrics.RecordProfileBootstrapFailure()
		return result, nil
	}

	result.Profile = profile
	if sess != nil && local != nil {
		local.Reload(ctx)
	}
	slog.Info("account registered",
		slog.String("user_id", user.ID),
		slog.String("email", identity.MaskEmail(user.Email)),
	)
	return result, nil
}

// SignIn は識別子（メールアドレスまたは10桁の携帯番号）とパスワードでサインインする。
// 携帯番号の場合はプロフィールからメールアドレスを解決する。該当するプロフィールがなければ認証を試みない。
// 成功時のSession Managerの更新は認証クライアントの通知で行われる。
func (s *Service) SignIn(ctx context.Context, ic IdentityClient, identifier, password string) (*identity.Session, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, model.NewValidationError("Please enter your email or mobile number and password")
	}

	method := "email"
	email := identifier
	if validation.IsMobileNumber(identifier) {
		method = "mobile"
		profile, err := s.profiles.FindByMobile(ctx, identifier)
		if err != nil {
			s.metrics.RecordSignIn(method, metrics.OutcomeFailure)
			return nil, model.NewTransientError(fmt.Errorf("failed to resolve mobile number: %w", err))
		}
		if profile == nil {
			s.metrics.RecordSignIn(method, metrics.OutcomeFailure)
			return nil, model.NewMobileNotRegisteredError()
		}
		email = profile.Email
	} else if !validation.IsEmail(identifier) {
		s.metrics.RecordSignIn(method, metrics.OutcomeFailure)
		return nil, model.NewValidationError("Please enter a valid email address or 10-digit mobile number")
	}

	sess, err := ic.SignInWithPassword(ctx, email, password)
	if err != nil {
		s.metrics.RecordSignIn(method, metrics.OutcomeFailure)
		return nil, err
	}

	s.metrics.RecordSignIn(method, metrics.OutcomeSuccess)
	return sess, nil
}

// SignOut はリモートのセッションを破棄し、ローカル状態を無条件にクリアする。
// リモートの破棄に失敗してもログに残すだけで、呼び出し元には失敗を返さない。
func (s *Service) SignOut(ctx context.Context, ic IdentityClient, local LocalSession) {
	if err := ic.SignOut(ctx); err != nil {
		slog.Warn("remote sign out failed", slog.String("error", err.Error()))
	}
	if local != nil {
		local.Clear()
	}
}

// ResetPassword はパスワード再設定メールの送信を依頼する。
// redirectToは再設定ページのURLで、空の場合は既定のページを使う。
func (s *Service) ResetPassword(ctx context.Context, ic IdentityClient, email, redirectTo string) error {
	email = validation.NormalizeEmail(email)
	if !validation.IsEmail(email) {
		return model.NewValidationError("Please enter a valid email address")
	}
	return ic.ResetPasswordForEmail(ctx, email, redirectTo)
}

// UpdatePassword は再設定トークンで新しいパスワードを設定する。
func (s *Service) UpdatePassword(ctx context.Context, ic IdentityClient, req UpdatePasswordRequest) (*identity.Session, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}
	return ic.UpdatePassword(ctx, req.Token, req.Password)
}

// ConfirmEmail はメールアドレス確認トークンを検証し、サインインする。
func (s *Service) ConfirmEmail(ctx context.Context, ic IdentityClient, token string) (*identity.Session, error) {
	if token == "" {
		return nil, model.NewInvalidTokenError()
	}
	return ic.ConfirmEmail(ctx, token)
}

// remapSignUpError はIdentity Storeのエラーを表示用のメッセージに置き換える。
func remapSignUpError(err error) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeDuplicateAccount {
		remapped := model.NewDuplicateAccountError("This email is already registered. Please try logging in instead.")
		remapped.Err = err
		return remapped
	}
	return err
}

// compile-time interface check
var (
	_ IdentityClient = (*identity.Client)(nil)
	_ Metrics        = metrics.MetricsCollector(nil)
)
