// Package identity はクレデンシャル管理（Identity Store）と、クライアント単位の認証状態購読を提供する。
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/estate/internal/mailer"
	"github.com/hitoshi/estate/internal/model"
	"github.com/hitoshi/estate/internal/repository"
	"github.com/hitoshi/estate/internal/validation"
)

// StoreConfig はIdentity Storeの設定。
type StoreConfig struct {
	SessionTTL               time.Duration // セッション有効期間
	RefreshWindow            time.Duration // 残り有効期間がこれを下回ると延長する
	RequireEmailConfirmation bool          // trueの場合、登録時に確認メールを送りセッションを発行しない
	BaseURL                  string        // 再設定・確認リンクの基準URL
	ResetTokenTTL            time.Duration
	ConfirmTokenTTL          time.Duration
}

// AuthResult はクレデンシャル操作の結果。
// Sessionはメール確認待ちの登録などでnilになる。
type AuthResult struct {
	Identity *model.Identity
	Session  *model.AuthSession
}

// Store はidentitiesとauth_sessionsを所有するIdentity Store。
type Store struct {
	identRepo   repository.IdentityRepository
	sessionRepo repository.SessionRepository
	tokens      *TokenIssuer
	mailer      mailer.Mailer
	config      StoreConfig
	now         func() time.Time
}

// NewStore はStoreを生成する。
func NewStore(
	identRepo repository.IdentityRepository,
	sessionRepo repository.SessionRepository,
	tokens *TokenIssuer,
	m mailer.Mailer,
	config StoreConfig,
) *Store {
	return &Store{
		identRepo:   identRepo,
		sessionRepo: sessionRepo,
		tokens:      tokens,
		mailer:      m,
		config:      config,
		now:         time.Now,
	}
}

// SignUp はメールアドレスとパスワードでクレデンシャルを作成する。
// メール確認が不要な設定ではそのままセッションを発行する。
func (s *Store) SignUp(ctx context.Context, email, password string) (*AuthResult, error) {
	email = validation.NormalizeEmail(email)
	if !validation.IsEmail(email) {
		return nil, model.NewValidationError("Unable to validate email address: invalid format")
	}
	if ok, msg := validation.ValidatePassword(password); !ok {
		return nil, model.NewValidationError(msg)
	}

	existing, err := s.identRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, model.NewTransientError(fmt.Errorf("failed to find identity: %w", err))
	}
	if existing != nil {
		return nil, model.NewDuplicateAccountError("User already registered")
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	ident := &model.Identity{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if !s.config.RequireEmailConfirmation {
		ident.EmailConfirmedAt = &now
	}

	if err := s.identRepo.Create(ctx, ident); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewDuplicateAccountError("User already registered")
		}
		return nil, model.NewTransientError(fmt.Errorf("failed to create identity: %w", err))
	}

	slog.Info("identity created",
		slog.String("identity_id", ident.ID),
		slog.String("email", MaskEmail(email)),
	)

	if s.config.RequireEmailConfirmation {
		// 確認メールの送信失敗では登録を失敗させない。再設定フローで回復できる。
		if err := s.sendConfirmation(ctx, ident); err != nil {
			slog.Error("failed to send confirmation mail",
				slog.String("identity_id", ident.ID),
				slog.String("error", err.Error()),
			)
		}
		return &AuthResult{Identity: ident}, nil
	}

	session, err := s.createSession(ctx, ident.ID)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Identity: ident, Session: session}, nil
}

// SignInWithPassword はパスワード認証を行い、セッションを発行する。
func (s *Store) SignInWithPassword(ctx context.Context, email, password string) (*AuthResult, error) {
	email = validation.NormalizeEmail(email)

	ident, err := s.identRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, model.NewTransientError(fmt.Errorf("failed to find identity: %w", err))
	}
	if ident == nil || !CheckPassword(password, ident.PasswordHash) {
		return nil, model.NewAuthenticationError("Invalid login credentials")
	}
	if !ident.IsConfirmed() {
		return nil, model.NewEmailNotConfirmedError()
	}

	session, err := s.createSession(ctx, ident.ID)
	if err != nil {
		return nil, err
	}

	slog.Info("identity signed in", slog.String("identity_id", ident.ID))
	return &AuthResult{Identity: ident, Session: session}, nil
}

// GetSession はトークンに対応する有効なセッションを取得する。
// 残り有効期間がRefreshWindowを下回る場合は期限を延長し、refreshedにtrueを返す。
// セッションが存在しないか期限切れの場合はnilを返す。
func (s *Store) GetSession(ctx context.Context, token string) (result *AuthResult, refreshed bool, err error) {
	if token == "" {
		return nil, false, nil
	}

	session, err := s.sessionRepo.FindByToken(ctx, token)
	if err != nil {
		return nil, false, model.NewTransientError(fmt.Errorf("failed to find session: %w", err))
	}
	now := s.now()
	if session == nil || session.Expired(now) {
		return nil, false, nil
	}

	ident, err := s.identRepo.FindByID(ctx, session.IdentityID)
	if err != nil {
		return nil, false, model.NewTransientError(fmt.Errorf("failed to find identity: %w", err))
	}
	if ident == nil {
		return nil, false, nil
	}

	if session.ExpiresAt.Sub(now) < s.config.RefreshWindow {
		expiresAt := now.Add(s.config.SessionTTL)
		if err := s.sessionRepo.Extend(ctx, token, expiresAt); err != nil {
			// 延長に失敗しても現在のセッションは有効なまま扱う
			slog.Warn("failed to extend session",
				slog.String("identity_id", ident.ID),
				slog.String("error", err.Error()),
			)
		} else {
			session.ExpiresAt = expiresAt
			refreshed = true
		}
	}

	return &AuthResult{Identity: ident, Session: session}, refreshed, nil
}

// SignOut はセッションを破棄する。
func (s *Store) SignOut(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.sessionRepo.DeleteByToken(ctx, token); err != nil {
		return model.NewTransientError(fmt.Errorf("failed to delete session: %w", err))
	}
	return nil
}

// ResetPasswordForEmail はパスワード再設定メールを送信する。
// redirectToはBaseURLと同じホストでなければならない。空の場合は BaseURL/reset-password を使う。
// 未登録のメールアドレスでもエラーを返さない。
func (s *Store) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	email = validation.NormalizeEmail(email)
	if !validation.IsEmail(email) {
		return model.NewValidationError("Unable to validate email address: invalid format")
	}

	target, err := s.resolveRedirect(redirectTo, "/reset-password")
	if err != nil {
		return err
	}

	ident, err := s.identRepo.FindByEmail(ctx, email)
	if err != nil {
		return model.NewTransientError(fmt.Errorf("failed to find identity: %w", err))
	}
	if ident == nil {
		slog.Info("password reset requested for unknown email", slog.String("email", MaskEmail(email)))
		return nil
	}

	token, err := s.tokens.Issue(ident.ID, PurposePasswordReset, passwordFingerprint(ident.PasswordHash), s.config.ResetTokenTTL)
	if err != nil {
		return err
	}

	if err := s.mailer.SendPasswordReset(ctx, ident.Email, withToken(target, token)); err != nil {
		return model.NewTransientError(fmt.Errorf("failed to send password reset mail: %w", err))
	}
	return nil
}

// UpdatePassword はパスワード再設定トークンを検証してパスワードを更新する。
// 既存の全セッションを破棄し、新しいセッションを発行する。
// 再設定リンクはメールアドレスの所有を証明するため、未確認のメールアドレスは確認済みになる。
func (s *Store) UpdatePassword(ctx context.Context, resetToken, newPassword string) (*AuthResult, error) {
	if ok, msg := validation.ValidatePassword(newPassword); !ok {
		return nil, model.NewValidationError(msg)
	}

	claims, err := s.tokens.Parse(resetToken, PurposePasswordReset)
	if err != nil {
		return nil, model.NewInvalidTokenError()
	}

	ident, err := s.identRepo.FindByID(ctx, claims.Subject)
	if err != nil {
		return nil, model.NewTransientError(fmt.Errorf("failed to find identity: %w", err))
	}
	// パスワード変更後は指紋が変わるため、同じトークンは再利用できない
	if ident == nil || claims.Fingerprint != passwordFingerprint(ident.PasswordHash) {
		return nil, model.NewInvalidTokenError()
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.identRepo.UpdatePasswordHash(ctx, ident.ID, hash); err != nil {
		return nil, model.NewTransientError(fmt.Errorf("failed to update password: %w", err))
	}
	ident.PasswordHash = hash

	if err := s.sessionRepo.DeleteByIdentityID(ctx, ident.ID); err != nil {
		return nil, model.NewTransientError(fmt.Errorf("failed to revoke sessions: %w", err))
	}

	if !ident.IsConfirmed() {
		now := s.now()
		if err := s.identRepo.MarkEmailConfirmed(ctx, ident.ID, now); err != nil {
			return nil, model.NewTransientError(fmt.Errorf("failed to confirm email: %w", err))
		}
		ident.EmailConfirmedAt = &now
	}

	session, err := s.createSession(ctx, ident.ID)
	if err != nil {
		return nil, err
	}

	slog.Info("password updated", slog.String("identity_id", ident.ID))
	return &AuthResult{Identity: ident, Session: session}, nil
}

// ConfirmEmail はメールアドレス確認トークンを検証し、確認済みにしてセッションを発行する。
func (s *Store) ConfirmEmail(ctx context.Context, token string) (*AuthResult, error) {
	claims, err := s.tokens.Parse(token, PurposeEmailConfirmation)
	if err != nil {
		return nil, model.NewInvalidTokenError()
	}

	ident, err := s.identRepo.FindByID(ctx, claims.Subject)
	if err != nil {
		return nil, model.NewTransientError(fmt.Errorf("failed to find identity: %w", err))
	}
	if ident == nil {
		return nil, model.NewInvalidTokenError()
	}

	if !ident.IsConfirmed() {
		now := s.now()
		if err := s.identRepo.MarkEmailConfirmed(ctx, ident.ID, now); err != nil {
			return nil, model.NewTransientError(fmt.Errorf("failed to confirm email: %w", err))
		}
		ident.EmailConfirmedAt = &now
	}

	session, err := s.createSession(ctx, ident.ID)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Identity: ident, Session: session}, nil
}

// PurgeExpiredSessions は期限切れセッションを削除し、削除件数を返す。
func (s *Store) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	n, err := s.sessionRepo.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired sessions: %w", err)
	}
	return n, nil
}

// createSession はセッションを作成し永続化する。
func (s *Store) createSession(ctx context.Context, identityID string) (*model.AuthSession, error) {
	token, err := generateSessionToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}

	now := s.now()
	session := &model.AuthSession{
		AccessToken: token,
		IdentityID:  identityID,
		ExpiresAt:   now.Add(s.config.SessionTTL),
		CreatedAt:   now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, model.NewTransientError(fmt.Errorf("failed to save session: %w", err))
	}
	return session, nil
}

func (s *Store) sendConfirmation(ctx context.Context, ident *model.Identity) error {
	token, err := s.tokens.Issue(ident.ID, PurposeEmailConfirmation, "", s.config.ConfirmTokenTTL)
	if err != nil {
		return err
	}
	target, err := s.resolveRedirect("", "/auth/confirm")
	if err != nil {
		return err
	}
	return s.mailer.SendEmailConfirmation(ctx, ident.Email, withToken(target, token))
}

// resolveRedirect はリンク先URLを決定する。外部ホストへのリダイレクトは許可しない。
func (s *Store) resolveRedirect(redirectTo, defaultPath string) (*url.URL, error) {
	base, err := url.Parse(s.config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if redirectTo == "" {
		return base.JoinPath(defaultPath), nil
	}

	target, err := url.Parse(redirectTo)
	if err != nil || !target.IsAbs() || !strings.EqualFold(target.Host, base.Host) || target.Scheme != base.Scheme {
		return nil, model.NewValidationError("redirect_to must point to this site")
	}
	return target, nil
}

func withToken(target *url.URL, token string) string {
	u := *target
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

// MaskEmail はログ出力用にメールアドレスのローカル部をマスクする。
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}
