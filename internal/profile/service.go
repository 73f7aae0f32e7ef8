// Package profile はプロフィールの参照・オンボーディング・更新と、管理者による権限変更を提供する。
package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/estate/internal/model"
	"github.com/hitoshi/estate/internal/repository"
	"github.com/hitoshi/estate/internal/security"
	"github.com/hitoshi/estate/internal/validation"
)

// OnboardingRequest はプロフィール未作成のidentityがプロフィールを作成する入力。
// メールアドレスはidentityのものを使う。
type OnboardingRequest struct {
	Name    string `json:"name" validate:"required,max=100"`
	Mobile  string `json:"mobile" validate:"required,mobile"`
	Address string `json:"address" validate:"required,max=500"`
}

// UpdateRequest はプロフィール更新の入力。
type UpdateRequest struct {
	Name    string `json:"name" validate:"required,max=100"`
	Mobile  string `json:"mobile" validate:"required,mobile"`
	Address string `json:"address" validate:"required,max=500"`
}

// Service はプロフィール管理のサービス層。
type Service struct {
	repo      repository.ProfileRepository
	validator *validation.Validator
	sanitizer security.TextSanitizer
	now       func() time.Time
}

// NewService はServiceを生成する。
func NewService(repo repository.ProfileRepository, v *validation.Validator, sanitizer security.TextSanitizer) *Service {
	return &Service{
		repo:      repo,
		validator: v,
		sanitizer: sanitizer,
		now:       time.Now,
	}
}

// GetMe は指定identityのプロフィールを返す。未作成の場合はnilを返す。
func (s *Service) GetMe(ctx context.Context, userID string) (*model.Profile, error) {
	p, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, model.NewTransientError(fmt.Errorf("failed to find profile: %w", err))
	}
	return p, nil
}

// CompleteOnboarding はプロフィールを持たないidentityのプロフィールを作成する。
// 登録時のプロフィール作成に失敗した場合の回復手段となる。
func (s *Service) CompleteOnboarding(ctx context.Context, user *model.Identity, req OnboardingRequest) (*model.Profile, error) {
	req.Name = s.sanitizer.Text(req.Name)
	req.Address = s.sanitizer.Text(req.Address)
	req.Mobile = strings.TrimSpace(req.Mobile)
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	existing, err := s.GetMe(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, model.NewProfileExistsError()
	}

	p := &model.Profile{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		Name:      req.Name,
		Mobile:    req.Mobile,
		Email:     user.Email,
		Address:   req.Address,
		IsAdmin:   false,
		CreatedAt: s.now(),
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, duplicateOr(err, "failed to create profile")
	}

	slog.Info("onboarding completed", slog.String("user_id", user.ID))
	return p, nil
}

// UpdateMe は氏名、携帯番号、住所を更新する。メールアドレスと管理者フラグは変更しない。
func (s *Service) UpdateMe(ctx context.Context, userID string, req UpdateRequest) (*model.Profile, error) {
	req.Name = s.sanitizer.Text(req.Name)
	req.Address = s.sanitizer.Text(req.Address)
	req.Mobile = strings.TrimSpace(req.Mobile)
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	p, err := s.GetMe(ctx, userID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, model.NewProfileNotFoundError()
	}

	p.Name = req.Name
	p.Mobile = req.Mobile
	p.Address = req.Address
	if err := s.repo.Update(ctx, p); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.NewProfileNotFoundError()
		}
		return nil, duplicateOr(err, "failed to update profile")
	}
	return p, nil
}

// SetAdmin は管理者フラグを変更する。
func (s *Service) SetAdmin(ctx context.Context, userID string, isAdmin bool) error {
	if _, err := uuid.Parse(userID); err != nil {
		return model.NewProfileNotFoundError()
	}
	if err := s.repo.SetAdmin(ctx, userID, isAdmin); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewProfileNotFoundError()
		}
		return model.NewTransientError(fmt.Errorf("failed to update admin flag: %w", err))
	}

	slog.Info("admin flag changed",
		slog.String("user_id", userID),
		slog.Bool("is_admin", isAdmin),
	)
	return nil
}

// duplicateOr は一意制約違反を違反した制約に応じたエラーに変換し、それ以外は一時的障害として返す。
// 制約名が分からない重複は携帯番号の重複として扱う。
func duplicateOr(err error, msg string) error {
	if !errors.Is(err, repository.ErrDuplicate) {
		return model.NewTransientError(fmt.Errorf("%s: %w", msg, err))
	}

	var dup *repository.DuplicateError
	constraint := ""
	if errors.As(err, &dup) {
		constraint = dup.Constraint
	}
	switch {
	case strings.Contains(constraint, "user_id"):
		// 同じidentityのプロフィールが並行して作成された
		return model.NewProfileExistsError()
	case strings.Contains(constraint, "email"):
		return model.NewDuplicateAccountError("This email is already registered to another account.")
	default:
		return model.NewDuplicateAccountError("This mobile number is already registered to another account.")
	}
}
