package profile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/hitoshi/estate/internal/identity"
	"github.com/hitoshi/estate/internal/model"
	"github.com/hitoshi/estate/internal/repository"
	"github.com/hitoshi/estate/internal/validation"
)

// AdminSeed は初期管理者アカウントの入力。
type AdminSeed struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required"`
	Name     string `validate:"required,max=100"`
	Mobile   string `validate:"required,mobile"`
	Address  string `validate:"max=500"`
}

// AdminSeeder はcreate-adminサブコマンド用の管理者アカウント作成処理。
type AdminSeeder struct {
	identRepo repository.IdentityRepository
	profiles  repository.ProfileRepository
	validator *validation.Validator
	service   *Service
}

// NewAdminSeeder はAdminSeederを生成する。
func NewAdminSeeder(identRepo repository.IdentityRepository, svc *Service) *AdminSeeder {
	return &AdminSeeder{
		identRepo: identRepo,
		profiles:  svc.repo,
		validator: svc.validator,
		service:   svc,
	}
}

// Seed はメール確認済みのidentityと管理者プロフィールを作成する。
// 既にidentityとプロフィールが存在する場合は管理者フラグを立てるだけで、createdはfalseになる。
// identityのみ存在する場合はプロフィールを作成する。
func (a *AdminSeeder) Seed(ctx context.Context, in AdminSeed) (p *model.Profile, created bool, err error) {
	in.Email = validation.NormalizeEmail(in.Email)
	in.Name = a.service.sanitizer.Text(in.Name)
	in.Address = a.service.sanitizer.Text(in.Address)
	in.Mobile = strings.TrimSpace(in.Mobile)
	if err := a.validator.Validate(in); err != nil {
		return nil, false, err
	}

	ident, err := a.identRepo.FindByEmail(ctx, in.Email)
	if err != nil {
		return nil, false, model.NewTransientError(fmt.Errorf("failed to find identity: %w", err))
	}

	if ident != nil {
		existing, err := a.service.GetMe(ctx, ident.ID)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			if err := a.service.SetAdmin(ctx, ident.ID, true); err != nil {
				return nil, false, err
			}
			existing.IsAdmin = true
			return existing, false, nil
		}

		p = a.newAdminProfile(ident, in)
		if err := a.profiles.Create(ctx, p); err != nil {
			return nil, false, duplicateOr(err, "failed to create admin profile")
		}
		slog.Info("admin profile created for existing identity", slog.String("user_id", ident.ID))
		return p, true, nil
	}

	if ok, msg := validation.ValidatePassword(in.Password); !ok {
		return nil, false, model.NewValidationError(msg)
	}
	hash, err := identity.HashPassword(in.Password)
	if err != nil {
		return nil, false, fmt.Errorf("failed to hash password: %w", err)
	}

	now := a.service.now()
	ident = &model.Identity{
		ID:               uuid.New().String(),
		Email:            in.Email,
		PasswordHash:     hash,
		EmailConfirmedAt: &now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	p = a.newAdminProfile(ident, in)
	if err := a.identRepo.CreateWithProfile(ctx, ident, p); err != nil {
		return nil, false, duplicateOr(err, "failed to create admin account")
	}

	slog.Info("admin account created",
		slog.String("user_id", ident.ID),
		slog.String("email", identity.MaskEmail(in.Email)),
	)
	return p, true, nil
}

func (a *AdminSeeder) newAdminProfile(ident *model.Identity, in AdminSeed) *model.Profile {
	return &model.Profile{
		ID:        uuid.New().String(),
		UserID:    ident.ID,
		Name:      in.Name,
		Mobile:    in.Mobile,
		Email:     ident.Email,
		Address:   in.Address,
		IsAdmin:   true,
		CreatedAt: a.service.now(),
	}
}
