// Package property は物件一覧・検索・詳細の参照と、管理者による物件の登録・更新・削除を提供する。
package property

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

const (
	// defaultPageSize は一覧の既定件数。
	defaultPageSize = 50
	// maxPageSize は一覧・検索の上限件数。
	maxPageSize = 100
	// maxCodeAttempts は管理コードが重複した場合の再生成回数。
	maxCodeAttempts = 5
)

// Input は物件の登録・更新の入力。
type Input struct {
	Name            string   `json:"name" validate:"required,max=200"`
	FullLocation    string   `json:"full_location" validate:"required,max=500"`
	Lat             *float64 `json:"lat" validate:"omitempty,latitude"`
	Lng             *float64 `json:"lng" validate:"omitempty,longitude"`
	Description     string   `json:"description" validate:"max=10000"`
	Price           float64  `json:"price" validate:"gt=0"`
	AreaSqft        float64  `json:"area_sqft" validate:"gt=0"`
	PropertyType    string   `json:"property_type" validate:"required,oneof=Plot Kothi 1BHK 2BHK 3BHK 'Studio apartment' Duplex Triplex 'Serviced apartment' 'Builder floor' Shop Penthouse Villa Farmhouse"`
	AdType          string   `json:"ad_type" validate:"required,oneof=Rent Sale"`
	DirectionFacing string   `json:"direction_facing" validate:"required,oneof=North East South West"`
	Length          float64  `json:"length" validate:"gte=0"`
	Breadth         float64  `json:"breadth" validate:"gte=0"`
	ThumbnailURL    string   `json:"thumbnail_url" validate:"required,url"`
	Images          []string `json:"images" validate:"max=30,dive,url"`
}

// Service は物件の参照と管理を提供する。
type Service struct {
	repo      repository.PropertyRepository
	validator *validation.Validator
	sanitizer security.TextSanitizer
	media     security.MediaChecker
	now       func() time.Time
}

// NewService はServiceを生成する。mediaがnilの場合は画像URLを検査しない。
func NewService(
	repo repository.PropertyRepository,
	v *validation.Validator,
	sanitizer security.TextSanitizer,
	media security.MediaChecker,
) *Service {
	return &Service{
		repo:      repo,
		validator: v,
		sanitizer: sanitizer,
		media:     media,
		now:       time.Now,
	}
}

// List は削除されていない物件を新しい順に返す。
func (s *Service) List(ctx context.Context, limit, offset int) ([]*model.Property, error) {
	if offset < 0 {
		offset = 0
	}
	items, err := s.repo.ListActive(ctx, clampLimit(limit), offset)
	if err != nil {
		return nil, model.NewTransientError(fmt.Errorf("failed to list properties: %w", err))
	}
	return items, nil
}

// Search は所在地の部分一致で物件を検索する。クエリが空の場合は一覧と同じ結果を返す。
func (s *Service) Search(ctx context.Context, query string, limit int) ([]*model.Property, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return s.List(ctx, limit, 0)
	}
	items, err := s.repo.SearchByLocation(ctx, query, clampLimit(limit))
	if err != nil {
		return nil, model.NewTransientError(fmt.Errorf("failed to search properties: %w", err))
	}
	return items, nil
}

// Get は物件を取得する。存在しないか削除済みの場合はPROPERTY_NOT_FOUNDを返す。
func (s *Service) Get(ctx context.Context, id string) (*model.Property, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, model.NewPropertyNotFoundError(id)
	}
	p, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, model.NewTransientError(fmt.Errorf("failed to find property: %w", err))
	}
	if p == nil || p.IsDeleted() {
		return nil, model.NewPropertyNotFoundError(id)
	}
	return p, nil
}

// Create は物件を登録する。管理コードは SKP-YYYYMMDD-NNNN 形式で自動採番する。
func (s *Service) Create(ctx context.Context, createdBy string, in Input) (*model.Property, error) {
	in = s.clean(in)
	if err := s.validator.Validate(in); err != nil {
		return nil, err
	}
	if err := s.checkMedia(ctx, in); err != nil {
		return nil, err
	}

	now := s.now()
	p := &model.Property{
		ID:        uuid.New().String(),
		CreatedBy: createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	apply(p, in)

	for attempt := 1; ; attempt++ {
		p.UniqueCode = validation.GenerateUniqueCode(now)
		err := s.repo.Create(ctx, p)
		if err == nil {
			break
		}
		if !errors.Is(err, repository.ErrDuplicate) || attempt >= maxCodeAttempts {
			return nil, model.NewTransientError(fmt.Errorf("failed to create property: %w", err))
		}
		slog.Warn("unique code collision, regenerating",
			slog.String("unique_code", p.UniqueCode),
			slog.Int("attempt", attempt),
		)
	}

	slog.Info("property created",
		slog.String("property_id", p.ID),
		slog.String("unique_code", p.UniqueCode),
		slog.String("created_by", createdBy),
	)
	return p, nil
}

// Update は物件情報を更新する。管理コードと登録者は変更しない。
func (s *Service) Update(ctx context.Context, id string, in Input) (*model.Property, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	in = s.clean(in)
	if err := s.validator.Validate(in); err != nil {
		return nil, err
	}
	if err := s.checkMedia(ctx, in); err != nil {
		return nil, err
	}

	apply(p, in)
	p.UpdatedAt = s.now()

	if err := s.repo.Update(ctx, p); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.NewPropertyNotFoundError(id)
		}
		return nil, model.NewTransientError(fmt.Errorf("failed to update property: %w", err))
	}

	slog.Info("property updated", slog.String("property_id", id))
	return p, nil
}

// SoftDelete は物件を論理削除する。既存の問い合わせは参照を保持する。
func (s *Service) SoftDelete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return model.NewPropertyNotFoundError(id)
	}
	if err := s.repo.SoftDelete(ctx, id, s.now()); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewPropertyNotFoundError(id)
		}
		return model.NewTransientError(fmt.Errorf("failed to delete property: %w", err))
	}

	slog.Info("property deleted", slog.String("property_id", id))
	return nil
}

// FormatPrice は価格の表示用文字列を返す。
func FormatPrice(p *model.Property) string {
	return validation.FormatPrice(p.Price)
}

// clean は自由記述の項目を無害化する。説明文のみ書式タグを残す。
func (s *Service) clean(in Input) Input {
	in.Name = s.sanitizer.Text(in.Name)
	in.FullLocation = s.sanitizer.Text(in.FullLocation)
	in.Description = s.sanitizer.RichText(in.Description)
	in.ThumbnailURL = strings.TrimSpace(in.ThumbnailURL)

	images := make([]string, 0, len(in.Images))
	for _, u := range in.Images {
		if u = strings.TrimSpace(u); u != "" {
			images = append(images, u)
		}
	}
	in.Images = images
	return in
}

func (s *Service) checkMedia(ctx context.Context, in Input) error {
	if s.media == nil {
		return nil
	}
	for _, u := range append([]string{in.ThumbnailURL}, in.Images...) {
		if err := s.media.CheckImageURL(ctx, u); err != nil {
			return err
		}
	}
	return nil
}

func apply(p *model.Property, in Input) {
	p.Name = in.Name
	p.FullLocation = in.FullLocation
	p.Lat = in.Lat
	p.Lng = in.Lng
	p.Description = in.Description
	p.Price = in.Price
	p.AreaSqft = in.AreaSqft
	p.PropertyType = in.PropertyType
	p.AdType = in.AdType
	p.DirectionFacing = in.DirectionFacing
	p.Length = in.Length
	p.Breadth = in.Breadth
	p.ThumbnailURL = in.ThumbnailURL
	p.Images = in.Images
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultPageSize
	case limit > maxPageSize:
		return maxPageSize
	default:
		return limit
	}
}
