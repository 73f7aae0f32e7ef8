package property

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/estate/internal/model"
	"github.com/hitoshi/estate/internal/repository"
	"github.com/hitoshi/estate/internal/security"
	"github.com/hitoshi/estate/internal/validation"
)

// --- モック定義 ---

type mockPropertyRepo struct {
	findByIDFn   func(ctx context.Context, id string) (*model.Property, error)
	listActiveFn func(ctx context.Context, limit, offset int) ([]*model.Property, error)
	searchFn     func(ctx context.Context, query string, limit int) ([]*model.Property, error)
	createFn     func(ctx context.Context, p *model.Property) error
	updateFn     func(ctx context.Context, p *model.Property) error
	softDeleteFn func(ctx context.Context, id string, at time.Time) error
}

func (m *mockPropertyRepo) FindByID(ctx context.Context, id string) (*model.Property, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockPropertyRepo) ListActive(ctx context.Context, limit, offset int) ([]*model.Property, error) {
	if m.listActiveFn != nil {
		return m.listActiveFn(ctx, limit, offset)
	}
	return nil, nil
}

func (m *mockPropertyRepo) SearchByLocation(ctx context.Context, query string, limit int) ([]*model.Property, error) {
	if m.searchFn != nil {
		return m.searchFn(ctx, query, limit)
	}
	return nil, nil
}

func (m *mockPropertyRepo) Create(ctx context.Context, p *model.Property) error {
	if m.createFn != nil {
		return m.createFn(ctx, p)
	}
	return nil
}

func (m *mockPropertyRepo) Update(ctx context.Context, p *model.Property) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, p)
	}
	return nil
}

func (m *mockPropertyRepo) SoftDelete(ctx context.Context, id string, at time.Time) error {
	if m.softDeleteFn != nil {
		return m.softDeleteFn(ctx, id, at)
	}
	return nil
}

type mockMediaChecker struct {
	checked []string
	reject  string
}

func (m *mockMediaChecker) CheckImageURL(_ context.Context, rawURL string) error {
	m.checked = append(m.checked, rawURL)
	if rawURL == m.reject {
		return model.NewUnsafeMediaURLError(rawURL)
	}
	return nil
}

var fixedNow = time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

func newTestService(repo repository.PropertyRepository, media security.MediaChecker) *Service {
	svc := NewService(repo, validation.New(), security.NewSanitizer(), media)
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func validInput() Input {
	return Input{
		Name:            "Lake View Villa",
		FullLocation:    "Sector 12, Kota, Rajasthan",
		Description:     "<p>Spacious <strong>villa</strong></p><script>alert(1)</script>",
		Price:           4500000,
		AreaSqft:        2400,
		PropertyType:    "Villa",
		AdType:          "Sale",
		DirectionFacing: "North",
		Length:          60,
		Breadth:         40,
		ThumbnailURL:    "https://cdn.example.com/villa.jpg",
		Images:          []string{"https://cdn.example.com/1.jpg", " "},
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

func TestCreate_Success(t *testing.T) {
	var stored *model.Property
	repo := &mockPropertyRepo{
		createFn: func(_ context.Context, p *model.Property) error {
			stored = p
			return nil
		},
	}
	media := &mockMediaChecker{}
	svc := newTestService(repo, media)

	p, err := svc.Create(context.Background(), "admin-1", validInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored != p {
		t.Fatal("created property should be persisted")
	}
	if !strings.HasPrefix(p.UniqueCode, "SKP-20250314-") || !validation.IsUniqueCode(p.UniqueCode) {
		t.Errorf("UniqueCode = %q", p.UniqueCode)
	}
	if p.Description != "<p>Spacious <strong>villa</strong></p>" {
		t.Errorf("Description = %q", p.Description)
	}
	if len(p.Images) != 1 {
		t.Errorf("blank image entries should be dropped: %v", p.Images)
	}
	if p.CreatedBy != "admin-1" || p.DeletedAt != nil {
		t.Errorf("property = %+v", p)
	}
	if len(media.checked) != 2 {
		t.Errorf("checked = %v, want thumbnail and image", media.checked)
	}
}

func TestCreate_RetriesOnCodeCollision(t *testing.T) {
	calls := 0
	repo := &mockPropertyRepo{
		createFn: func(context.Context, *model.Property) error {
			calls++
			if calls < 3 {
				return &repository.DuplicateError{Constraint: "properties_unique_code_key"}
			}
			return nil
		},
	}
	svc := newTestService(repo, nil)

	if _, err := svc.Create(context.Background(), "admin-1", validInput()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestCreate_GivesUpAfterRepeatedCollisions(t *testing.T) {
	calls := 0
	repo := &mockPropertyRepo{
		createFn: func(context.Context, *model.Property) error {
			calls++
			return repository.ErrDuplicate
		},
	}
	svc := newTestService(repo, nil)

	_, err := svc.Create(context.Background(), "admin-1", validInput())
	if model.KindOf(err) != model.KindTransient {
		t.Errorf("kind = %q, want transient", model.KindOf(err))
	}
	if calls != maxCodeAttempts {
		t.Errorf("calls = %d, want %d", calls, maxCodeAttempts)
	}
}

func TestCreate_ValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Input)
	}{
		{"名称なし", func(in *Input) { in.Name = "<b></b>" }},
		{"価格が0", func(in *Input) { in.Price = 0 }},
		{"不明な物件種別", func(in *Input) { in.PropertyType = "Castle" }},
		{"不明な広告種別", func(in *Input) { in.AdType = "Lease" }},
		{"不明な方角", func(in *Input) { in.DirectionFacing = "Up" }},
		{"サムネイルがURLでない", func(in *Input) { in.ThumbnailURL = "villa.jpg" }},
		{"緯度が範囲外", func(in *Input) { lat := 123.0; in.Lat = &lat }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			repo := &mockPropertyRepo{
				createFn: func(context.Context, *model.Property) error {
					called = true
					return nil
				},
			}
			svc := newTestService(repo, nil)
			in := validInput()
			tt.mutate(&in)

			_, err := svc.Create(context.Background(), "admin-1", in)
			if apiCode(err) != model.ErrCodeValidation {
				t.Errorf("code = %q, want VALIDATION_ERROR (err=%v)", apiCode(err), err)
			}
			if called {
				t.Error("invalid input must not be persisted")
			}
		})
	}
}

func TestCreate_MultiWordPropertyType(t *testing.T) {
	svc := newTestService(&mockPropertyRepo{}, nil)
	in := validInput()
	in.PropertyType = "Studio apartment"

	if _, err := svc.Create(context.Background(), "admin-1", in); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCreate_UnsafeMediaRejected(t *testing.T) {
	media := &mockMediaChecker{reject: "https://cdn.example.com/1.jpg"}
	svc := newTestService(&mockPropertyRepo{}, media)

	_, err := svc.Create(context.Background(), "admin-1", validInput())
	if apiCode(err) != model.ErrCodeUnsafeMediaURL {
		t.Errorf("code = %q, want UNSAFE_MEDIA_URL", apiCode(err))
	}
}

func TestGet(t *testing.T) {
	active := uuid.New().String()
	deleted := uuid.New().String()
	deletedAt := fixedNow
	repo := &mockPropertyRepo{
		findByIDFn: func(_ context.Context, id string) (*model.Property, error) {
			switch id {
			case active:
				return &model.Property{ID: id}, nil
			case deleted:
				return &model.Property{ID: id, DeletedAt: &deletedAt}, nil
			}
			return nil, nil
		},
	}
	svc := newTestService(repo, nil)

	if p, err := svc.Get(context.Background(), active); err != nil || p.ID != active {
		t.Errorf("Get(active) = %v, %v", p, err)
	}
	for _, id := range []string{deleted, uuid.New().String(), "SKP-1"} {
		if _, err := svc.Get(context.Background(), id); apiCode(err) != model.ErrCodePropertyNotFound {
			t.Errorf("Get(%q) code = %q", id, apiCode(err))
		}
	}
}

func TestUpdate_KeepsCodeAndCreator(t *testing.T) {
	id := uuid.New().String()
	repo := &mockPropertyRepo{
		findByIDFn: func(_ context.Context, id string) (*model.Property, error) {
			return &model.Property{ID: id, UniqueCode: "SKP-20240101-0001", CreatedBy: "admin-0"}, nil
		},
	}
	svc := newTestService(repo, nil)

	in := validInput()
	in.Price = 5000000
	p, err := svc.Update(context.Background(), id, in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.UniqueCode != "SKP-20240101-0001" || p.CreatedBy != "admin-0" {
		t.Errorf("immutable fields changed: %+v", p)
	}
	if p.Price != 5000000 || !p.UpdatedAt.Equal(fixedNow) {
		t.Errorf("property = %+v", p)
	}
}

func TestSoftDelete(t *testing.T) {
	id := uuid.New().String()
	var gotAt time.Time
	repo := &mockPropertyRepo{
		softDeleteFn: func(_ context.Context, gotID string, at time.Time) error {
			if gotID != id {
				return repository.ErrNotFound
			}
			gotAt = at
			return nil
		},
	}
	svc := newTestService(repo, nil)

	if err := svc.SoftDelete(context.Background(), id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !gotAt.Equal(fixedNow) {
		t.Errorf("deleted_at = %v", gotAt)
	}
	if err := svc.SoftDelete(context.Background(), uuid.New().String()); apiCode(err) != model.ErrCodePropertyNotFound {
		t.Errorf("code = %q, want PROPERTY_NOT_FOUND", apiCode(err))
	}
}

func TestSearch(t *testing.T) {
	var gotQuery string
	var gotLimit int
	listed := false
	repo := &mockPropertyRepo{
		searchFn: func(_ context.Context, q string, limit int) ([]*model.Property, error) {
			gotQuery, gotLimit = q, limit
			return []*model.Property{{ID: "p1"}}, nil
		},
		listActiveFn: func(context.Context, int, int) ([]*model.Property, error) {
			listed = true
			return nil, nil
		},
	}
	svc := newTestService(repo, nil)

	items, err := svc.Search(context.Background(), "  kota ", 500)
	if err != nil || len(items) != 1 {
		t.Fatalf("Search = %v, %v", items, err)
	}
	if gotQuery != "kota" || gotLimit != maxPageSize {
		t.Errorf("query = %q, limit = %d", gotQuery, gotLimit)
	}

	if _, err := svc.Search(context.Background(), " ", 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !listed {
		t.Error("empty query should fall back to the listing")
	}
}

func TestFormatPrice(t *testing.T) {
	got := FormatPrice(&model.Property{Price: 4500000})
	if !strings.HasPrefix(got, "₹") || strings.ReplaceAll(strings.TrimPrefix(got, "₹"), ",", "") != "4500000" {
		t.Errorf("FormatPrice = %q", got)
	}
}
