package repository

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/estate/internal/database"
	"github.com/hitoshi/estate/internal/model"
)

// setupIntegrationDB はテスト用データベースを準備する。
// TEST_DATABASE_URL未設定またはDBに接続できない場合はスキップする。
func setupIntegrationDB(t *testing.T) *sql.DB {
	t.Helper()

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL が未設定のためスキップ")
	}

	db, err := database.Open(dbURL)
	if err != nil {
		t.Fatalf("データベースへの接続に失敗: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("テスト用データベースに接続できません（スキップ）: %v", err)
	}
	if err := database.RunMigrations(dbURL); err != nil {
		t.Fatalf("マイグレーション実行に失敗: %v", err)
	}
	if _, err := db.Exec(`TRUNCATE inquiries, properties, profiles, auth_sessions, identities CASCADE`); err != nil {
		t.Fatalf("クリーンアップに失敗: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedIdentityWithProfile(t *testing.T, db *sql.DB, email, mobile string) *model.Profile {
	t.Helper()
	now := time.Now()
	identity := &model.Identity{ID: uuid.NewString(), Email: email, PasswordHash: "x", CreatedAt: now, UpdatedAt: now}
	profile := &model.Profile{ID: uuid.NewString(), UserID: identity.ID, Name: "Test", Mobile: mobile, Email: email, CreatedAt: now}
	if err := NewPostgresIdentityRepo(db).CreateWithProfile(context.Background(), identity, profile); err != nil {
		t.Fatalf("identity作成に失敗: %v", err)
	}
	return profile
}

func seedProperty(t *testing.T, db *sql.DB, code, location string) *model.Property {
	t.Helper()
	now := time.Now()
	p := &model.Property{
		ID: uuid.NewString(), UniqueCode: code, Name: "Plot", FullLocation: location,
		Price: 1500000, Images: []string{"https://img.example.com/1.jpg"},
		CreatedAt: now, UpdatedAt: now,
	}
	if err := NewPostgresPropertyRepo(db).Create(context.Background(), p); err != nil {
		t.Fatalf("物件作成に失敗: %v", err)
	}
	return p
}

func TestIntegration_ProfileDuplicateMobile(t *testing.T) {
	db := setupIntegrationDB(t)
	seedIdentityWithProfile(t, db, "a@b.com", "9876543210")

	now := time.Now()
	other := &model.Identity{ID: uuid.NewString(), Email: "c@d.com", PasswordHash: "x", CreatedAt: now, UpdatedAt: now}
	if err := NewPostgresIdentityRepo(db).Create(context.Background(), other); err != nil {
		t.Fatalf("identity作成に失敗: %v", err)
	}

	err := NewPostgresProfileRepo(db).Create(context.Background(), &model.Profile{
		ID: uuid.NewString(), UserID: other.ID, Name: "Other", Mobile: "9876543210", Email: "c@d.com", CreatedAt: now,
	})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestIntegration_PropertySearchAndSoftDelete(t *testing.T) {
	db := setupIntegrationDB(t)
	repo := NewPostgresPropertyRepo(db)
	ctx := context.Background()

	kota := seedProperty(t, db, "SKP-20250101-0001", "Talwandi, Kota, Rajasthan")
	seedProperty(t, db, "SKP-20250101-0002", "Malviya Nagar, Jaipur")

	found, err := repo.SearchByLocation(ctx, "kota", 50)
	if err != nil {
		t.Fatalf("検索に失敗: %v", err)
	}
	if len(found) != 1 || found[0].ID != kota.ID {
		t.Fatalf("SearchByLocation() = %d件, want Kotaの1件", len(found))
	}

	if err := repo.SoftDelete(ctx, kota.ID, time.Now()); err != nil {
		t.Fatalf("論理削除に失敗: %v", err)
	}
	if err := repo.SoftDelete(ctx, kota.ID, time.Now()); !errors.Is(err, ErrNotFound) {
		t.Errorf("2回目の論理削除 = %v, want ErrNotFound", err)
	}

	active, err := repo.ListActive(ctx, 50, 0)
	if err != nil {
		t.Fatalf("一覧取得に失敗: %v", err)
	}
	if len(active) != 1 {
		t.Errorf("ListActive() = %d件, want 1", len(active))
	}

	deleted, err := repo.FindByID(ctx, kota.ID)
	if err != nil || deleted == nil {
		t.Fatalf("FindByID() = %v, %v", deleted, err)
	}
	if !deleted.IsDeleted() {
		t.Error("論理削除済みの物件のDeletedAtが設定されていません")
	}
}

// 同一問い合わせへの同時判定は一方のみ成功することを検証
func TestIntegration_InquiryDecide_ConcurrentDecisions(t *testing.T) {
	db := setupIntegrationDB(t)
	repo := NewPostgresInquiryRepo(db)
	ctx := context.Background()

	profile := seedIdentityWithProfile(t, db, "a@b.com", "9876543210")
	property := seedProperty(t, db, "SKP-20250101-0003", "Kota")

	now := time.Now()
	inquiry := &model.Inquiry{
		ID: uuid.NewString(), PropertyID: property.ID, UserID: profile.UserID,
		RequestedVisitDatetime: now.Add(48 * time.Hour), Status: model.InquiryStatusPending,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := repo.Create(ctx, inquiry); err != nil {
		t.Fatalf("問い合わせ作成に失敗: %v", err)
	}

	var wg sync.WaitGroup
	results := make([]bool, 2)
	statuses := []model.InquiryStatus{model.InquiryStatusApproved, model.InquiryStatusDenied}
	for i := range statuses {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := repo.Decide(ctx, Decision{InquiryID: inquiry.ID, Status: statuses[i], DecidedAt: time.Now()})
			if err != nil {
				t.Errorf("Decide() error: %v", err)
			}
			results[i] = ok
		}(i)
	}
	wg.Wait()

	if results[0] == results[1] {
		t.Fatalf("exactly one decision should succeed, got %v", results)
	}

	got, err := repo.FindByID(ctx, inquiry.ID)
	if err != nil {
		t.Fatalf("FindByID() error: %v", err)
	}
	if !got.Status.IsTerminal() {
		t.Errorf("Status = %q, want terminal", got.Status)
	}

	list, err := repo.ListWithPropertyAndProfile(ctx, &got.Status)
	if err != nil {
		t.Fatalf("ListWithPropertyAndProfile() error: %v", err)
	}
	if len(list) != 1 || list[0].Profile.Mobile != "9876543210" {
		t.Errorf("ListWithPropertyAndProfile() = %+v", list)
	}
}
