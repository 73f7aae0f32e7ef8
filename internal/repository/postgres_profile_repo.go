package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/estate/internal/model"
)

// PostgresProfileRepo はPostgreSQLを使用したプロフィールリポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

const profileColumns = `id, user_id, name, mobile, email, address, is_admin, created_at`

func scanProfile(row interface{ Scan(...any) error }) (*model.Profile, error) {
	p := &model.Profile{}
	if err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.Mobile, &p.Email, &p.Address, &p.IsAdmin, &p.CreatedAt); err != nil {
		return nil, err
	}
	return p, nil
}

// FindByUserID はidentity IDでプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByUserID(ctx context.Context, userID string) (*model.Profile, error) {
	p, err := scanProfile(r.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE user_id = $1`,
		userID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}
	return p, nil
}

// FindByMobile は携帯番号でプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByMobile(ctx context.Context, mobile string) (*model.Profile, error) {
	p, err := scanProfile(r.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE mobile = $1`,
		mobile,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("携帯番号によるプロフィールの検索に失敗しました: %w", err)
	}
	return p, nil
}

// Create はプロフィールを作成する。
func (r *PostgresProfileRepo) Create(ctx context.Context, profile *model.Profile) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO profiles (id, user_id, name, mobile, email, address, is_admin, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		profile.ID, profile.UserID, profile.Name, profile.Mobile, profile.Email,
		profile.Address, profile.IsAdmin, profile.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("プロフィールの作成に失敗しました: %w", mapPQError(err))
	}
	return nil
}

// Update は氏名、携帯番号、住所を更新する。
func (r *PostgresProfileRepo) Update(ctx context.Context, profile *model.Profile) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE profiles SET name = $2, mobile = $3, address = $4 WHERE user_id = $1`,
		profile.UserID, profile.Name, profile.Mobile, profile.Address,
	)
	if err != nil {
		return fmt.Errorf("プロフィールの更新に失敗しました: %w", mapPQError(err))
	}
	return checkRowsAffected(result)
}

// SetAdmin は管理者フラグを更新する。
func (r *PostgresProfileRepo) SetAdmin(ctx context.Context, userID string, isAdmin bool) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE profiles SET is_admin = $2 WHERE user_id = $1`,
		userID, isAdmin,
	)
	if err != nil {
		return fmt.Errorf("管理者フラグの更新に失敗しました: %w", err)
	}
	return checkRowsAffected(result)
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)
