// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/estate/internal/model"
)

// IdentityRepository は認証クレデンシャルの永続化インターフェース。
type IdentityRepository interface {
	// FindByID は指定IDのidentityを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Identity, error)

	// FindByEmail はメールアドレスでidentityを検索する。大文字小文字は区別しない。
	// 見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.Identity, error)

	// Create はidentityを作成する。メールアドレスが重複する場合はErrDuplicateを返す。
	Create(ctx context.Context, identity *model.Identity) error

	// CreateWithProfile はidentityとプロフィールを同一トランザクションで作成する。
	CreateWithProfile(ctx context.Context, identity *model.Identity, profile *model.Profile) error

	// UpdatePasswordHash はパスワードハッシュを更新する。
	UpdatePasswordHash(ctx context.Context, id, passwordHash string) error

	// MarkEmailConfirmed はメールアドレス確認日時を設定する。既に確認済みの場合は変更しない。
	MarkEmailConfirmed(ctx context.Context, id string, at time.Time) error
}

// SessionRepository は認証セッションの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.AuthSession) error

	// FindByToken は指定トークンのセッションを取得する。期限切れの場合はnilを返す。
	FindByToken(ctx context.Context, token string) (*model.AuthSession, error)

	// Extend はセッションの有効期限を延長する。
	Extend(ctx context.Context, token string, expiresAt time.Time) error

	// DeleteByToken は指定トークンのセッションを削除する。
	DeleteByToken(ctx context.Context, token string) error

	// DeleteByIdentityID は指定identityの全セッションを削除する。
	DeleteByIdentityID(ctx context.Context, identityID string) error

	// DeleteExpired は指定時刻までに期限切れとなったセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// ProfileRepository はプロフィールの永続化インターフェース。
type ProfileRepository interface {
	// FindByUserID はidentity IDでプロフィールを取得する。見つからない場合はnilを返す。
	FindByUserID(ctx context.Context, userID string) (*model.Profile, error)

	// FindByMobile は携帯番号でプロフィールを取得する。見つからない場合はnilを返す。
	FindByMobile(ctx context.Context, mobile string) (*model.Profile, error)

	// Create はプロフィールを作成する。一意制約違反の場合はErrDuplicateを返す。
	Create(ctx context.Context, profile *model.Profile) error

	// Update は氏名、携帯番号、住所を更新する。対象が存在しない場合はErrNotFoundを返す。
	Update(ctx context.Context, profile *model.Profile) error

	// SetAdmin は管理者フラグを更新する。対象が存在しない場合はErrNotFoundを返す。
	SetAdmin(ctx context.Context, userID string, isAdmin bool) error
}

// PropertyRepository は物件データの永続化インターフェース。
type PropertyRepository interface {
	// FindByID は指定IDの物件を取得する。論理削除済みの物件も返す。
	// 見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Property, error)

	// ListActive は論理削除されていない物件をcreated_at降順で取得する。
	ListActive(ctx context.Context, limit, offset int) ([]*model.Property, error)

	// SearchByLocation はfull_locationの部分一致（大文字小文字を区別しない）で物件を検索する。
	SearchByLocation(ctx context.Context, query string, limit int) ([]*model.Property, error)

	// Create は物件を作成する。unique_codeが重複する場合はErrDuplicateを返す。
	Create(ctx context.Context, property *model.Property) error

	// Update は物件情報を更新する。対象が存在しないか論理削除済みの場合はErrNotFoundを返す。
	Update(ctx context.Context, property *model.Property) error

	// SoftDelete はdeleted_atを設定して物件を論理削除する。
	// 対象が存在しないか既に削除済みの場合はErrNotFoundを返す。
	SoftDelete(ctx context.Context, id string, at time.Time) error
}

// InquiryRepository は内見リクエストの永続化インターフェース。
type InquiryRepository interface {
	// FindByID は指定IDの問い合わせを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Inquiry, error)

	// Create は問い合わせを作成する。
	// 依頼者のプロフィールまたは物件が存在しない場合は*ReferenceErrorを返す。
	Create(ctx context.Context, inquiry *model.Inquiry) error

	// ListByUserWithProperty は指定ユーザーの問い合わせを物件情報付きでcreated_at降順に返す。
	ListByUserWithProperty(ctx context.Context, userID string) ([]model.InquiryWithProperty, error)

	// ListWithPropertyAndProfile は全問い合わせを物件情報・依頼者プロフィール付きでcreated_at降順に返す。
	// statusがnilの場合は全件を返す。
	ListWithPropertyAndProfile(ctx context.Context, status *model.InquiryStatus) ([]model.InquiryWithPropertyAndProfile, error)

	// Decide はpending状態の問い合わせを終端状態に遷移させる。
	// 条件付き更新で、対象がpendingでなかった場合はfalseを返す。
	Decide(ctx context.Context, decision Decision) (bool, error)
}

// Decision は問い合わせの状態遷移パラメータ。
// AssignedDatetimeとNotesはnilの場合NULLとして保存される。
// KeepAssignedDatetimeがtrueの場合はadmin_assigned_datetimeを更新しない。
type Decision struct {
	InquiryID            string
	Status               model.InquiryStatus
	AssignedDatetime     *time.Time
	KeepAssignedDatetime bool
	Notes                *string
	DecidedAt            time.Time
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
