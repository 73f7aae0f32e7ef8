package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/estate/internal/model"
)

// PostgresInquiryRepo はPostgreSQLを使用した内見リクエストリポジトリ。
type PostgresInquiryRepo struct {
	db *sql.DB
}

// NewPostgresInquiryRepo はPostgresInquiryRepoを生成する。
func NewPostgresInquiryRepo(db *sql.DB) *PostgresInquiryRepo {
	return &PostgresInquiryRepo{db: db}
}

const inquiryColumnsWithAlias = `q.id, q.property_id, q.user_id, q.requested_visit_datetime, q.status,
	q.admin_assigned_datetime, q.admin_notes, q.created_at, q.updated_at`

// inquiryScanner はinquiries行の読み取り先を保持する。
type inquiryScanner struct {
	q          *model.Inquiry
	assignedAt sql.NullTime
	notes      sql.NullString
}

func (s *inquiryScanner) dest() []any {
	q := s.q
	return []any{
		&q.ID, &q.PropertyID, &q.UserID, &q.RequestedVisitDatetime, &q.Status,
		&s.assignedAt, &s.notes, &q.CreatedAt, &q.UpdatedAt,
	}
}

func (s *inquiryScanner) finish() {
	s.q.AdminAssignedDatetime = nullTimePtr(s.assignedAt)
	s.q.AdminNotes = nullStringPtr(s.notes)
}

// FindByID は指定IDの問い合わせを取得する。見つからない場合はnilを返す。
func (r *PostgresInquiryRepo) FindByID(ctx context.Context, id string) (*model.Inquiry, error) {
	inquiry := &model.Inquiry{}
	s := &inquiryScanner{q: inquiry}
	err := r.db.QueryRowContext(ctx,
		`SELECT `+inquiryColumnsWithAlias+` FROM inquiries q WHERE q.id = $1`,
		id,
	).Scan(s.dest()...)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("問い合わせの取得に失敗しました: %w", err)
	}
	s.finish()
	return inquiry, nil
}

// Create は問い合わせを作成する。
func (r *PostgresInquiryRepo) Create(ctx context.Context, inquiry *model.Inquiry) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO inquiries (id, property_id, user_id, requested_visit_datetime, status,
		        admin_assigned_datetime, admin_notes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		inquiry.ID, inquiry.PropertyID, inquiry.UserID, inquiry.RequestedVisitDatetime, inquiry.Status,
		inquiry.AdminAssignedDatetime, inquiry.AdminNotes, inquiry.CreatedAt, inquiry.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("問い合わせの作成に失敗しました: %w", mapPQError(err))
	}
	return nil
}

// ListByUserWithProperty は指定ユーザーの問い合わせを物件情報付きでcreated_at降順に返す。
func (r *PostgresInquiryRepo) ListByUserWithProperty(ctx context.Context, userID string) ([]model.InquiryWithProperty, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+inquiryColumnsWithAlias+`, `+propertyColumnsWithAlias+`
		 FROM inquiries q
		 JOIN properties p ON p.id = q.property_id
		 WHERE q.user_id = $1
		 ORDER BY q.created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("問い合わせ一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var results []model.InquiryWithProperty
	for rows.Next() {
		var row model.InquiryWithProperty
		qs := &inquiryScanner{q: &row.Inquiry}
		ps := newPropertyScanner(&row.Property)
		if err := rows.Scan(append(qs.dest(), ps.dest()...)...); err != nil {
			return nil, fmt.Errorf("問い合わせ行の読み取りに失敗しました: %w", err)
		}
		qs.finish()
		if err := ps.finish(); err != nil {
			return nil, err
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("問い合わせ一覧の走査に失敗しました: %w", err)
	}
	return results, nil
}

// ListWithPropertyAndProfile は全問い合わせを物件情報・依頼者プロフィール付きでcreated_at降順に返す。
func (r *PostgresInquiryRepo) ListWithPropertyAndProfile(ctx context.Context, status *model.InquiryStatus) ([]model.InquiryWithPropertyAndProfile, error) {
	query := `SELECT ` + inquiryColumnsWithAlias + `, ` + propertyColumnsWithAlias + `,
		        pr.id, pr.user_id, pr.name, pr.mobile, pr.email, pr.address, pr.is_admin, pr.created_at
		 FROM inquiries q
		 JOIN properties p ON p.id = q.property_id
		 JOIN profiles pr ON pr.user_id = q.user_id`
	var args []any
	if status != nil {
		query += ` WHERE q.status = $1`
		args = append(args, string(*status))
	}
	query += ` ORDER BY q.created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("管理者向け問い合わせ一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var results []model.InquiryWithPropertyAndProfile
	for rows.Next() {
		var row model.InquiryWithPropertyAndProfile
		qs := &inquiryScanner{q: &row.Inquiry}
		ps := newPropertyScanner(&row.Property)
		pr := &row.Profile
		dest := append(qs.dest(), ps.dest()...)
		dest = append(dest, &pr.ID, &pr.UserID, &pr.Name, &pr.Mobile, &pr.Email, &pr.Address, &pr.IsAdmin, &pr.CreatedAt)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("問い合わせ行の読み取りに失敗しました: %w", err)
		}
		qs.finish()
		if err := ps.finish(); err != nil {
			return nil, err
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("管理者向け問い合わせ一覧の走査に失敗しました: %w", err)
	}
	return results, nil
}

// Decide はpending状態の問い合わせを終端状態に遷移させる。
// WHERE status = 'pending' の条件付き更新により、同時に判定された場合は一方のみが成功する。
func (r *PostgresInquiryRepo) Decide(ctx context.Context, d Decision) (bool, error) {
	var (
		result sql.Result
		err    error
	)
	if d.KeepAssignedDatetime {
		result, err = r.db.ExecContext(ctx,
			`UPDATE inquiries
			 SET status = $2, admin_notes = $3, updated_at = $4
			 WHERE id = $1 AND status = 'pending'`,
			d.InquiryID, string(d.Status), d.Notes, d.DecidedAt,
		)
	} else {
		result, err = r.db.ExecContext(ctx,
			`UPDATE inquiries
			 SET status = $2, admin_assigned_datetime = $3, admin_notes = $4, updated_at = $5
			 WHERE id = $1 AND status = 'pending'`,
			d.InquiryID, string(d.Status), d.AssignedDatetime, d.Notes, d.DecidedAt,
		)
	}
	if err != nil {
		return false, fmt.Errorf("問い合わせの状態更新に失敗しました: %w", err)
	}
	if err := checkRowsAffected(result); err != nil {
		if err == ErrNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// compile-time interface check
var _ InquiryRepository = (*PostgresInquiryRepo)(nil)
