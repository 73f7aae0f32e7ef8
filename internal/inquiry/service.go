// Package inquiry は物件の内見リクエストのワークフローを提供する。
// 状態は pending から approved または denied へ一度だけ遷移する。
package inquiry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/estate/internal/metrics"
	"github.com/hitoshi/estate/internal/model"
	"github.com/hitoshi/estate/internal/repository"
	"github.com/hitoshi/estate/internal/security"
	"github.com/hitoshi/estate/internal/validation"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

// 管理者向け一覧のステータスフィルタで全件を表す値。
const FilterAll = "all"

// WarningPastAssignedDate は割り当て日時が過去の場合の注意文。判定自体は妨げない。
const WarningPastAssignedDate = "The assigned visit date is earlier than today"

// PropertyFinder は物件検索のインターフェース。
type PropertyFinder interface {
	FindByID(ctx context.Context, id string) (*model.Property, error)
}

// Metrics は内見ワークフローのメトリクス。
type Metrics interface {
	RecordInquiryCreated()
	RecordInquiryDecision(status string)
	RecordInquiryConflict()
}

// CreateRequest は内見リクエスト作成の入力。UserIDはセッションから設定する。
type CreateRequest struct {
	PropertyID string `json:"property_id" validate:"required"`
	UserID     string `json:"-" validate:"required"`
	VisitDate  string `json:"visit_date" validate:"required"`
	VisitTime  string `json:"visit_time" validate:"required"`
}

// ApproveRequest は承認の入力。割り当て日時は日付と時刻の両方が指定された場合のみ設定する。
type ApproveRequest struct {
	InquiryID    string `json:"-"`
	AssignedDate string `json:"assigned_date"`
	AssignedTime string `json:"assigned_time"`
	Notes        string `json:"notes" validate:"max=2000"`
}

// DenyRequest は却下の入力。
type DenyRequest struct {
	InquiryID string `json:"-"`
	Notes     string `json:"notes" validate:"max=2000"`
}

// DecisionResult は判定後の問い合わせと、判定を妨げない注意事項。
type DecisionResult struct {
	Inquiry  *model.Inquiry
	Warnings []string
}

// Service は内見リクエストのワークフローを提供する。
type Service struct {
	repo       repository.InquiryRepository
	properties PropertyFinder
	validator  *validation.Validator
	sanitizer  security.TextSanitizer
	metrics    Metrics
	location   *time.Location
	now        func() time.Time
}

// NewService はServiceを生成する。locは日付と時刻の解釈に使うタイムゾーン。
func NewService(
	repo repository.InquiryRepository,
	properties PropertyFinder,
	v *validation.Validator,
	sanitizer security.TextSanitizer,
	m Metrics,
	loc *time.Location,
) *Service {
	if m == nil {
		m = metrics.Nop{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		repo:       repo,
		properties: properties,
		validator:  v,
		sanitizer:  sanitizer,
		metrics:    m,
		location:   loc,
		now:        time.Now,
	}
}

// CreateInquiry はpending状態の内見リクエストを作成する。
// 同じ物件・同じ日時への重複や過去日時のチェックは行わない。
func (s *Service) CreateInquiry(ctx context.Context, req CreateRequest) (*model.Inquiry, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	visitAt, err := ParseDatetime(req.VisitDate, req.VisitTime, s.location)
	if err != nil {
		return nil, err
	}

	if _, err := uuid.Parse(req.PropertyID); err != nil {
		return nil, model.NewPropertyNotFoundError(req.PropertyID)
	}
	property, err := s.properties.FindByID(ctx, req.PropertyID)
	if err != nil {
		return nil, model.NewTransientError(fmt.Errorf("failed to find property: %w", err))
	}
	if property == nil || property.IsDeleted() {
		return nil, model.NewPropertyNotFoundError(req.PropertyID)
	}

	now := s.now()
	inquiry := &model.Inquiry{
		ID:                     uuid.New().String(),
		PropertyID:             req.PropertyID,
		UserID:                 req.UserID,
		RequestedVisitDatetime: visitAt,
		Status:                 model.InquiryStatusPending,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if err := s.repo.Create(ctx, inquiry); err != nil {
		return nil, createError(err, req)
	}

	s.metrics.RecordInquiryCreated()
	slog.Info("inquiry created",
		slog.String("inquiry_id", inquiry.ID),
		slog.String("property_id", inquiry.PropertyID),
		slog.String("user_id", inquiry.UserID),
	)
	return inquiry, nil
}

// createError は作成失敗を分類する。
// 依頼者のプロフィール未作成（オンボーディング未完了）は再試行しても解消しないためPROFILE_NOT_FOUNDにする。
func createError(err error, req CreateRequest) error {
	var ref *repository.ReferenceError
	if errors.As(err, &ref) {
		if strings.Contains(ref.Constraint, "property_id") {
			return model.NewPropertyNotFoundError(req.PropertyID)
		}
		return model.NewProfileNotFoundError()
	}
	return model.NewTransientError(fmt.Errorf("failed to create inquiry: %w", err))
}

// ListForUser は指定ユーザーの問い合わせを物件情報付きで新しい順に返す。
func (s *Service) ListForUser(ctx context.Context, userID string) ([]model.InquiryWithProperty, error) {
	items, err := s.repo.ListByUserWithProperty(ctx, userID)
	if err != nil {
		return nil, model.NewTransientError(fmt.Errorf("failed to list inquiries: %w", err))
	}

	// 他ユーザーの行は返さない
	filtered := items[:0]
	for _, item := range items {
		if item.UserID == userID {
			filtered = append(filtered, item)
		}
	}
	return filtered, nil
}

// ListForAdmin は全問い合わせを物件情報・依頼者プロフィール付きで新しい順に返す。
// filterは空文字列、all、pending、approved、deniedのいずれか。
func (s *Service) ListForAdmin(ctx context.Context, filter string) ([]model.InquiryWithPropertyAndProfile, error) {
	status, err := ParseStatusFilter(filter)
	if err != nil {
		return nil, err
	}

	items, err := s.repo.ListWithPropertyAndProfile(ctx, status)
	if err != nil {
		return nil, model.NewTransientError(fmt.Errorf("failed to list inquiries: %w", err))
	}
	return items, nil
}

// Approve はpendingの問い合わせを承認する。
// 割り当て日時が今日より前の場合は注意事項を返すが、承認は行う。
func (s *Service) Approve(ctx context.Context, req ApproveRequest) (*DecisionResult, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	var (
		assigned *time.Time
		warnings []string
	)
	if req.AssignedDate != "" && req.AssignedTime != "" {
		t, err := ParseDatetime(req.AssignedDate, req.AssignedTime, s.location)
		if err != nil {
			return nil, err
		}
		assigned = &t
		if isBeforeToday(t, s.now().In(s.location)) {
			warnings = append(warnings, WarningPastAssignedDate)
		}
	}

	inquiry, err := s.decide(ctx, repository.Decision{
		InquiryID:        req.InquiryID,
		Status:           model.InquiryStatusApproved,
		AssignedDatetime: assigned,
		Notes:            s.notes(req.Notes),
	})
	if err != nil {
		return nil, err
	}
	return &DecisionResult{Inquiry: inquiry, Warnings: warnings}, nil
}

// Deny はpendingの問い合わせを却下する。admin_assigned_datetimeは変更しない。
func (s *Service) Deny(ctx context.Context, req DenyRequest) (*DecisionResult, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	inquiry, err := s.decide(ctx, repository.Decision{
		InquiryID:            req.InquiryID,
		Status:               model.InquiryStatusDenied,
		KeepAssignedDatetime: true,
		Notes:                s.notes(req.Notes),
	})
	if err != nil {
		return nil, err
	}
	return &DecisionResult{Inquiry: inquiry}, nil
}

// decide は条件付き更新で状態を遷移させる。
// 更新対象がなかった場合は、存在しないか既に判定済みかを判別してエラーを返す。
func (s *Service) decide(ctx context.Context, d repository.Decision) (*model.Inquiry, error) {
	if _, err := uuid.Parse(d.InquiryID); err != nil {
		return nil, model.NewInquiryNotFoundError(d.InquiryID)
	}
	d.DecidedAt = s.now()

	ok, err := s.repo.Decide(ctx, d)
	if err != nil {
		return nil, model.NewTransientError(fmt.Errorf("failed to update inquiry: %w", err))
	}

	current, err := s.repo.FindByID(ctx, d.InquiryID)
	if err != nil {
		return nil, model.NewTransientError(fmt.Errorf("failed to find inquiry: %w", err))
	}
	if current == nil {
		return nil, model.NewInquiryNotFoundError(d.InquiryID)
	}

	if !ok {
		s.metrics.RecordInquiryConflict()
		slog.Warn("inquiry already decided",
			slog.String("inquiry_id", d.InquiryID),
			slog.String("status", string(current.Status)),
			slog.String("requested", string(d.Status)),
		)
		return nil, model.NewInquiryAlreadyDecidedError(d.InquiryID, current.Status)
	}

	s.metrics.RecordInquiryDecision(string(d.Status))
	slog.Info("inquiry decided",
		slog.String("inquiry_id", d.InquiryID),
		slog.String("status", string(d.Status)),
	)
	return current, nil
}

func (s *Service) notes(raw string) *string {
	cleaned := s.sanitizer.Text(raw)
	if cleaned == "" {
		return nil
	}
	return &cleaned
}

// ParseDatetime は日付（YYYY-MM-DD）と時刻（HH:MM）から日時を組み立てる。
func ParseDatetime(date, clock string, loc *time.Location) (time.Time, error) {
	date = strings.TrimSpace(date)
	clock = strings.TrimSpace(clock)

	d, err := time.ParseInLocation(dateLayout, date, loc)
	if err != nil {
		return time.Time{}, model.NewInvalidDatetimeError(fmt.Sprintf("date %q", date))
	}
	c, err := time.Parse(timeLayout, clock)
	if err != nil {
		return time.Time{}, model.NewInvalidDatetimeError(fmt.Sprintf("time %q", clock))
	}
	return time.Date(d.Year(), d.Month(), d.Day(), c.Hour(), c.Minute(), 0, 0, loc), nil
}

// ParseStatusFilter はステータスフィルタを解釈する。空文字列とallはnil（全件）を返す。
func ParseStatusFilter(filter string) (*model.InquiryStatus, error) {
	filter = strings.ToLower(strings.TrimSpace(filter))
	if filter == "" || filter == FilterAll {
		return nil, nil
	}
	status := model.InquiryStatus(filter)
	if !status.IsValid() {
		return nil, model.NewInvalidStatusFilterError(filter)
	}
	return &status, nil
}

func isBeforeToday(t, now time.Time) bool {
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	return t.Before(today)
}
