// Package model はドメインモデルを定義する。
package model

import "time"

// InquiryStatus は内見リクエストの状態を表す。
type InquiryStatus string

const (
	// InquiryStatusPending は管理者の判断待ち状態。初期状態。
	InquiryStatusPending InquiryStatus = "pending"
	// InquiryStatusApproved は承認済み状態。終端状態。
	InquiryStatusApproved InquiryStatus = "approved"
	// InquiryStatusDenied は却下済み状態。終端状態。
	InquiryStatusDenied InquiryStatus = "denied"
)

// IsValid は定義済みの状態かどうかを返す。
func (s InquiryStatus) IsValid() bool {
	switch s {
	case InquiryStatusPending, InquiryStatusApproved, InquiryStatusDenied:
		return true
	default:
		return false
	}
}

// IsTerminal は終端状態（approved/denied）かどうかを返す。
func (s InquiryStatus) IsTerminal() bool {
	return s == InquiryStatusApproved || s == InquiryStatusDenied
}

// CanTransitionTo は管理者操作による状態遷移が許可されるかを返す。
// 許可される遷移は pending → approved と pending → denied のみ。
func (s InquiryStatus) CanTransitionTo(next InquiryStatus) bool {
	return s == InquiryStatusPending && next.IsTerminal()
}

// Inquiry は物件の内見リクエスト1件を表す。
type Inquiry struct {
	ID                     string
	PropertyID             string
	UserID                 string
	RequestedVisitDatetime time.Time
	Status                 InquiryStatus
	AdminAssignedDatetime  *time.Time
	AdminNotes             *string
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// InquiryWithProperty は問い合わせと対象物件を結合したビュー。
type InquiryWithProperty struct {
	Inquiry
	Property Property
}

// InquiryWithPropertyAndProfile は問い合わせ、対象物件、依頼者プロフィールを結合したビュー。
// 管理者向け一覧で使用する。
type InquiryWithPropertyAndProfile struct {
	Inquiry
	Property Property
	Profile  Profile
}
