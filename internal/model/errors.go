// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
// Errには原因となった下位エラーを保持でき、errors.Is/Asで辿れる。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, inquiry, property, system
	Action   string // ユーザー向け対処方法
	Err      error  // 原因（任意）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// 定義済みエラーコード
const (
	ErrCodeValidation            = "VALIDATION_ERROR"
	ErrCodeInvalidStatusFilter   = "INVALID_STATUS_FILTER"
	ErrCodeInvalidDatetime       = "INVALID_DATETIME"
	ErrCodeDuplicateAccount      = "DUPLICATE_ACCOUNT"
	ErrCodeAccountNotFound       = "ACCOUNT_NOT_FOUND"
	ErrCodeProfileNotFound       = "PROFILE_NOT_FOUND"
	ErrCodePropertyNotFound      = "PROPERTY_NOT_FOUND"
	ErrCodeInquiryNotFound       = "INQUIRY_NOT_FOUND"
	ErrCodeAuthenticationFailed  = "AUTHENTICATION_FAILED"
	ErrCodeEmailNotConfirmed     = "EMAIL_NOT_CONFIRMED"
	ErrCodeInvalidToken          = "INVALID_TOKEN"
	ErrCodeServiceUnavailable    = "SERVICE_UNAVAILABLE"
	ErrCodeInquiryAlreadyDecided = "INQUIRY_ALREADY_DECIDED"
	ErrCodeProfileExists         = "PROFILE_EXISTS"
	ErrCodeProfileBootstrap      = "PROFILE_BOOTSTRAP_FAILED"
	ErrCodeUnauthorized          = "UNAUTHORIZED"
	ErrCodeForbidden             = "FORBIDDEN"
	ErrCodeUnsafeMediaURL        = "UNSAFE_MEDIA_URL"
)

// ErrorKind はエラーの分類を表す。
type ErrorKind string

const (
	KindValidation       ErrorKind = "validation"
	KindDuplicateAccount ErrorKind = "duplicate_account"
	KindNotFound         ErrorKind = "not_found"
	KindAuthentication   ErrorKind = "authentication"
	KindTransient        ErrorKind = "transient"
	KindPartialFailure   ErrorKind = "partial_failure"
	KindConflict         ErrorKind = "conflict"
	KindForbidden        ErrorKind = "forbidden"
	KindInternal         ErrorKind = "internal"
)

// codeKinds はエラーコードから分類へのマッピング。
var codeKinds = map[string]ErrorKind{
	ErrCodeValidation:            KindValidation,
	ErrCodeInvalidStatusFilter:   KindValidation,
	ErrCodeInvalidDatetime:       KindValidation,
	ErrCodeUnsafeMediaURL:        KindValidation,
	ErrCodeDuplicateAccount:      KindDuplicateAccount,
	ErrCodeAccountNotFound:       KindNotFound,
	ErrCodeProfileNotFound:       KindNotFound,
	ErrCodePropertyNotFound:      KindNotFound,
	ErrCodeInquiryNotFound:       KindNotFound,
	ErrCodeAuthenticationFailed:  KindAuthentication,
	ErrCodeEmailNotConfirmed:     KindAuthentication,
	ErrCodeInvalidToken:          KindAuthentication,
	ErrCodeUnauthorized:          KindAuthentication,
	ErrCodeServiceUnavailable:    KindTransient,
	ErrCodeProfileBootstrap:      KindPartialFailure,
	ErrCodeInquiryAlreadyDecided: KindConflict,
	ErrCodeProfileExists:         KindConflict,
	ErrCodeForbidden:             KindForbidden,
}

// KindOf はエラーの分類を返す。
// APIError以外のエラーはKindInternalとして扱う。nilの場合は空文字を返す。
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if kind, ok := codeKinds[apiErr.Code]; ok {
			return kind
		}
	}
	return KindInternal
}

// NewValidationError は入力値の検証エラーを生成する。
func NewValidationError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  message,
		Category: "validation",
		Action:   "Please correct the highlighted fields and try again.",
	}
}

// NewDuplicateAccountError は登録済みアカウントとの重複エラーを生成する。
func NewDuplicateAccountError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateAccount,
		Message:  message,
		Category: "auth",
		Action:   "Please try logging in instead.",
	}
}

// NewMobileNotRegisteredError は携帯番号に対応するプロフィールがない場合のエラーを生成する。
func NewMobileNotRegisteredError() *APIError {
	return &APIError{
		Code:     ErrCodeAccountNotFound,
		Message:  "No account found for this mobile number",
		Category: "auth",
		Action:   "Check the number or sign up for a new account.",
	}
}

// NewAuthenticationError は認証失敗エラーを生成する。
// Identity Store のメッセージをそのまま表示する場合にも使用する。
func NewAuthenticationError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeAuthenticationFailed,
		Message:  message,
		Category: "auth",
		Action:   "Check your credentials and try again.",
	}
}

// NewEmailNotConfirmedError はメール未確認のIdentityでログインしようとした場合のエラーを生成する。
func NewEmailNotConfirmedError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailNotConfirmed,
		Message:  "Please check your email and click the confirmation link",
		Category: "auth",
		Action:   "Open the confirmation email we sent you, then log in again.",
	}
}

// NewInvalidTokenError はパスワードリセット・メール確認トークンが無効な場合のエラーを生成する。
func NewInvalidTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidToken,
		Message:  "The link is invalid or has expired",
		Category: "auth",
		Action:   "Request a new link and try again.",
	}
}

// NewTransientError は外部サービスやネットワークの一時的な障害エラーを生成する。
// 自動リトライは行わない。
func NewTransientError(err error) *APIError {
	return &APIError{
		Code:     ErrCodeServiceUnavailable,
		Message:  "The service is temporarily unavailable",
		Category: "system",
		Action:   "Please check your connection and try again in a moment.",
		Err:      err,
	}
}

// NewProfileBootstrapError はクレデンシャル作成後のプロフィール作成失敗を表す。
// 登録自体は成功扱いのため、ログ出力にのみ使用する。
func NewProfileBootstrapError(userID string, err error) *APIError {
	return &APIError{
		Code:     ErrCodeProfileBootstrap,
		Message:  fmt.Sprintf("profile creation failed after account creation: %s", userID),
		Category: "auth",
		Action:   "Complete your profile from the onboarding page.",
		Err:      err,
	}
}

// NewProfileNotFoundError はプロフィールが存在しない場合のエラーを生成する。
func NewProfileNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeProfileNotFound,
		Message:  "Profile not found",
		Category: "auth",
		Action:   "Complete your profile from the onboarding page.",
	}
}

// NewProfileExistsError は既にプロフィールが作成済みの場合のエラーを生成する。
func NewProfileExistsError() *APIError {
	return &APIError{
		Code:     ErrCodeProfileExists,
		Message:  "Profile already exists",
		Category: "auth",
		Action:   "Update your existing profile instead.",
	}
}

// NewPropertyNotFoundError は物件が見つからない場合のエラーを生成する。
func NewPropertyNotFoundError(propertyID string) *APIError {
	return &APIError{
		Code:     ErrCodePropertyNotFound,
		Message:  fmt.Sprintf("Property not found: %s", propertyID),
		Category: "property",
		Action:   "Check the property ID.",
	}
}

// NewInquiryNotFoundError は問い合わせが見つからない場合のエラーを生成する。
func NewInquiryNotFoundError(inquiryID string) *APIError {
	return &APIError{
		Code:     ErrCodeInquiryNotFound,
		Message:  fmt.Sprintf("Inquiry not found: %s", inquiryID),
		Category: "inquiry",
		Action:   "Check the inquiry ID.",
	}
}

// NewInquiryAlreadyDecidedError は終端状態の問い合わせを再判定しようとした場合のエラーを生成する。
func NewInquiryAlreadyDecidedError(inquiryID string, status InquiryStatus) *APIError {
	return &APIError{
		Code:     ErrCodeInquiryAlreadyDecided,
		Message:  fmt.Sprintf("Inquiry %s has already been %s", inquiryID, status),
		Category: "inquiry",
		Action:   "Reload the inquiry list to see the latest status.",
	}
}

// NewInvalidStatusFilterError は無効なステータスフィルタのエラーを生成する。
func NewInvalidStatusFilterError(filter string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidStatusFilter,
		Message:  fmt.Sprintf("Invalid status filter: %s", filter),
		Category: "validation",
		Action:   "Use one of all, pending, approved or denied.",
	}
}

// NewInvalidDatetimeError は日付・時刻の組み立てに失敗した場合のエラーを生成する。
func NewInvalidDatetimeError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidDatetime,
		Message:  fmt.Sprintf("Invalid date or time: %s", reason),
		Category: "validation",
		Action:   "Use YYYY-MM-DD for the date and HH:MM for the time.",
	}
}

// NewUnsafeMediaURLError は物件画像URLが安全でない場合のエラーを生成する。
func NewUnsafeMediaURLError(rawURL string) *APIError {
	return &APIError{
		Code:     ErrCodeUnsafeMediaURL,
		Message:  fmt.Sprintf("Image URL is not allowed: %s", rawURL),
		Category: "validation",
		Action:   "Use a publicly reachable http(s) image URL.",
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Authentication required",
		Category: "auth",
		Action:   "Please log in.",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "Admin access required",
		Category: "auth",
		Action:   "Contact an administrator if you need access.",
	}
}
