// Package validation は入力値の検証ルールと、物件コードなどの表示用ヘルパーを提供する。
package validation

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

var (
	numericPattern    = regexp.MustCompile(`^\d+$`)
	mobilePattern     = regexp.MustCompile(`^\d{10}$`)
	emailPattern      = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	uniqueCodePattern = regexp.MustCompile(`^SKP-\d{8}-\d{4}$`)
	lettersPattern    = regexp.MustCompile(`[a-zA-Z]`)
	digitsPattern     = regexp.MustCompile(`\d`)
)

const (
	minPasswordLength    = 8
	strongPasswordLength = 12
)

// パスワード検証のメッセージ。
const (
	MsgPasswordTooShort  = "Password must be at least 8 characters"
	MsgPasswordNoLetters = "Password must contain letters"
	MsgPasswordNoDigits  = "Password must contain numbers"
)

// IsNumeric は文字列が1文字以上の数字のみで構成されるかを返す。
func IsNumeric(s string) bool {
	return numericPattern.MatchString(s)
}

// IsMobileNumber は文字列がちょうど10桁の数字かを返す。
// サインインの識別子判定にも使用する。
func IsMobileNumber(s string) bool {
	return mobilePattern.MatchString(s)
}

// IsEmail はメールアドレスの簡易形式チェックを行う。
func IsEmail(s string) bool {
	return emailPattern.MatchString(s)
}

// ValidatePassword はパスワードの形式を検証する。
// 問題があればfalseと最初に該当したメッセージを返す。
// 長さ、英字、数字の順に判定する。
func ValidatePassword(password string) (bool, string) {
	if len(password) < minPasswordLength {
		return false, MsgPasswordTooShort
	}
	if !lettersPattern.MatchString(password) {
		return false, MsgPasswordNoLetters
	}
	if !digitsPattern.MatchString(password) {
		return false, MsgPasswordNoDigits
	}
	return true, ""
}

// PasswordStrength はパスワード強度の区分。
type PasswordStrength string

const (
	PasswordWeak   PasswordStrength = "weak"
	PasswordMedium PasswordStrength = "medium"
	PasswordStrong PasswordStrength = "strong"
)

// GetPasswordStrength はパスワード強度を判定する。
// 8文字以上、12文字以上、大文字小文字の混在、数字、記号をそれぞれ1点として加算する。
func GetPasswordStrength(password string) PasswordStrength {
	score := 0
	if len(password) >= minPasswordLength {
		score++
	}
	if len(password) >= strongPasswordLength {
		score++
	}

	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasSymbol = true
		}
	}
	if hasUpper && hasLower {
		score++
	}
	if hasDigit {
		score++
	}
	if hasSymbol {
		score++
	}

	switch {
	case score <= 2:
		return PasswordWeak
	case score <= 3:
		return PasswordMedium
	default:
		return PasswordStrong
	}
}

// GenerateUniqueCode は物件の管理コードを SKP-YYYYMMDD-NNNN 形式で生成する。
// NNNNは0000〜9999の乱数。日付部分はnowのカレンダー日付を使用する。
func GenerateUniqueCode(now time.Time) string {
	return fmt.Sprintf("SKP-%s-%04d", now.Format("20060102"), rand.IntN(10000))
}

// IsUniqueCode は文字列が物件管理コードの形式かを返す。
func IsUniqueCode(s string) bool {
	return uniqueCodePattern.MatchString(s)
}

var inrPrinter = message.NewPrinter(language.MustParse("en-IN"))

// FormatPrice は価格をインドルピー表記（en-INの桁区切り、小数なし）に整形する。
func FormatPrice(price float64) string {
	return "₹" + inrPrinter.Sprint(number.Decimal(price, number.MaxFractionDigits(0)))
}

// NormalizeEmail はメールアドレスの前後空白を除去し小文字化する。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
