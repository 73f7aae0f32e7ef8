// Package security はアプリケーションのセキュリティ機能を提供する。
//
// Sanitizer は利用者や管理者が入力した自由記述テキストを保存前に無害化する。
// bluemondayの許可リストベースのポリシーで、氏名や住所、管理者メモなどは
// タグをすべて除去し、物件説明のみ基本的な書式タグを許可する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer は自由記述テキストの無害化インターフェース。
type TextSanitizer interface {
	// Text はすべてのHTMLタグを除去したプレーンテキストを返す。前後の空白も除去する。
	Text(raw string) string
	// RichText は基本的な書式タグ（p, br, strong, em, ul, ol, li）のみを残したHTMLを返す。
	RichText(raw string) string
}

// Sanitizer はTextSanitizerの実装。ポリシーはスレッドセーフに共有できる。
type Sanitizer struct {
	strict *bluemonday.Policy
	rich   *bluemonday.Policy
}

// NewSanitizer はSanitizerを生成する。
func NewSanitizer() *Sanitizer {
	rich := bluemonday.NewPolicy()
	rich.AllowElements("p", "br", "strong", "em", "ul", "ol", "li")

	return &Sanitizer{
		strict: bluemonday.StrictPolicy(),
		rich:   rich,
	}
}

// Text はHTMLタグを除去する。
// StrictPolicyはエンティティをエスケープするため、プレーンテキストとして保存できるよう元に戻す。
func (s *Sanitizer) Text(raw string) string {
	return strings.TrimSpace(html.UnescapeString(s.strict.Sanitize(raw)))
}

// RichText は書式タグ以外を除去する。
func (s *Sanitizer) RichText(raw string) string {
	return strings.TrimSpace(s.rich.Sanitize(raw))
}

// compile-time interface check
var _ TextSanitizer = (*Sanitizer)(nil)
